package indexer

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
)

var numPullWorkers = 8 // number of concurrent block downloads

// pullBlocks downloads the blocks at heights [from, to] with a bounded
// number of workers. The result is ordered by height.
func pullBlocks(ctx context.Context, source BlockSource, from, to int32) ([]*wire.MsgBlock, error) {
	if to < from {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	blocks := make([]*wire.MsgBlock, to-from+1)
	errChan := make(chan error, len(blocks))
	semaphore := make(chan struct{}, numPullWorkers)
	var wg sync.WaitGroup

	for height := from; height <= to; height++ {
		wg.Add(1)
		semaphore <- struct{}{} // Acquire semaphore
		go func(height int32) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release semaphore

			hash, err := source.BlockHashByHeight(ctx, height)
			if err != nil {
				errChan <- errors.Wrapf(err, "hash at height %d", height)
				cancel()
				return
			}
			block, err := source.Block(ctx, hash)
			if err != nil {
				errChan <- errors.Wrapf(err, "block at height %d", height)
				cancel()
				return
			}
			blocks[height-from] = block
		}(height)
	}

	wg.Wait()

	select {
	case err := <-errChan:
		logging.L.Err(err).Int32("from", from).Int32("to", to).Msg("failed to pull blocks")
		return nil, err
	default:
		// No errors
	}
	return blocks, nil
}

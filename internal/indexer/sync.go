package indexer

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/blockstore"
	"github.com/setavenger/coindb/internal/coinview"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

// ErrChainChanged is returned when the source switched branches while a
// batch was being connected. The next round picks up the new branch.
var ErrChainChanged = errors.New("source chain changed during sync")

// defaultBatchSize is the number of blocks downloaded ahead of connection.
const defaultBatchSize = 64

// Pruner drops rewind records that are too deep to be needed.
type Pruner interface {
	PruneRewindData(belowHeight int32) (int, error)
}

type Syncer struct {
	source BlockSource
	view   *coinview.CachedCoinView
	blocks *blockstore.Store
	pruner Pruner

	// retention is the number of rewind records kept up to the flushed tip,
	// 0 keeps all of them
	retention int32
	batchSize int32
}

func NewSyncer(
	source BlockSource,
	view *coinview.CachedCoinView,
	blocks *blockstore.Store,
	pruner Pruner,
	retention int32,
) *Syncer {
	return &Syncer{
		source:    source,
		view:      view,
		blocks:    blocks,
		pruner:    pruner,
		retention: retention,
		batchSize: defaultBatchSize,
	}
}

// SyncToTip follows the source to its best block. Cancellation is checked
// between blocks, a started SaveChanges or Rewind always runs to completion.
func (s *Syncer) SyncToTip(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		info, err := s.source.ChainInfo(ctx)
		if err != nil {
			return err
		}
		if err = s.rewindToFork(ctx, info.Blocks); err != nil {
			return err
		}

		tip, err := s.view.GetTipHash()
		if err != nil {
			return err
		}
		if tip.Height >= info.Blocks {
			logging.L.Debug().Int32("height", tip.Height).Msg("coin set at source tip")
			return nil
		}

		to := tip.Height + s.batchSize
		if to > info.Blocks {
			to = info.Blocks
		}
		blocks, err := pullBlocks(ctx, s.source, tip.Height+1, to)
		if err != nil {
			return err
		}
		for _, block := range blocks {
			if err = ctx.Err(); err != nil {
				return err
			}
			if block.Header.PrevBlock != tip.Hash {
				logging.L.Warn().
					Stringer("tip", tip).
					Stringer("prev", &block.Header.PrevBlock).
					Msg("block does not extend tip")
				return ErrChainChanged
			}
			if tip, err = s.connect(block, tip); err != nil {
				return err
			}
		}
	}
}

// rewindToFork undoes local blocks until the tip is part of the source chain.
func (s *Syncer) rewindToFork(ctx context.Context, remoteHeight int32) error {
	for {
		tip, err := s.view.GetTipHash()
		if err != nil {
			return err
		}
		// genesis is fixed by the chain parameters
		if tip.Height == 0 {
			return nil
		}
		if tip.Height <= remoteHeight {
			remote, err := s.source.BlockHashByHeight(ctx, tip.Height)
			if err != nil {
				return err
			}
			if remote.IsEqual(&tip.Hash) {
				return nil
			}
		}
		if err = ctx.Err(); err != nil {
			return err
		}

		newTip, err := s.view.Rewind()
		if errors.Is(err, database.ErrNoRewindData) {
			return errors.Wrapf(err, "reorg below height %d exceeds kept rewind data", tip.Height)
		}
		if err != nil {
			return err
		}
		if err = s.blocks.Delete(newTip, []chainhash.Hash{tip.Hash}); err != nil {
			return err
		}
		logging.L.Info().Stringer("from", tip).Stringer("to", newTip).Msg("block disconnected")
	}
}

func (s *Syncer) connect(block *wire.MsgBlock, tip *types.HashHeightPair) (*types.HashHeightPair, error) {
	start := time.Now()
	height := tip.Height + 1

	outputs, err := coinview.ConnectBlock(s.view, block, height)
	if err != nil {
		return nil, errors.Wrapf(err, "connect block %s", block.BlockHash())
	}
	newTip := types.NewHashHeightPair(block.BlockHash(), height)

	// the block store may run ahead of the coin store, never behind it
	if err = s.blocks.PutBlocks(newTip, []*wire.MsgBlock{block}); err != nil {
		return nil, err
	}
	if err = s.view.SaveChanges(outputs, tip, newTip); err != nil {
		if delErr := s.blocks.Delete(tip, []chainhash.Hash{newTip.Hash}); delErr != nil {
			logging.L.Err(delErr).Stringer("block", &newTip.Hash).Msg("failed to drop unconnected block")
		}
		return nil, err
	}

	flushedBefore := s.view.FlushedTip()
	if err = s.view.MaybeFlush(height); err != nil {
		return nil, err
	}
	if flushed := s.view.FlushedTip(); !flushed.Equal(flushedBefore) {
		if err = s.prune(flushed.Height); err != nil {
			return nil, err
		}
	}

	logging.L.Debug().
		Int32("height", height).
		Stringer("hash", &newTip.Hash).
		Int("count", len(outputs)).
		Dur("dur", time.Since(start)).
		Msg("block connected")
	return newTip, nil
}

func (s *Syncer) prune(flushedHeight int32) error {
	if s.retention <= 0 || s.pruner == nil {
		return nil
	}
	below := flushedHeight - s.retention + 1
	if below <= 0 {
		return nil
	}
	n, err := s.pruner.PruneRewindData(below)
	if err != nil {
		return errors.Wrap(err, "prune rewind data")
	}
	if n > 0 {
		logging.L.Info().Int("count", n).Int32("below", below).Msg("rewind data pruned")
	}
	return nil
}

// Run syncs every interval until ctx is done. Failed rounds are logged and
// retried on the next tick.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := s.SyncToTip(ctx)
		switch {
		case err == nil, errors.Is(err, ErrChainChanged):
		case errors.Is(err, context.Canceled):
			return
		default:
			logging.L.Err(err).Msg("sync round failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

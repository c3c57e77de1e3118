package node

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/coinview"
	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/database/storetest"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

func testOptions(t *testing.T, backend string) Options {
	dir := t.TempDir()
	return Options{
		Backend:        backend,
		CoinsPath:      dir + "/coins",
		BlocksPath:     dir + "/blocks",
		Genesis:        storetest.Hash(0),
		Cache:          coinview.Config{MaxSize: 1 << 20},
		StakeCacheSize: 16,
	}
}

func TestOpenCloseKeepsState(t *testing.T) {
	for _, backend := range []string{config.BackendLevelDB, config.BackendPebble, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			opts := testOptions(t, backend)
			n, err := Open(opts)
			require.NoError(t, err)
			require.Equal(t, backend, n.Backend())
			require.Nil(t, n.Syncer)

			op := storetest.OutPoint(7, 0)
			require.NoError(t, n.View.SaveChanges(
				[]*types.UnspentOutput{storetest.Coin(op, 10, 1)},
				storetest.Tip(0, 0), storetest.Tip(1, 1),
			))
			n.Stake.Set(storetest.Hash(1), []byte{0x01})

			// the block only lives in the cache until Close
			require.NoError(t, n.Close())

			n, err = Open(opts)
			require.NoError(t, err)
			defer n.Close()

			tip, err := n.Store.GetTipHash()
			require.NoError(t, err)
			require.True(t, storetest.Tip(1, 1).Equal(tip))

			res, err := n.View.FetchCoins([]wire.OutPoint{op})
			require.NoError(t, err)
			require.NotNil(t, res[op].Coins)
			require.Equal(t, int64(10), res[op].Coins.TxOut.Value)

			got, err := n.Stake.Get(storetest.Hash(1))
			require.NoError(t, err)
			require.Equal(t, []byte{0x01}, got)
		})
	}
}

func TestOpenAppliesTxIndexFlag(t *testing.T) {
	opts := testOptions(t, config.BackendLevelDB)
	on := true
	opts.TxIndex = &on
	n, err := Open(opts)
	require.NoError(t, err)
	require.True(t, n.Blocks.TxIndex())
	require.NoError(t, n.Close())

	// nil keeps the persisted flag
	opts.TxIndex = nil
	n, err = Open(opts)
	require.NoError(t, err)
	require.True(t, n.Blocks.TxIndex())
	require.NoError(t, n.Close())

	off := false
	opts.TxIndex = &off
	n, err = Open(opts)
	require.NoError(t, err)
	defer n.Close()
	require.False(t, n.Blocks.TxIndex())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(testOptions(t, "rocksdb"))
	require.Error(t, err)
}

// chainOn builds n blocks on top of prev, each with one coinbase.
func chainOn(prev chainhash.Hash, tag byte, n int) []*wire.MsgBlock {
	var blocks []*wire.MsgBlock
	for i := 0; i < n; i++ {
		block := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: prev, Nonce: uint32(tag)<<8 | uint32(i)})
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex}, []byte{tag, byte(i)}, nil))
		tx.AddTxOut(wire.NewTxOut(50, []byte{0x51}))
		block.AddTransaction(tx)
		blocks = append(blocks, block)
		prev = block.BlockHash()
	}
	return blocks
}

func TestOpenTrimsBlocksAboveCoinTip(t *testing.T) {
	opts := testOptions(t, config.BackendLevelDB)
	on := true
	opts.TxIndex = &on
	n, err := Open(opts)
	require.NoError(t, err)

	blocks := chainOn(opts.Genesis, 0, 5)
	tipAt := func(height int32) *types.HashHeightPair {
		if height == 0 {
			return types.NewHashHeightPair(opts.Genesis, 0)
		}
		return types.NewHashHeightPair(blocks[height-1].BlockHash(), height)
	}
	for h := int32(1); h <= 5; h++ {
		require.NoError(t, n.Blocks.PutBlocks(tipAt(h), []*wire.MsgBlock{blocks[h-1]}))
		require.NoError(t, n.View.SaveChanges(nil, tipAt(h-1), tipAt(h)))
		if h == 2 {
			require.NoError(t, n.View.Flush(true))
		}
	}

	// crash: blocks 3 to 5 never reach the coin store
	require.NoError(t, n.Blocks.Close())
	require.NoError(t, n.Store.Close())

	n, err = Open(opts)
	require.NoError(t, err)
	defer n.Close()

	tip, err := n.Blocks.GetTip()
	require.NoError(t, err)
	require.True(t, tipAt(2).Equal(tip))
	for i, b := range blocks {
		ok, err := n.Blocks.Exist(b.BlockHash())
		require.NoError(t, err)
		require.Equal(t, i < 2, ok)

		blockID, err := n.Blocks.GetBlockIDByTransactionID(b.Transactions[0].TxHash())
		require.NoError(t, err)
		require.Equal(t, i < 2, blockID != nil)
	}

	// the source moved to another branch above height 2
	branch := chainOn(blocks[1].BlockHash(), 1, 2)
	require.NoError(t, n.Blocks.PutBlocks(types.NewHashHeightPair(branch[1].BlockHash(), 4), branch))
	require.NoError(t, n.Blocks.ReIndex())
	count, err := n.Blocks.CountTxIndex()
	require.NoError(t, err)
	require.Equal(t, 4, count)
}

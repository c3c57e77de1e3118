package indexer

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/blockstore"
	"github.com/setavenger/coindb/internal/coinview"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/dblevel"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

var p2tr = append([]byte{txscript.OP_1, txscript.OP_DATA_32}, make([]byte, 32)...)

// fakeSource serves a chain kept in memory.
type fakeSource struct {
	mu    sync.Mutex
	chain []*wire.MsgBlock
}

func (f *fakeSource) ChainInfo(context.Context) (*ChainInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &ChainInfo{Blocks: int32(len(f.chain) - 1)}, nil
}

func (f *fakeSource) BlockHashByHeight(_ context.Context, height int32) (*chainhash.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if int(height) >= len(f.chain) {
		return nil, ErrBadStatus
	}
	hash := f.chain[height].BlockHash()
	return &hash, nil
}

func (f *fakeSource) Block(_ context.Context, hash *chainhash.Hash) (*wire.MsgBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.chain {
		if b.BlockHash() == *hash {
			return b, nil
		}
	}
	return nil, ErrBadStatus
}

func (f *fakeSource) set(chain []*wire.MsgBlock) {
	f.mu.Lock()
	f.chain = chain
	f.mu.Unlock()
}

func coinbase(height int32, tag byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: wire.MaxPrevOutIndex}, []byte{byte(height), tag}, nil))
	tx.AddTxOut(wire.NewTxOut(50, p2tr))
	return tx
}

// extend appends a block to chain. Every block spends the coinbase of the
// block before it when there is one.
func extend(chain []*wire.MsgBlock, tag byte) []*wire.MsgBlock {
	prev := chain[len(chain)-1]
	height := int32(len(chain))
	block := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: prev.BlockHash(), Nonce: uint32(tag)})
	block.AddTransaction(coinbase(height, tag))
	if height > 1 {
		spend := wire.NewMsgTx(wire.TxVersion)
		spend.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: prev.Transactions[0].TxHash()}, nil, nil))
		spend.AddTxOut(wire.NewTxOut(49, p2tr))
		block.AddTransaction(spend)
	}
	return append(append([]*wire.MsgBlock(nil), chain...), block)
}

type harness struct {
	source *fakeSource
	view   *coinview.CachedCoinView
	blocks *blockstore.Store
	store  *dblevel.Store
	syncer *Syncer
}

func newHarness(t *testing.T, genesis *wire.MsgBlock, cfg coinview.Config, retention int32) *harness {
	t.Helper()
	store, err := dblevel.OpenMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	hash := genesis.BlockHash()
	require.NoError(t, store.Initialize(&hash))

	view, err := coinview.NewCachedCoinView(store, cfg)
	require.NoError(t, err)

	blocks, err := blockstore.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { blocks.Close() })

	source := &fakeSource{chain: []*wire.MsgBlock{genesis}}
	return &harness{
		source: source,
		view:   view,
		blocks: blocks,
		store:  store,
		syncer: NewSyncer(source, view, blocks, store, retention),
	}
}

func genesisBlock() *wire.MsgBlock {
	block := wire.NewMsgBlock(&wire.BlockHeader{})
	block.AddTransaction(coinbase(0, 0))
	return block
}

func coinbaseOut(block *wire.MsgBlock) wire.OutPoint {
	return wire.OutPoint{Hash: block.Transactions[0].TxHash()}
}

func coinsOf(t *testing.T, view *coinview.CachedCoinView, op wire.OutPoint) *types.Coins {
	t.Helper()
	res, err := view.FetchCoins([]wire.OutPoint{op})
	require.NoError(t, err)
	return res[op].Coins
}

func TestSyncToTip(t *testing.T) {
	h := newHarness(t, genesisBlock(), coinview.Config{MaxSize: 64 << 20}, 0)
	chain := h.source.chain
	for i := 0; i < 5; i++ {
		chain = extend(chain, byte(i+1))
	}
	h.source.set(chain)

	require.NoError(t, h.syncer.SyncToTip(context.Background()))

	tip, err := h.view.GetTipHash()
	require.NoError(t, err)
	require.Equal(t, int32(5), tip.Height)
	require.Equal(t, chain[5].BlockHash(), tip.Hash)

	// only the newest coinbase is unspent
	require.Nil(t, coinsOf(t, h.view, coinbaseOut(chain[4])))
	cb := coinsOf(t, h.view, coinbaseOut(chain[5]))
	require.NotNil(t, cb)
	require.True(t, cb.IsCoinbase)
	require.Equal(t, uint32(5), cb.Height)

	blockTip, err := h.blocks.GetTip()
	require.NoError(t, err)
	require.True(t, tip.Equal(blockTip))

	// nothing to do at the tip
	require.NoError(t, h.syncer.SyncToTip(context.Background()))
}

func TestSyncFollowsReorg(t *testing.T) {
	h := newHarness(t, genesisBlock(), coinview.Config{MaxSize: 64 << 20, FlushEvery: 2}, 0)
	chain := h.source.chain
	for i := 0; i < 5; i++ {
		chain = extend(chain, byte(i+1))
	}
	h.source.set(chain)
	require.NoError(t, h.syncer.SyncToTip(context.Background()))

	// replace blocks 4 and 5 with a longer branch
	fork := chain[:4]
	for i := 0; i < 3; i++ {
		fork = extend(fork, byte(0x80+i))
	}
	h.source.set(fork)
	require.NoError(t, h.syncer.SyncToTip(context.Background()))

	tip, err := h.view.GetTipHash()
	require.NoError(t, err)
	require.Equal(t, int32(6), tip.Height)
	require.Equal(t, fork[6].BlockHash(), tip.Hash)

	require.Nil(t, coinsOf(t, h.view, coinbaseOut(chain[5])))
	require.NotNil(t, coinsOf(t, h.view, coinbaseOut(fork[6])))

	for _, stale := range chain[4:] {
		ok, err := h.blocks.Exist(stale.BlockHash())
		require.NoError(t, err)
		require.False(t, ok)
	}

	// the result matches a fresh sync of the winning branch
	fresh := newHarness(t, fork[0], coinview.Config{MaxSize: 64 << 20}, 0)
	fresh.source.set(fork)
	require.NoError(t, fresh.syncer.SyncToTip(context.Background()))
	require.NoError(t, h.view.Flush(true))
	require.NoError(t, fresh.view.Flush(true))
	require.Equal(t, dump(t, fresh.store), dump(t, h.store))
}

func TestSyncPrunesRewindData(t *testing.T) {
	h := newHarness(t, genesisBlock(), coinview.Config{MaxSize: 64 << 20, FlushEvery: 4}, 2)
	chain := h.source.chain
	for i := 0; i < 8; i++ {
		chain = extend(chain, byte(i+1))
	}
	h.source.set(chain)
	require.NoError(t, h.syncer.SyncToTip(context.Background()))

	// flushed at 8, records kept for 7 and 8
	minHeight, err := h.store.GetMinRewindHeight()
	require.NoError(t, err)
	require.Equal(t, int32(7), minHeight)
}

func TestSyncDropsBlockRejectedByCoinView(t *testing.T) {
	h := newHarness(t, genesisBlock(), coinview.Config{MaxSize: 64 << 20}, 0)
	chain := extend(extend(h.source.chain, 1), 2)

	// repeats the still unspent coinbase of block 2
	dup := wire.NewMsgBlock(&wire.BlockHeader{PrevBlock: chain[2].BlockHash(), Nonce: 99})
	dup.AddTransaction(chain[2].Transactions[0])
	h.source.set(append(chain, dup))

	err := h.syncer.SyncToTip(context.Background())
	require.ErrorIs(t, err, database.ErrOverwrite)

	tip, err := h.view.GetTipHash()
	require.NoError(t, err)
	require.True(t, types.NewHashHeightPair(chain[2].BlockHash(), 2).Equal(tip))

	ok, err := h.blocks.Exist(dup.BlockHash())
	require.NoError(t, err)
	require.False(t, ok)
	blocksTip, err := h.blocks.GetTip()
	require.NoError(t, err)
	require.True(t, tip.Equal(blocksTip))
}

func TestSyncStopsOnCancel(t *testing.T) {
	h := newHarness(t, genesisBlock(), coinview.Config{MaxSize: 64 << 20}, 0)
	chain := extend(h.source.chain, 1)
	h.source.set(chain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.syncer.SyncToTip(ctx)
	require.True(t, errors.Is(err, context.Canceled))

	tip, err := h.view.GetTipHash()
	require.NoError(t, err)
	require.Zero(t, tip.Height)
}

func dump(t *testing.T, store *dblevel.Store) map[wire.OutPoint]types.Coins {
	t.Helper()
	coins := make(map[wire.OutPoint]types.Coins)
	require.NoError(t, store.ForEachCoin(func(u *types.UnspentOutput) error {
		coins[u.OutPoint] = *u.Coins
		return nil
	}))
	return coins
}

// Package storetest holds the contract tests every CoinStore engine must pass.
package storetest

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

// Opener opens the engine under test at dir. Calling it twice with the same
// dir must reopen the same durable store.
type Opener func(t *testing.T, dir string) database.CoinStore

// Hash returns a recognisable test hash.
func Hash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	h[31] = 0xff - b
	return h
}

func OutPoint(tx byte, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: Hash(tx), Index: index}
}

func Coin(op wire.OutPoint, value int64, height uint32) *types.UnspentOutput {
	return types.NewUnspentOutput(op, types.NewCoins(height, false, wire.NewTxOut(value, []byte{0x51, byte(op.Index)})))
}

func Spent(op wire.OutPoint) *types.UnspentOutput {
	return types.NewUnspentOutput(op, nil)
}

func Tip(b byte, height int32) *types.HashHeightPair {
	return types.NewHashHeightPair(Hash(b), height)
}

// Run executes the whole contract suite.
func Run(t *testing.T, open Opener) {
	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"InitializeGenesis", testInitializeGenesis},
		{"ConnectRewindScenario", testConnectRewindScenario},
		{"TipMismatchLeavesStoreUnchanged", testTipMismatch},
		{"OverwriteRejectedAtomically", testOverwrite},
		{"DeleteThenInsertSameKey", testDeleteThenInsert},
		{"DuplicateInsertRejected", testDuplicateInsert},
		{"SpendAndRestore", testSpendAndRestore},
		{"MultiBlockBatchRewindsLIFO", testMultiBlockBatch},
		{"InvalidRewindChain", testInvalidRewindChain},
		{"MinRewindHeightAndPrune", testMinRewindAndPrune},
		{"StakeSideTable", testStake},
		{"ReopenKeepsCommittedState", testReopen},
		{"ForEachCoinOrdered", testForEachCoin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open)
		})
	}
}

func openInitialized(t *testing.T, open Opener, dir string) database.CoinStore {
	t.Helper()
	store := open(t, dir)
	genesis := Hash(0)
	require.NoError(t, store.Initialize(&genesis))
	return store
}

func fetchOne(t *testing.T, store database.CoinStore, op wire.OutPoint) *types.Coins {
	t.Helper()
	res, err := store.FetchCoins([]wire.OutPoint{op})
	require.NoError(t, err)
	require.Contains(t, res, op)
	return res[op].Coins
}

func requireTip(t *testing.T, store database.CoinStore, want *types.HashHeightPair) {
	t.Helper()
	tip, err := store.GetTipHash()
	require.NoError(t, err)
	require.True(t, want.Equal(tip), "tip %s, want %s", tip, want)
}

// connect writes one block creating created and spending spent (with their
// previous values) on top of the current tip.
func connect(
	t *testing.T,
	store database.CoinStore,
	from, to *types.HashHeightPair,
	created []*types.UnspentOutput,
	spent []*types.UnspentOutput,
) error {
	t.Helper()
	rd := &types.RewindData{PreviousTip: *from}
	var batch []*types.UnspentOutput
	for _, out := range created {
		rd.OutputsToRemove = append(rd.OutputsToRemove, out.OutPoint)
		batch = append(batch, out)
	}
	for _, out := range spent {
		rd.OutputsToRestore = append(rd.OutputsToRestore, out)
		batch = append(batch, Spent(out.OutPoint))
	}
	return store.SaveChanges(batch, from, to, []*types.RewindData{rd})
}

func testInitializeGenesis(t *testing.T, open Opener) {
	store := open(t, t.TempDir())
	defer store.Close()

	_, err := store.GetTipHash()
	require.ErrorIs(t, err, database.ErrNotInitialized)

	genesis := Hash(0)
	require.NoError(t, store.Initialize(&genesis))
	requireTip(t, store, Tip(0, 0))

	other := Hash(9)
	require.NoError(t, store.Initialize(&other))
	requireTip(t, store, Tip(0, 0))

	height, err := store.GetMinRewindHeight()
	require.NoError(t, err)
	require.Equal(t, int32(-1), height)
}

func testConnectRewindScenario(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	txA := OutPoint(0xa, 0)
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1), []*types.UnspentOutput{Coin(txA, 50, 1)}, nil))

	coins := fetchOne(t, store, txA)
	require.NotNil(t, coins)
	require.Equal(t, int64(50), coins.TxOut.Value)
	require.Equal(t, uint32(1), coins.Height)
	requireTip(t, store, Tip(1, 1))

	rd, err := store.GetRewindData(1)
	require.NoError(t, err)
	require.NotNil(t, rd)
	require.Equal(t, []wire.OutPoint{txA}, rd.OutputsToRemove)

	tip, err := store.Rewind()
	require.NoError(t, err)
	require.True(t, Tip(0, 0).Equal(tip))
	requireTip(t, store, Tip(0, 0))
	require.Nil(t, fetchOne(t, store, txA))

	rd, err = store.GetRewindData(1)
	require.NoError(t, err)
	require.Nil(t, rd)

	// stale caller still believes the tip is at height 1
	err = connect(t, store, Tip(1, 1), Tip(2, 2), []*types.UnspentOutput{Coin(OutPoint(0xb, 0), 1, 2)}, nil)
	require.ErrorIs(t, err, database.ErrTipMismatch)
	requireTip(t, store, Tip(0, 0))

	_, err = store.Rewind()
	require.ErrorIs(t, err, database.ErrNoRewindData)
	requireTip(t, store, Tip(0, 0))
}

func testTipMismatch(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	op := OutPoint(1, 0)
	err := connect(t, store, Tip(7, 0), Tip(1, 1), []*types.UnspentOutput{Coin(op, 10, 1)}, nil)
	require.ErrorIs(t, err, database.ErrTipMismatch)

	requireTip(t, store, Tip(0, 0))
	require.Nil(t, fetchOne(t, store, op))
	rd, err := store.GetRewindData(1)
	require.NoError(t, err)
	require.Nil(t, rd)
}

func testOverwrite(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	live := OutPoint(1, 0)
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1), []*types.UnspentOutput{Coin(live, 10, 1)}, nil))

	fresh := OutPoint(2, 0)
	err := connect(t, store, Tip(1, 1), Tip(2, 2),
		[]*types.UnspentOutput{Coin(fresh, 5, 2), Coin(live, 99, 2)}, nil)
	require.ErrorIs(t, err, database.ErrOverwrite)

	requireTip(t, store, Tip(1, 1))
	require.Nil(t, fetchOne(t, store, fresh))
	require.Equal(t, int64(10), fetchOne(t, store, live).TxOut.Value)
	rd, err := store.GetRewindData(2)
	require.NoError(t, err)
	require.Nil(t, rd)
}

func testDeleteThenInsert(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	op := OutPoint(1, 0)
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1), []*types.UnspentOutput{Coin(op, 10, 1)}, nil))

	old := Coin(op, 10, 1)
	rd := &types.RewindData{
		PreviousTip:      *Tip(1, 1),
		OutputsToRemove:  []wire.OutPoint{op},
		OutputsToRestore: []*types.UnspentOutput{old},
	}
	batch := []*types.UnspentOutput{Coin(op, 20, 2), Spent(op)}
	require.NoError(t, store.SaveChanges(batch, Tip(1, 1), Tip(2, 2), []*types.RewindData{rd}))
	require.Equal(t, int64(20), fetchOne(t, store, op).TxOut.Value)

	_, err := store.Rewind()
	require.NoError(t, err)
	require.Equal(t, int64(10), fetchOne(t, store, op).TxOut.Value)
}

func testDuplicateInsert(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	op := OutPoint(1, 0)
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1), []*types.UnspentOutput{Coin(op, 10, 1)}, nil))

	rd := &types.RewindData{
		PreviousTip:      *Tip(1, 1),
		OutputsToRemove:  []wire.OutPoint{op},
		OutputsToRestore: []*types.UnspentOutput{Coin(op, 10, 1)},
	}
	batch := []*types.UnspentOutput{Spent(op), Coin(op, 20, 2), Coin(op, 30, 2)}
	err := store.SaveChanges(batch, Tip(1, 1), Tip(2, 2), []*types.RewindData{rd})
	require.ErrorIs(t, err, database.ErrOverwrite)

	requireTip(t, store, Tip(1, 1))
	require.Equal(t, int64(10), fetchOne(t, store, op).TxOut.Value)

	// a fresh key inserted twice is rejected the same way
	fresh := OutPoint(2, 0)
	err = store.SaveChanges([]*types.UnspentOutput{Coin(fresh, 1, 2), Coin(fresh, 2, 2)}, Tip(1, 1), Tip(2, 2),
		[]*types.RewindData{{PreviousTip: *Tip(1, 1), OutputsToRemove: []wire.OutPoint{fresh}}})
	require.ErrorIs(t, err, database.ErrOverwrite)
	require.Nil(t, fetchOne(t, store, fresh))
}

func testSpendAndRestore(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	a, b := OutPoint(1, 0), OutPoint(1, 1)
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1),
		[]*types.UnspentOutput{Coin(a, 10, 1), Coin(b, 11, 1)}, nil))

	c := OutPoint(2, 0)
	require.NoError(t, connect(t, store, Tip(1, 1), Tip(2, 2),
		[]*types.UnspentOutput{Coin(c, 21, 2)}, []*types.UnspentOutput{Coin(a, 10, 1)}))

	res, err := store.FetchCoins([]wire.OutPoint{a, b, c, OutPoint(9, 9)})
	require.NoError(t, err)
	require.Len(t, res, 4)
	require.True(t, res[a].IsSpent())
	require.False(t, res[b].IsSpent())
	require.False(t, res[c].IsSpent())
	require.True(t, res[OutPoint(9, 9)].IsSpent())

	_, err = store.Rewind()
	require.NoError(t, err)

	res, err = store.FetchCoins([]wire.OutPoint{a, b, c})
	require.NoError(t, err)
	require.True(t, Coin(a, 10, 1).Coins.Equal(res[a].Coins))
	require.True(t, Coin(b, 11, 1).Coins.Equal(res[b].Coins))
	require.True(t, res[c].IsSpent())
}

func testMultiBlockBatch(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	var (
		batch  []*types.UnspentOutput
		rewind []*types.RewindData
	)
	for h := int32(1); h <= 3; h++ {
		op := OutPoint(byte(h), 0)
		batch = append(batch, Coin(op, int64(h), uint32(h)))
		rewind = append(rewind, &types.RewindData{
			PreviousTip:     *Tip(byte(h-1), h-1),
			OutputsToRemove: []wire.OutPoint{op},
		})
	}
	require.NoError(t, store.SaveChanges(batch, Tip(0, 0), Tip(3, 3), rewind))

	minHeight, err := store.GetMinRewindHeight()
	require.NoError(t, err)
	require.Equal(t, int32(1), minHeight)

	for h := int32(3); h >= 1; h-- {
		require.NotNil(t, fetchOne(t, store, OutPoint(byte(h), 0)))
		tip, err := store.Rewind()
		require.NoError(t, err)
		require.True(t, Tip(byte(h-1), h-1).Equal(tip))
		require.Nil(t, fetchOne(t, store, OutPoint(byte(h), 0)))
	}

	_, err = store.Rewind()
	require.ErrorIs(t, err, database.ErrNoRewindData)
}

func testInvalidRewindChain(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	rd := &types.RewindData{PreviousTip: *Tip(0, 0)}
	err := store.SaveChanges(nil, Tip(0, 0), Tip(2, 2), []*types.RewindData{rd})
	require.ErrorIs(t, err, database.ErrInvalidBatch)
	requireTip(t, store, Tip(0, 0))
}

func testMinRewindAndPrune(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	for h := int32(1); h <= 5; h++ {
		op := OutPoint(byte(h), 0)
		require.NoError(t, connect(t, store, Tip(byte(h-1), h-1), Tip(byte(h), h),
			[]*types.UnspentOutput{Coin(op, 1, uint32(h))}, nil))
	}

	n, err := store.PruneRewindData(0)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = store.PruneRewindData(4)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	minHeight, err := store.GetMinRewindHeight()
	require.NoError(t, err)
	require.Equal(t, int32(4), minHeight)

	n, err = store.PruneRewindData(4)
	require.NoError(t, err)
	require.Zero(t, n)

	// coins are not touched by pruning
	require.NotNil(t, fetchOne(t, store, OutPoint(1, 0)))

	_, err = store.Rewind()
	require.NoError(t, err)
	_, err = store.Rewind()
	require.NoError(t, err)
	_, err = store.Rewind()
	require.ErrorIs(t, err, database.ErrNoRewindData)
	requireTip(t, store, Tip(3, 3))
}

func testStake(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	items := []*types.StakeItem{
		{BlockID: Hash(1), BlockStake: []byte{1, 2, 3}},
		{BlockID: Hash(2), BlockStake: []byte{4}},
	}
	require.NoError(t, store.PutStake(items))
	for _, item := range items {
		require.True(t, item.InStore)
	}
	// second put of stored items is a no-op
	require.NoError(t, store.PutStake(items))

	lookup := []*types.StakeItem{{BlockID: Hash(1)}, {BlockID: Hash(2)}, {BlockID: Hash(3)}}
	require.NoError(t, store.GetStake(lookup))
	require.True(t, lookup[0].InStore)
	require.Equal(t, []byte{1, 2, 3}, lookup[0].BlockStake)
	require.True(t, lookup[1].InStore)
	require.Equal(t, []byte{4}, lookup[1].BlockStake)
	require.False(t, lookup[2].InStore)
	require.Nil(t, lookup[2].BlockStake)

	// the stake table is outside the tip envelope
	requireTip(t, store, Tip(0, 0))
}

func testReopen(t *testing.T, open Opener) {
	dir := t.TempDir()
	store := openInitialized(t, open, dir)

	op := OutPoint(1, 0)
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1), []*types.UnspentOutput{Coin(op, 42, 1)}, nil))
	// failed batch must not survive the restart either
	err := connect(t, store, Tip(5, 5), Tip(6, 6), []*types.UnspentOutput{Coin(OutPoint(6, 0), 1, 6)}, nil)
	require.ErrorIs(t, err, database.ErrTipMismatch)
	require.NoError(t, store.Close())

	store = open(t, dir)
	defer store.Close()
	requireTip(t, store, Tip(1, 1))
	require.Equal(t, int64(42), fetchOne(t, store, op).TxOut.Value)
	require.Nil(t, fetchOne(t, store, OutPoint(6, 0)))

	rd, err := store.GetRewindData(1)
	require.NoError(t, err)
	require.NotNil(t, rd)
	require.True(t, Tip(0, 0).Equal(&rd.PreviousTip))
}

func testForEachCoin(t *testing.T, open Opener) {
	store := openInitialized(t, open, t.TempDir())
	defer store.Close()

	created := []*types.UnspentOutput{
		Coin(OutPoint(3, 0), 3, 1),
		Coin(OutPoint(1, 2), 12, 1),
		Coin(OutPoint(1, 0), 10, 1),
	}
	require.NoError(t, connect(t, store, Tip(0, 0), Tip(1, 1), created, nil))

	var seen []wire.OutPoint
	require.NoError(t, store.ForEachCoin(func(out *types.UnspentOutput) error {
		require.NotNil(t, out.Coins)
		seen = append(seen, out.OutPoint)
		return nil
	}))
	require.Equal(t, []wire.OutPoint{OutPoint(1, 0), OutPoint(1, 2), OutPoint(3, 0)}, seen)
}

package dbsqlite

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/database/storetest"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, dir string) database.CoinStore {
		store, err := OpenStore(dir)
		require.NoError(t, err)
		return store
	})
}

func TestConstraintMapsToOverwrite(t *testing.T) {
	store, err := OpenMemStore()
	require.NoError(t, err)
	defer store.Close()

	genesis := storetest.Hash(0)
	require.NoError(t, store.Initialize(&genesis))

	op := storetest.OutPoint(1, 0)
	out := types.NewUnspentOutput(op, types.NewCoins(1, true, wire.NewTxOut(5, nil)))
	rd := &types.RewindData{PreviousTip: *storetest.Tip(0, 0), OutputsToRemove: []wire.OutPoint{op}}
	require.NoError(t, store.SaveChanges([]*types.UnspentOutput{out}, storetest.Tip(0, 0), storetest.Tip(1, 1), []*types.RewindData{rd}))

	res, err := store.FetchCoins([]wire.OutPoint{op})
	require.NoError(t, err)
	require.True(t, res[op].Coins.IsCoinbase)
	require.Empty(t, res[op].Coins.TxOut.PkScript)

	rd2 := &types.RewindData{PreviousTip: *storetest.Tip(1, 1)}
	err = store.SaveChanges([]*types.UnspentOutput{out}, storetest.Tip(1, 1), storetest.Tip(2, 2), []*types.RewindData{rd2})
	require.ErrorIs(t, err, database.ErrOverwrite)
	require.True(t, isConstraint(errorsCause(t, store, out)))
}

// errorsCause replays the raw insert outside of the store to get the driver error.
func errorsCause(t *testing.T, store *Store, out *types.UnspentOutput) error {
	t.Helper()
	_, err := store.DB.Exec(
		`INSERT INTO coins(txid, vout, height, coinbase, amount, script) VALUES (?, ?, ?, ?, ?, ?)`,
		out.OutPoint.Hash[:], out.OutPoint.Index, 1, 1, 5, []byte{},
	)
	require.Error(t, err)
	return err
}

func TestReadsDoNotWaitForWriter(t *testing.T) {
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	genesis := storetest.Hash(0)
	require.NoError(t, store.Initialize(&genesis))

	// hold the write lock and the only writer connection
	tx, err := store.DB.Begin()
	require.NoError(t, err)
	defer tx.Rollback()
	_, err = tx.Exec(`DELETE FROM rewind`)
	require.NoError(t, err)

	op := storetest.OutPoint(1, 0)
	done := make(chan error, 1)
	go func() {
		_, err := store.FetchCoins([]wire.OutPoint{op})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("FetchCoins waited for the open write transaction")
	}

	_, err = store.Read.Exec(`DELETE FROM coins`)
	require.Error(t, err)
}

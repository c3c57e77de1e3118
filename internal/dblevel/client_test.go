package dblevel

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/database/storetest"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, dir string) database.CoinStore {
	store, err := OpenStore(dir)
	require.NoError(t, err)
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestMemStore(t *testing.T) {
	store, err := OpenMemStore()
	require.NoError(t, err)
	defer store.Close()

	genesis := storetest.Hash(0)
	require.NoError(t, store.Initialize(&genesis))

	op := storetest.OutPoint(1, 0)
	rd := &types.RewindData{PreviousTip: *storetest.Tip(0, 0)}
	err = store.SaveChanges([]*types.UnspentOutput{storetest.Coin(op, 7, 1)}, storetest.Tip(0, 0), storetest.Tip(1, 1), []*types.RewindData{rd})
	require.NoError(t, err)

	// the tip cache must not leak the internal pointer
	tip, err := store.GetTipHash()
	require.NoError(t, err)
	tip.Height = 99
	tip, err = store.GetTipHash()
	require.NoError(t, err)
	require.Equal(t, int32(1), tip.Height)
}

func TestCorruptRecordSurfacesSerializationError(t *testing.T) {
	store, err := OpenMemStore()
	require.NoError(t, err)
	defer store.Close()

	op := storetest.OutPoint(1, 0)
	require.NoError(t, store.DB.Put(database.KeyCoins(op), []byte{0x02}, nil))

	_, err = store.FetchCoins(nil)
	require.NoError(t, err)
	_, err = store.FetchCoins([]wire.OutPoint{op})
	require.ErrorIs(t, err, database.ErrSerialization)
}

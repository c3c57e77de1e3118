package main

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/database/storetest"
	"github.com/setavenger/coindb/internal/dblevel"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

func TestSummarise(t *testing.T) {
	store, err := dblevel.OpenMemStore()
	require.NoError(t, err)
	defer store.Close()
	genesis := storetest.Hash(0)
	require.NoError(t, store.Initialize(&genesis))

	s, err := Summarise(store)
	require.NoError(t, err)
	require.Equal(t, CoinSetSummary{}, *s)

	a, b := storetest.OutPoint(1, 0), storetest.OutPoint(2, 0)
	rd := &types.RewindData{PreviousTip: *storetest.Tip(0, 0), OutputsToRemove: []wire.OutPoint{a, b}}
	require.NoError(t, store.SaveChanges(
		[]*types.UnspentOutput{storetest.Coin(a, 7, 1), storetest.Coin(b, 8, 1)},
		storetest.Tip(0, 0), storetest.Tip(1, 1), []*types.RewindData{rd},
	))

	s, err = Summarise(store)
	require.NoError(t, err)
	require.Equal(t, CoinSetSummary{Coins: 2, TotalValue: 15, RewindRecs: 1}, *s)
}

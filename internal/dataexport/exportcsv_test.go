package dataexport

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/database/storetest"
	"github.com/setavenger/coindb/internal/dblevel"
	"github.com/setavenger/coindb/internal/types"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestExport(t *testing.T) {
	store, err := dblevel.OpenMemStore()
	require.NoError(t, err)
	defer store.Close()
	genesis := storetest.Hash(0)
	require.NoError(t, store.Initialize(&genesis))

	a, b := storetest.OutPoint(1, 0), storetest.OutPoint(1, 1)
	rd1 := &types.RewindData{PreviousTip: *storetest.Tip(0, 0), OutputsToRemove: []wire.OutPoint{a, b}}
	require.NoError(t, store.SaveChanges(
		[]*types.UnspentOutput{storetest.Coin(a, 10, 1), storetest.Coin(b, 20, 1)},
		storetest.Tip(0, 0), storetest.Tip(1, 1), []*types.RewindData{rd1},
	))
	rd2 := &types.RewindData{
		PreviousTip:      *storetest.Tip(1, 1),
		OutputsToRestore: []*types.UnspentOutput{storetest.Coin(a, 10, 1)},
	}
	require.NoError(t, store.SaveChanges(
		[]*types.UnspentOutput{storetest.Spent(a)},
		storetest.Tip(1, 1), storetest.Tip(2, 2), []*types.RewindData{rd2},
	))

	dir := t.TempDir()
	n, err := ExportCoins(store, filepath.Join(dir, "coins.csv"))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	coins := readCSV(t, filepath.Join(dir, "coins.csv"))
	require.Len(t, coins, 2)
	require.Equal(t, coinHeader, coins[0])
	require.Equal(t, b.Hash.String(), coins[1][0])
	require.Equal(t, "20", coins[1][4])

	n, err = ExportRewindData(store, filepath.Join(dir, "sub", "rewind.csv"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	rewind := readCSV(t, filepath.Join(dir, "sub", "rewind.csv"))
	// header, two removes at height 1, one restore at height 2
	require.Len(t, rewind, 4)
	require.Equal(t, []string{"1", "remove"}, []string{rewind[1][0], rewind[1][2]})
	require.Equal(t, []string{"2", "restore"}, []string{rewind[3][0], rewind[3][2]})
}

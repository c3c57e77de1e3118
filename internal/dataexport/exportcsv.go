package dataexport

import (
	"encoding/csv"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

// Source is the read side of a coin store.
type Source interface {
	ForEachCoin(fn func(*types.UnspentOutput) error) error
	GetTipHash() (*types.HashHeightPair, error)
	GetMinRewindHeight() (int32, error)
	GetRewindData(height int32) (*types.RewindData, error)
}

func createCSV(path string) (*os.File, *csv.Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, nil, err
	}
	logging.L.Info().Msgf("Writing to %s", path)
	file, err := os.Create(path)
	if err != nil {
		logging.L.Err(err).Msg("failed creating file")
		return nil, nil, err
	}
	return file, csv.NewWriter(file), nil
}

func writeToCSV(path string, records [][]string) error {
	file, writer, err := createCSV(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return writer.WriteAll(records)
}

/* Coins */

var coinHeader = []string{
	"txid",
	"vout",
	"height",
	"coinbase",
	"value",
	"scriptPubKey",
}

func coinToRecord(out *types.UnspentOutput) []string {
	return []string{
		out.OutPoint.Hash.String(),
		strconv.FormatUint(uint64(out.OutPoint.Index), 10),
		strconv.FormatUint(uint64(out.Coins.Height), 10),
		strconv.FormatBool(out.Coins.IsCoinbase),
		strconv.FormatInt(out.Coins.TxOut.Value, 10),
		hex.EncodeToString(out.Coins.TxOut.PkScript),
	}
}

// ExportCoins streams the live coin set in key order and returns the number
// of rows written.
func ExportCoins(src Source, path string) (int, error) {
	file, writer, err := createCSV(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	if err = writer.Write(coinHeader); err != nil {
		return 0, err
	}
	var n int
	err = src.ForEachCoin(func(out *types.UnspentOutput) error {
		n++
		return writer.Write(coinToRecord(out))
	})
	if err != nil {
		logging.L.Err(err).Msg("error exporting coins")
		return 0, err
	}
	writer.Flush()
	return n, writer.Error()
}

/* Rewind data */

func convertRewindDataToRecords(data []*types.RewindData) [][]string {
	records := [][]string{{
		"height",
		"previousTip",
		"kind",
		"txid",
		"vout",
		"coinHeight",
		"coinbase",
		"value",
		"scriptPubKey",
	}}
	for _, rd := range data {
		height := strconv.FormatInt(int64(rd.Height()), 10)
		prev := rd.PreviousTip.Hash.String()
		for _, op := range rd.OutputsToRemove {
			records = append(records, []string{
				height, prev, "remove",
				op.Hash.String(), strconv.FormatUint(uint64(op.Index), 10),
				"", "", "", "",
			})
		}
		for _, out := range rd.OutputsToRestore {
			records = append(records, append([]string{height, prev, "restore"}, coinToRecord(out)...))
		}
	}
	return records
}

// ExportRewindData writes every kept rewind record, oldest first, and
// returns the number of records exported.
func ExportRewindData(src Source, path string) (int, error) {
	minHeight, err := src.GetMinRewindHeight()
	if err != nil {
		return 0, err
	}
	tip, err := src.GetTipHash()
	if err != nil {
		return 0, err
	}

	var data []*types.RewindData
	if minHeight >= 0 {
		for h := minHeight; h <= tip.Height; h++ {
			rd, err := src.GetRewindData(h)
			if err != nil {
				return 0, errors.Wrapf(err, "rewind data at height %d", h)
			}
			if rd != nil {
				data = append(data, rd)
			}
		}
	}
	return len(data), writeToCSV(path, convertRewindDataToRecords(data))
}

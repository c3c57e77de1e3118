package dataexport

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/setavenger/coindb/internal/logging"
)

// ExportAll writes the coin set and the rewind ledger into dir, file names
// carry the export timestamp.
func ExportAll(src Source, dir string) error {
	logging.L.Info().Msg("Exporting data")
	timestamp := time.Now().Unix()

	logging.L.Info().Msg("Exporting coins")
	n, err := ExportCoins(src, filepath.Join(dir, fmt.Sprintf("coins-%d.csv", timestamp)))
	if err != nil {
		return err
	}
	logging.L.Info().Int("count", n).Msg("Finished coins")

	logging.L.Info().Msg("Exporting rewind data")
	n, err = ExportRewindData(src, filepath.Join(dir, fmt.Sprintf("rewind-%d.csv", timestamp)))
	if err != nil {
		return err
	}
	logging.L.Info().Int("count", n).Msg("Finished rewind data")

	logging.L.Info().Msg("Export Done")
	return nil
}

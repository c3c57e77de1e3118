package main

import (
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/dataexport"
	"github.com/spf13/cobra"
)

var (
	rewindBlocks int
	pruneKeep    int32
	reindexAfter bool
	exportDir    string
)

func init() {
	rewindCmd.Flags().IntVar(&rewindBlocks, "blocks", 1, "Number of blocks to undo")
	pruneCmd.Flags().Int32Var(&pruneKeep, "keep", 288, "Number of rewind records to keep below and including the tip")
	txIndexCmd.Flags().BoolVar(&reindexAfter, "reindex", true, "Rebuild the index right after changing the flag")
	exportCmd.Flags().StringVar(&exportDir, "out", "", "Export directory (default: datadir/data-export)")
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show tip, rewind range and transaction index state",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		tip, err := n.Store.GetTipHash()
		if err != nil {
			return err
		}
		minHeight, err := n.Store.GetMinRewindHeight()
		if err != nil {
			return err
		}
		entries, err := n.Blocks.CountTxIndex()
		if err != nil {
			return err
		}

		fmt.Printf("Network:           %s\n", config.ChainToString(config.Chain))
		fmt.Printf("Backend:           %s\n", n.Backend())
		fmt.Printf("Tip:               %s (height %d)\n", tip.Hash, tip.Height)
		if minHeight < 0 {
			fmt.Println("Rewind data:       none")
		} else {
			fmt.Printf("Rewind data:       heights %d-%d\n", minHeight, tip.Height)
		}
		fmt.Printf("Transaction index: %t (%d entries)\n", n.Blocks.TxIndex(), entries)
		return nil
	},
}

var rewindCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Undo blocks from the tip",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rewindBlocks <= 0 {
			return errors.New("--blocks must be greater than 0")
		}
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		for i := 0; i < rewindBlocks; i++ {
			tip, err := n.View.GetTipHash()
			if err != nil {
				return err
			}
			if tip.Height == 0 {
				fmt.Println("Reached genesis")
				return nil
			}
			newTip, err := n.View.Rewind()
			if err != nil {
				return errors.Wrapf(err, "rewind of block at height %d", tip.Height)
			}
			if err = n.Blocks.Delete(newTip, []chainhash.Hash{tip.Hash}); err != nil {
				return err
			}
			fmt.Printf("Undid block %s, tip is now height %d\n", tip.Hash, newTip.Height)
		}
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop rewind records deeper than --keep blocks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneKeep <= 0 {
			return errors.New("--keep must be greater than 0")
		}
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		tip, err := n.Store.GetTipHash()
		if err != nil {
			return err
		}
		pruned, err := n.Store.PruneRewindData(tip.Height - pruneKeep + 1)
		if err != nil {
			return err
		}
		fmt.Printf("Pruned %d rewind records\n", pruned)
		return nil
	},
}

var txIndexCmd = &cobra.Command{
	Use:       "txindex on|off",
	Short:     "Switch the transaction index",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		if err = n.Blocks.SetTxIndex(args[0] == "on"); err != nil {
			return err
		}
		if reindexAfter {
			return n.Blocks.ReIndex()
		}
		fmt.Println("Flag stored, run reindex to update the entries")
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Drop and rebuild the transaction index",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		if err = n.Blocks.ReIndex(); err != nil {
			return err
		}
		entries, err := n.Blocks.CountTxIndex()
		if err != nil {
			return err
		}
		fmt.Printf("Transaction index holds %d entries\n", entries)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the coin set and the rewind data as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportDir == "" {
			exportDir = filepath.Join(config.BaseDirectory, "data-export")
		}
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		return dataexport.ExportAll(n.Store, exportDir)
	},
}

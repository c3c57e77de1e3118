package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/types"
	"github.com/spf13/cobra"
)

// CoinSetSummary aggregates the live coin set.
type CoinSetSummary struct {
	Coins      int
	Coinbase   int
	TotalValue int64
	RewindRecs int
}

// Summarise walks the coin set and the rewind ledger of store.
func Summarise(store database.CoinStore) (*CoinSetSummary, error) {
	var s CoinSetSummary
	err := store.ForEachCoin(func(out *types.UnspentOutput) error {
		s.Coins++
		if out.Coins.IsCoinbase {
			s.Coinbase++
		}
		s.TotalValue += out.Coins.TxOut.Value
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk coin set")
	}

	minHeight, err := store.GetMinRewindHeight()
	if err != nil {
		return nil, err
	}
	if minHeight < 0 {
		return &s, nil
	}
	tip, err := store.GetTipHash()
	if err != nil {
		return nil, err
	}
	for h := minHeight; h <= tip.Height; h++ {
		rd, err := store.GetRewindData(h)
		if err != nil {
			return nil, err
		}
		if rd != nil {
			s.RewindRecs++
		}
	}
	return &s, nil
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count coins, coin value and rewind records",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := openNode()
		if err != nil {
			return errors.Wrap(err, "error opening node")
		}
		defer n.Close()

		// the cache may hold blocks the store has not seen yet
		if err = n.View.Flush(true); err != nil {
			return err
		}
		s, err := Summarise(n.Store)
		if err != nil {
			return err
		}
		fmt.Printf("Coins:          %d (%d coinbase)\n", s.Coins, s.Coinbase)
		fmt.Printf("Total value:    %d sat\n", s.TotalValue)
		fmt.Printf("Rewind records: %d\n", s.RewindRecs)
		return nil
	},
}

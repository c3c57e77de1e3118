// database defines the interfaces for handling coin store operations
package database

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/setavenger/coindb/internal/types"
)

// CoinStore is the durable coin database contract shared by every storage
// engine. Mutations assume a single writer. The oldTip check in SaveChanges
// turns a second concurrent writer into ErrTipMismatch.
type CoinStore interface {
	// Initialize seeds the tip with (genesis, 0) when the store holds no tip.
	// An existing tip is never overwritten.
	Initialize(genesis *chainhash.Hash) error

	// GetTipHash returns the durable tip.
	GetTipHash() (*types.HashHeightPair, error)

	// FetchCoins looks up all outpoints in one read snapshot. The result has an
	// entry for every requested outpoint, spent or unknown ones carry nil Coins.
	FetchCoins(outpoints []wire.OutPoint) (map[wire.OutPoint]*types.UnspentOutput, error)

	// SaveChanges atomically moves the tip from oldTip to newTip, applies the
	// outputs (nil Coins deletes) and appends the rewind records.
	SaveChanges(outputs []*types.UnspentOutput, oldTip, newTip *types.HashHeightPair, rewindData []*types.RewindData) error

	// Rewind undoes the block at the tip and returns the new tip.
	Rewind() (*types.HashHeightPair, error)

	// GetRewindData returns the record undoing the block at height, nil if none.
	GetRewindData(height int32) (*types.RewindData, error)

	// GetMinRewindHeight returns the lowest height with a rewind record or -1.
	GetMinRewindHeight() (int32, error)

	// PruneRewindData drops every rewind record below height and returns how
	// many were removed.
	PruneRewindData(belowHeight int32) (int, error)

	// PutStake writes the items not yet in store and marks them InStore.
	PutStake(items []*types.StakeItem) error

	// GetStake fills BlockStake and InStore of the items found in store.
	GetStake(items []*types.StakeItem) error

	// ForEachCoin walks the live coin set in key order.
	ForEachCoin(fn func(*types.UnspentOutput) error) error

	Close() error
}

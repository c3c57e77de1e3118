// Package stake caches per-block stake metadata in front of the coin store's
// stake table. The data can always be recomputed from the block, so losing it
// is harmless and it never takes part in SaveChanges or Rewind.
package stake

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

// Backend is the stake part of database.CoinStore.
type Backend interface {
	PutStake(items []*types.StakeItem) error
	GetStake(items []*types.StakeItem) error
}

type StakeChainStore struct {
	backend Backend
	cache   *lru.Cache[chainhash.Hash, *types.StakeItem]

	// items set but not yet written
	mu      sync.Mutex
	pending map[chainhash.Hash]*types.StakeItem
}

func NewStakeChainStore(backend Backend, size int) (*StakeChainStore, error) {
	cache, err := lru.New[chainhash.Hash, *types.StakeItem](size)
	if err != nil {
		return nil, err
	}
	return &StakeChainStore{
		backend: backend,
		cache:   cache,
		pending: make(map[chainhash.Hash]*types.StakeItem),
	}, nil
}

// Set records the stake of a block. The write to the backend is
// opportunistic, a failure leaves the item pending for the next Flush.
func (s *StakeChainStore) Set(blockID chainhash.Hash, blockStake []byte) {
	item := &types.StakeItem{BlockID: blockID, BlockStake: append([]byte(nil), blockStake...)}
	s.cache.Add(blockID, item)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.PutStake([]*types.StakeItem{item}); err != nil {
		logging.L.Warn().Err(err).Stringer("block", blockID).Msg("stake write deferred")
		s.pending[blockID] = item
		return
	}
	delete(s.pending, blockID)
}

// Get returns the stake of a block or nil when neither cache nor store has it.
func (s *StakeChainStore) Get(blockID chainhash.Hash) ([]byte, error) {
	if item, ok := s.cache.Get(blockID); ok {
		return append([]byte(nil), item.BlockStake...), nil
	}

	item := &types.StakeItem{BlockID: blockID}
	if err := s.backend.GetStake([]*types.StakeItem{item}); err != nil {
		return nil, err
	}
	if !item.InStore {
		return nil, nil
	}
	s.cache.Add(blockID, item)
	return append([]byte(nil), item.BlockStake...), nil
}

// Flush pushes every pending item to the backend.
func (s *StakeChainStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return nil
	}
	items := make([]*types.StakeItem, 0, len(s.pending))
	for _, item := range s.pending {
		items = append(items, item)
	}
	if err := s.backend.PutStake(items); err != nil {
		return err
	}
	for _, item := range items {
		if item.InStore {
			delete(s.pending, item.BlockID)
		}
	}
	logging.L.Debug().Int("items", len(items)).Msg("stake items flushed")
	return nil
}

// Pending is the number of items not yet written.
func (s *StakeChainStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

package dbpebble

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

// Store keeps tip, coins, rewind ledger and stake table in one pebble keyspace.
// pebble has no exclusive transactions, batchSync serialises the
// read-check-commit sequence of the writers.
type Store struct {
	DB        *pebble.DB
	batchSync *sync.Mutex

	tipMu sync.RWMutex
	tip   *types.HashHeightPair
}

var _ database.CoinStore = (*Store)(nil)

func NewStore(db *pebble.DB) *Store {
	return &Store{
		DB:        db,
		batchSync: new(sync.Mutex),
	}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) setTip(tip *types.HashHeightPair) {
	s.tipMu.Lock()
	s.tip = tip
	s.tipMu.Unlock()
}

func (s *Store) Initialize(genesis *chainhash.Hash) error {
	s.batchSync.Lock()
	defer s.batchSync.Unlock()

	tip, err := readTip(s.DB)
	switch {
	case err == nil:
		logging.L.Debug().Stringer("tip", tip).Msg("coin store already initialized")
		s.setTip(tip)
		return nil
	case !errors.Is(err, database.ErrNotInitialized):
		return err
	}

	tip = types.NewHashHeightPair(*genesis, 0)
	if err = s.DB.Set(database.KeyTip(), tip.Serialise(), pebble.Sync); err != nil {
		logging.L.Err(err).Msg("failed to write genesis tip")
		return err
	}
	s.setTip(tip)
	logging.L.Info().Stringer("tip", tip).Msg("coin store initialized at genesis")
	return nil
}

func (s *Store) GetTipHash() (*types.HashHeightPair, error) {
	s.tipMu.RLock()
	tip := s.tip
	s.tipMu.RUnlock()
	if tip == nil {
		var err error
		if tip, err = readTip(s.DB); err != nil {
			return nil, err
		}
		s.setTip(tip)
	}
	cp := *tip
	return &cp, nil
}

func (s *Store) SaveChanges(
	outputs []*types.UnspentOutput,
	oldTip, newTip *types.HashHeightPair,
	rewindData []*types.RewindData,
) error {
	start := time.Now()
	if err := database.CheckRewindChain(oldTip, newTip, rewindData); err != nil {
		return err
	}
	deletes, inserts, err := database.PartitionChanges(outputs)
	if err != nil {
		return err
	}

	s.batchSync.Lock()
	defer s.batchSync.Unlock()

	current, err := readTip(s.DB)
	if err != nil {
		return err
	}
	if err = database.CheckTip(current, oldTip); err != nil {
		return err
	}

	b := s.DB.NewIndexedBatch()
	// dropping an uncommitted batch discards it
	defer b.Close()

	for _, op := range deletes {
		if err = b.Delete(database.KeyCoins(op), nil); err != nil {
			logging.L.Err(err).Msg("delete failed")
			return err
		}
	}

	deleted := database.NewDeletedSet(deletes)
	for _, out := range inserts {
		key, value, err := extractKeyValue(database.KCoins, out)
		if err != nil {
			return err
		}
		if !deleted.Has(out.OutPoint) {
			exists, err := has(b, key)
			if err != nil {
				return err
			}
			if exists {
				return errors.Wrapf(database.ErrOverwrite, "outpoint %s", out.OutPoint)
			}
		}
		if err = b.Set(key, value, nil); err != nil {
			logging.L.Err(err).Msg("insert failed")
			return err
		}
	}

	for _, rd := range rewindData {
		key, value, err := extractKeyValue(database.KRewind, rd)
		if err != nil {
			return err
		}
		if err = b.Set(key, value, nil); err != nil {
			logging.L.Err(err).Msg("insert failed")
			return err
		}
	}

	if err = b.Set(database.KeyTip(), newTip.Serialise(), nil); err != nil {
		return err
	}
	if err = b.Commit(pebble.Sync); err != nil {
		logging.L.Err(err).Msg("failed to commit coin changes")
		return err
	}
	s.setTip(newTip)

	logging.L.Trace().
		Int("deleted", len(deletes)).
		Int("inserted", len(inserts)).
		Int("rewind_records", len(rewindData)).
		Stringer("tip", newTip).
		Dur("duration", time.Since(start)).
		Msg("coin changes saved")
	return nil
}

func (s *Store) Rewind() (*types.HashHeightPair, error) {
	s.batchSync.Lock()
	defer s.batchSync.Unlock()

	current, err := readTip(s.DB)
	if err != nil {
		return nil, err
	}

	rd := &types.RewindData{}
	found, err := retrieve(s.DB, database.KeyRewind(current.Height), rd)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(database.ErrNoRewindData, "height %d", current.Height)
	}

	b := s.DB.NewIndexedBatch()
	defer b.Close()

	for _, op := range rd.OutputsToRemove {
		if err = b.Delete(database.KeyCoins(op), nil); err != nil {
			return nil, err
		}
	}
	removed := database.NewDeletedSet(rd.OutputsToRemove)
	for _, out := range rd.OutputsToRestore {
		key, value, err := extractKeyValue(database.KCoins, out)
		if err != nil {
			return nil, err
		}
		if !removed.Has(out.OutPoint) {
			exists, err := has(b, key)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, errors.Wrapf(database.ErrOverwrite, "restore of %s", out.OutPoint)
			}
		}
		if err = b.Set(key, value, nil); err != nil {
			return nil, err
		}
	}

	if err = b.Delete(database.KeyRewind(current.Height), nil); err != nil {
		return nil, err
	}
	newTip := rd.PreviousTip
	if err = b.Set(database.KeyTip(), newTip.Serialise(), nil); err != nil {
		return nil, err
	}
	if err = b.Commit(pebble.Sync); err != nil {
		logging.L.Err(err).Int32("height", current.Height).Msg("failed to commit rewind")
		return nil, err
	}
	s.setTip(&newTip)

	logging.L.Debug().Stringer("from", current).Stringer("to", &newTip).Msg("rewound coin store")
	tip := newTip
	return &tip, nil
}

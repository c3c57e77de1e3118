// Package dblevel is the goleveldb engine of the coin store.
package dblevel

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// getter is implemented by *leveldb.DB, *leveldb.Snapshot and *leveldb.Transaction.
type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

// Store keeps tip, coins, rewind ledger and stake table in one leveldb keyspace.
type Store struct {
	DB *leveldb.DB

	tipMu sync.RWMutex
	tip   *types.HashHeightPair
}

var _ database.CoinStore = (*Store)(nil)

// OpenDBConnection opens the leveldb instance at path.
func OpenDBConnection(path string) (*leveldb.DB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		BlockCacheCapacity: 64 * opt.MiB,
		WriteBuffer:        32 * opt.MiB,
		NoSync:             false,
	})
	if err != nil {
		logging.L.Err(err).Str("path", path).Msg("error opening db connection")
		return nil, errors.Wrapf(err, "open leveldb at %s", path)
	}
	return db, nil
}

// OpenStore opens or creates the store at path.
func OpenStore(path string) (*Store, error) {
	db, err := OpenDBConnection(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// OpenMemStore returns a store on volatile memory storage.
func OpenMemStore() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

func NewStore(db *leveldb.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// extractKeyValue serialises a pair under the given table prefix.
func extractKeyValue(prefix byte, pair types.Pair) ([]byte, []byte, error) {
	key, err := pair.SerialiseKey()
	if err != nil {
		logging.L.Err(err).Msg("error serialising key")
		return nil, nil, err
	}
	value, err := pair.SerialiseData()
	if err != nil {
		logging.L.Err(err).Msg("error serialising data")
		return nil, nil, err
	}
	return append([]byte{prefix}, key...), value, nil
}

// retrieve loads the value at key into pair. found is false on a missing key.
func retrieve(g getter, key []byte, pair types.Pair) (found bool, err error) {
	data, err := g.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		logging.L.Err(err).Msg("error reading key")
		return false, err
	}
	if err = pair.DeSerialiseKey(key[1:]); err != nil {
		logging.L.Err(err).Hex("key", key).Msg("error deserialising key")
		return false, err
	}
	if err = pair.DeSerialiseData(data); err != nil {
		logging.L.Err(err).Hex("key", key).Msg("error deserialising data")
		return false, err
	}
	return true, nil
}

func readTip(g getter) (*types.HashHeightPair, error) {
	data, err := g.Get(database.KeyTip(), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, database.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	return types.DeserialiseHashHeightPair(data)
}

func (s *Store) setTip(tip *types.HashHeightPair) {
	s.tipMu.Lock()
	s.tip = tip
	s.tipMu.Unlock()
}

func (s *Store) Initialize(genesis *chainhash.Hash) error {
	tr, err := s.DB.OpenTransaction()
	if err != nil {
		return err
	}
	defer tr.Discard()

	tip, err := readTip(tr)
	switch {
	case err == nil:
		logging.L.Debug().Stringer("tip", tip).Msg("coin store already initialized")
		s.setTip(tip)
		return nil
	case !errors.Is(err, database.ErrNotInitialized):
		return err
	}

	tip = types.NewHashHeightPair(*genesis, 0)
	if err = tr.Put(database.KeyTip(), tip.Serialise(), nil); err != nil {
		return err
	}
	if err = tr.Commit(); err != nil {
		logging.L.Err(err).Msg("failed to commit genesis tip")
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
	if tip != nil {
		cp := *tip
		return &cp, nil
	}

	tip, err := readTip(s.DB)
	if err != nil {
		return nil, err
	}
	s.setTip(tip)
	cp := *tip
	return &cp, nil
}

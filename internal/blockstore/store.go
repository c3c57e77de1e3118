// Package blockstore keeps raw blocks by hash and the optional
// transaction index (txid -> containing block) in goleveldb.
package blockstore

import (
	"bytes"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

/*

0x11 block     key = [11][32 blockHash]   val = wire serialised block
0x12 tip       key = [12]                 val = [32 blockHash][4 heightBE]
0x13 txindex   key = [13][32 txid]        val = [32 blockHash]
0x14 flag      key = [14]                 val = [1 txindex on]

*/

const (
	KBlock   = 0x11
	KTip     = 0x12
	KTxIndex = 0x13
	KFlag    = 0x14
)

// reindexBatchSize bounds the entries written per leveldb batch during ReIndex.
const reindexBatchSize = 10_000

func keyBlock(hash chainhash.Hash) []byte { return append([]byte{KBlock}, hash[:]...) }
func keyTxIndex(txid chainhash.Hash) []byte { return append([]byte{KTxIndex}, txid[:]...) }

// Store is the block repository.
type Store struct {
	DB    *leveldb.DB
	cache *blockCache

	// guards the flag and keeps ReIndex away from concurrent writers
	mu      sync.RWMutex
	txIndex bool
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{BlockCacheCapacity: 32 * opt.MiB})
	if err != nil {
		logging.L.Err(err).Str("path", path).Msg("error opening block store")
		return nil, errors.Wrapf(err, "open block store at %s", path)
	}
	return newStore(db)
}

func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

func newStore(db *leveldb.DB) (*Store, error) {
	s := &Store{DB: db}
	s.cache = newBlockCache(s.loadBlock)

	flag, err := db.Get([]byte{KFlag}, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		db.Close()
		return nil, err
	default:
		s.txIndex = len(flag) == 1 && flag[0] == 1
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) loadBlock(hash chainhash.Hash) (*wire.MsgBlock, error) {
	data, err := s.DB.Get(keyBlock(hash), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	block := new(wire.MsgBlock)
	if err = block.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrapf(types.ErrSerialization, "block %s: %v", hash, err)
	}
	return block, nil
}

// GetBlock returns nil for an unknown hash.
func (s *Store) GetBlock(hash chainhash.Hash) (*wire.MsgBlock, error) {
	return s.cache.lookup(hash)
}

func (s *Store) Exist(hash chainhash.Hash) (bool, error) {
	if _, ok := s.cache.get(hash); ok {
		return true, nil
	}
	return s.DB.Has(keyBlock(hash), nil)
}

// GetTip returns nil when no block was stored yet.
func (s *Store) GetTip() (*types.HashHeightPair, error) {
	data, err := s.DB.Get([]byte{KTip}, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return types.DeserialiseHashHeightPair(data)
}

func indexBlock(batch *leveldb.Batch, block *btcutil.Block) {
	blockHash := block.Hash()
	for _, tx := range block.Transactions() {
		batch.Put(keyTxIndex(*tx.Hash()), blockHash[:])
	}
}

// PutBlocks stores blocks and moves the tip in one batch.
func (s *Store) PutBlocks(tip *types.HashHeightPair, blocks []*wire.MsgBlock) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := new(leveldb.Batch)
	hashes := make([]chainhash.Hash, 0, len(blocks))
	for _, msg := range blocks {
		var buf bytes.Buffer
		if err := msg.Serialize(&buf); err != nil {
			return err
		}
		block := btcutil.NewBlock(msg)
		batch.Put(keyBlock(*block.Hash()), buf.Bytes())
		if s.txIndex {
			indexBlock(batch, block)
		}
		hashes = append(hashes, *block.Hash())
	}
	batch.Put([]byte{KTip}, tip.Serialise())

	if err := s.DB.Write(batch, nil); err != nil {
		logging.L.Err(err).Msg("error writing blocks")
		return err
	}
	for i, msg := range blocks {
		s.cache.add(hashes[i], msg)
	}
	return nil
}

// Delete drops blocks and their index entries and moves the tip.
func (s *Store) Delete(tip *types.HashHeightPair, hashes []chainhash.Hash) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := new(leveldb.Batch)
	for _, hash := range hashes {
		msg, err := s.GetBlock(hash)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		for _, tx := range btcutil.NewBlock(msg).Transactions() {
			// only drop entries pointing at this block
			if current, err := s.DB.Get(keyTxIndex(*tx.Hash()), nil); err == nil && bytes.Equal(current, hash[:]) {
				batch.Delete(keyTxIndex(*tx.Hash()))
			}
		}
		batch.Delete(keyBlock(hash))
	}
	batch.Put([]byte{KTip}, tip.Serialise())

	if err := s.DB.Write(batch, nil); err != nil {
		logging.L.Err(err).Msg("error deleting blocks")
		return err
	}
	for _, hash := range hashes {
		s.cache.remove(hash)
	}
	return nil
}

// GetBlockIDByTransactionID returns the block containing txid, nil when the
// index is off or does not know the transaction.
func (s *Store) GetBlockIDByTransactionID(txid chainhash.Hash) (*chainhash.Hash, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.txIndex {
		return nil, nil
	}

	data, err := s.DB.Get(keyTxIndex(txid), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return chainhash.NewHash(data)
}

func (s *Store) TxIndex() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txIndex
}

// SetTxIndex persists the flag. Index entries change only with ReIndex.
func (s *Store) SetTxIndex(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	value := []byte{0}
	if on {
		value[0] = 1
	}
	if err := s.DB.Put([]byte{KFlag}, value, nil); err != nil {
		return err
	}
	s.txIndex = on
	logging.L.Info().Bool("txindex", on).Msg("transaction index flag set")
	return nil
}

// ReIndex drops every index entry and, with the flag on, rebuilds them from
// the stored blocks. Only the chain ending at the tip is indexed, it is
// walked back along PrevBlock until a block is not stored.
func (s *Store) ReIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped, err := s.dropIndex()
	if err != nil {
		return err
	}
	logging.L.Info().Int("entries", dropped).Msg("transaction index dropped")
	if !s.txIndex {
		return nil
	}

	tip, err := s.GetTip()
	if err != nil || tip == nil {
		return err
	}

	var (
		blocks  int
		entries int
		batch   = new(leveldb.Batch)
		hash    = tip.Hash
	)
	for {
		msg, err := s.loadBlock(hash)
		if err != nil {
			return err
		}
		if msg == nil {
			break
		}
		indexBlock(batch, btcutil.NewBlock(msg))
		blocks++
		entries += len(msg.Transactions)

		if batch.Len() >= reindexBatchSize {
			if err = s.DB.Write(batch, nil); err != nil {
				return err
			}
			batch.Reset()
		}
		hash = msg.Header.PrevBlock
	}
	if batch.Len() > 0 {
		if err = s.DB.Write(batch, nil); err != nil {
			return err
		}
	}
	logging.L.Info().Int("blocks", blocks).Int("entries", entries).Msg("transaction index rebuilt")
	return nil
}

// TrimTo drops the blocks above tip, walking back from the stored tip. Blocks
// are written as soon as they connect while coins only reach disk on a cache
// flush, so after a crash the block store can be ahead of the coin store.
func (s *Store) TrimTo(tip *types.HashHeightPair) (int, error) {
	current, err := s.GetTip()
	if err != nil {
		return 0, err
	}
	if current == nil || current.Height <= tip.Height {
		return 0, nil
	}

	var hashes []chainhash.Hash
	hash := current.Hash
	for height := current.Height; height > tip.Height; height-- {
		msg, err := s.GetBlock(hash)
		if err != nil {
			return 0, err
		}
		if msg == nil {
			return 0, errors.Errorf("block %s at height %d is not stored", hash, height)
		}
		hashes = append(hashes, hash)
		hash = msg.Header.PrevBlock
	}
	if hash != tip.Hash {
		return 0, errors.Errorf("stored chain has %s at height %d, expected %s", hash, tip.Height, tip.Hash)
	}

	if err = s.Delete(tip, hashes); err != nil {
		return 0, err
	}
	logging.L.Info().
		Int("blocks", len(hashes)).
		Stringer("from", current).
		Stringer("to", tip).
		Msg("block store trimmed to coin tip")
	return len(hashes), nil
}

func (s *Store) dropIndex() (int, error) {
	iter := s.DB.NewIterator(util.BytesPrefix([]byte{KTxIndex}), nil)
	defer iter.Release()

	var n int
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
		n++
		if batch.Len() >= reindexBatchSize {
			if err := s.DB.Write(batch, nil); err != nil {
				return 0, err
			}
			batch.Reset()
		}
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if batch.Len() > 0 {
		if err := s.DB.Write(batch, nil); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// CountTxIndex returns the number of index entries on disk.
func (s *Store) CountTxIndex() (int, error) {
	iter := s.DB.NewIterator(util.BytesPrefix([]byte{KTxIndex}), nil)
	defer iter.Release()

	var n int
	for iter.Next() {
		n++
	}
	return n, iter.Error()
}

// ForEachTxIndex walks the index in txid order.
func (s *Store) ForEachTxIndex(fn func(txid, blockHash chainhash.Hash) error) error {
	iter := s.DB.NewIterator(util.BytesPrefix([]byte{KTxIndex}), nil)
	defer iter.Release()

	for iter.Next() {
		var txid, blockHash chainhash.Hash
		copy(txid[:], iter.Key()[1:])
		copy(blockHash[:], iter.Value())
		if err := fn(txid, blockHash); err != nil {
			return err
		}
	}
	return iter.Error()
}

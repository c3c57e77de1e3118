package blockstore

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
)

const maxCachedBlocks = 32

func newBlockCache(fillFn func(hash chainhash.Hash) (*wire.MsgBlock, error)) *blockCache {
	return &blockCache{
		lru:    lru.New(maxCachedBlocks),
		fillFn: fillFn,
	}
}

type blockCache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	fillFn func(hash chainhash.Hash) (*wire.MsgBlock, error)
	single singleflight.Group
}

// lookup returns nil without error for an unknown block.
func (c *blockCache) lookup(hash chainhash.Hash) (*wire.MsgBlock, error) {
	if b, ok := c.get(hash); ok {
		return b, nil
	}

	block, err := c.single.Do(hash.String(), func() (interface{}, error) {
		b, err := c.fillFn(hash)
		if err != nil {
			return nil, err
		}
		if b != nil {
			c.add(hash, b)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return block.(*wire.MsgBlock), nil
}

func (c *blockCache) get(hash chainhash.Hash) (*wire.MsgBlock, bool) {
	c.mu.Lock()
	block, ok := c.lru.Get(hash)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return block.(*wire.MsgBlock), true
}

func (c *blockCache) add(hash chainhash.Hash, block *wire.MsgBlock) {
	c.mu.Lock()
	c.lru.Add(hash, block)
	c.mu.Unlock()
}

func (c *blockCache) remove(hash chainhash.Hash) {
	c.mu.Lock()
	c.lru.Remove(hash)
	c.mu.Unlock()
}

// Package coinview holds the write-back cache in front of a coin store.
package coinview

import (
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

const (
	// outpointSize is the size of an outpoint on a 64-bit platform.
	outpointSize = 56

	// pointerSize is the size of a pointer on a 64-bit platform.
	pointerSize = 8

	// mapOverhead approximates the bytes per entry used by the map buckets
	// of the recency index.
	mapOverhead = 57

	// listOverhead is the list element the recency index keeps per entry.
	listOverhead = 48

	// entryOverhead is the fixed part of a cacheEntry.
	entryOverhead = 2*pointerSize + 8

	perEntrySize = mapOverhead + listOverhead + outpointSize + pointerSize + entryOverhead
)

// View is what block connection needs from a coin view.
type View interface {
	FetchCoins(outpoints []wire.OutPoint) (map[wire.OutPoint]*types.UnspentOutput, error)
}

type Config struct {
	// MaxSize is the memory budget of the cache in bytes.
	MaxSize uint64

	// FlushEvery forces a write back on every block height that is a
	// multiple of it. Zero disables the milestone.
	FlushEvery int32
}

// cacheEntry tracks one outpoint. original is the value the backend holds,
// coins the value as of the cache tip. Both nil means known absent.
type cacheEntry struct {
	coins    *types.Coins
	original *types.Coins
}

func (e *cacheEntry) dirty() bool {
	return !e.coins.Equal(e.original)
}

func (e *cacheEntry) size() uint64 {
	return e.coins.Size() + e.original.Size()
}

// CachedCoinView buffers coin changes of many blocks in memory and writes
// their net effect back to the store in one SaveChanges call. It assumes a
// single writer, reads may come from any goroutine.
type CachedCoinView struct {
	mu    sync.Mutex
	store database.CoinStore
	cfg   Config

	entries        *simplelru.LRU[wire.OutPoint, *cacheEntry]
	totalEntrySize uint64

	// pending rewind records of the blocks above flushedTip, oldest first
	pending     []*types.RewindData
	pendingSize uint64

	tip        *types.HashHeightPair
	flushedTip *types.HashHeightPair

	hits   uint64
	misses uint64
}

// NewCachedCoinView wraps an initialized store.
func NewCachedCoinView(store database.CoinStore, cfg Config) (*CachedCoinView, error) {
	initPrometheusMetrics()

	tip, err := store.GetTipHash()
	if err != nil {
		return nil, errors.Wrap(err, "load coin store tip")
	}
	// capacity is never the limit, eviction is driven by the byte estimate
	entries, err := simplelru.NewLRU[wire.OutPoint, *cacheEntry](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}

	flushed := *tip
	logging.L.Info().
		Uint64("max_size_mib", cfg.MaxSize/1024/1024).
		Int32("flush_every", cfg.FlushEvery).
		Stringer("tip", tip).
		Msg("coin cache ready")

	return &CachedCoinView{
		store:      store,
		cfg:        cfg,
		entries:    entries,
		tip:        tip,
		flushedTip: &flushed,
	}, nil
}

// totalSize is the estimated memory held by the cache. Lock must be held.
func (c *CachedCoinView) totalSize() uint64 {
	return uint64(c.entries.Len())*perEntrySize + c.totalEntrySize + c.pendingSize
}

func (c *CachedCoinView) hitRatio() float64 {
	totalLookups := c.hits + c.misses
	if totalLookups == 0 {
		return 100
	}
	return float64(c.hits) / float64(totalLookups) * 100
}

func (c *CachedCoinView) updateGauges() {
	prometheusCoinCacheEntries.Set(float64(c.entries.Len()))
	prometheusCoinCacheBytes.Set(float64(c.totalSize()))
}

func (c *CachedCoinView) addEntry(op wire.OutPoint, coins *types.Coins) *cacheEntry {
	e := &cacheEntry{coins: coins, original: coins}
	c.entries.Add(op, e)
	c.totalEntrySize += e.size()
	return e
}

func (c *CachedCoinView) setCoins(e *cacheEntry, coins *types.Coins) {
	c.totalEntrySize -= e.size()
	e.coins = coins
	c.totalEntrySize += e.size()
}

func (c *CachedCoinView) removeEntry(op wire.OutPoint, e *cacheEntry) {
	c.entries.Remove(op)
	c.totalEntrySize -= e.size()
}

// load brings every outpoint not yet cached in from the backend with one read.
func (c *CachedCoinView) load(outpoints []wire.OutPoint) error {
	var missing []wire.OutPoint
	for _, op := range outpoints {
		if !c.entries.Contains(op) {
			missing = append(missing, op)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	c.misses += uint64(len(missing))
	prometheusCoinCacheMisses.Add(float64(len(missing)))

	fetched, err := c.store.FetchCoins(missing)
	if err != nil {
		return err
	}
	for _, op := range missing {
		// a duplicate in missing is already in by now
		if c.entries.Contains(op) {
			continue
		}
		var coins *types.Coins
		if out, ok := fetched[op]; ok {
			coins = out.Coins
		}
		c.addEntry(op, coins)
	}
	return nil
}

// FetchCoins returns an entry for every outpoint, nil Coins for spent or
// unknown ones. Results reflect all saved blocks, flushed or not.
func (c *CachedCoinView) FetchCoins(outpoints []wire.OutPoint) (map[wire.OutPoint]*types.UnspentOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hits int
	for _, op := range outpoints {
		if c.entries.Contains(op) {
			hits++
		}
	}
	c.hits += uint64(hits)
	prometheusCoinCacheHits.Add(float64(hits))

	if err := c.load(outpoints); err != nil {
		return nil, err
	}

	result := make(map[wire.OutPoint]*types.UnspentOutput, len(outpoints))
	for _, op := range outpoints {
		// Get promotes the entry
		e, _ := c.entries.Get(op)
		result[op] = types.NewUnspentOutput(op, e.coins.Clone())
	}

	if err := c.enforceLimit(); err != nil {
		return nil, err
	}
	c.updateGauges()
	return result, nil
}

// SaveChanges applies the net outputs of the block at newTip on top of oldTip.
// Nil Coins spend.
func (c *CachedCoinView) SaveChanges(outputs []*types.UnspentOutput, oldTip, newTip *types.HashHeightPair) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := database.CheckTip(c.tip, oldTip); err != nil {
		return err
	}
	if newTip.Height != oldTip.Height+1 {
		return errors.Wrapf(database.ErrInvalidBatch, "block at %d does not follow %s", newTip.Height, oldTip)
	}

	ops := make([]wire.OutPoint, 0, len(outputs))
	for _, out := range outputs {
		ops = append(ops, out.OutPoint)
	}
	if err := c.load(ops); err != nil {
		return err
	}

	// value of every touched outpoint before this block, in first-touch order.
	// The batch is replayed on live, nothing is applied before it passes.
	var order []wire.OutPoint
	before := make(map[wire.OutPoint]*types.Coins, len(outputs))
	live := make(map[wire.OutPoint]bool, len(outputs))
	for _, out := range outputs {
		if _, seen := before[out.OutPoint]; !seen {
			e, _ := c.entries.Peek(out.OutPoint)
			before[out.OutPoint] = e.coins
			live[out.OutPoint] = e.coins != nil
			order = append(order, out.OutPoint)
		}
		if out.Coins != nil && live[out.OutPoint] {
			return errors.Wrapf(database.ErrOverwrite, "outpoint %s in block %s", out.OutPoint, newTip)
		}
		live[out.OutPoint] = out.Coins != nil
	}
	for _, out := range outputs {
		// Get promotes the entry
		e, _ := c.entries.Get(out.OutPoint)
		c.setCoins(e, out.Coins.Clone())
	}

	rd := &types.RewindData{PreviousTip: *oldTip}
	for _, op := range order {
		e, _ := c.entries.Peek(op)
		prev := before[op]
		if e.coins != nil {
			rd.OutputsToRemove = append(rd.OutputsToRemove, op)
		}
		if prev != nil {
			rd.OutputsToRestore = append(rd.OutputsToRestore, types.NewUnspentOutput(op, prev))
		}
	}
	c.pending = append(c.pending, rd)
	c.pendingSize += rewindSize(rd)

	tip := *newTip
	c.tip = &tip

	if err := c.enforceLimit(); err != nil {
		return err
	}
	c.updateGauges()
	return nil
}

func rewindSize(rd *types.RewindData) uint64 {
	size := uint64(types.SizeHashHeightPair + len(rd.OutputsToRemove)*outpointSize)
	for _, out := range rd.OutputsToRestore {
		size += outpointSize + pointerSize + out.Coins.Size()
	}
	return size
}

// Rewind undoes the block at the cache tip and returns the new tip.
func (c *CachedCoinView) Rewind() (*types.HashHeightPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.pending); n > 0 && c.pending[n-1].Height() == c.tip.Height {
		rd := c.pending[n-1]

		// an evicted entry was clean, the backend still holds its value
		ops := append([]wire.OutPoint(nil), rd.OutputsToRemove...)
		for _, out := range rd.OutputsToRestore {
			ops = append(ops, out.OutPoint)
		}
		if err := c.load(ops); err != nil {
			return nil, err
		}

		c.pending = c.pending[:n-1]
		c.pendingSize -= rewindSize(rd)
		for _, op := range rd.OutputsToRemove {
			e, _ := c.entries.Peek(op)
			c.setCoins(e, nil)
		}
		for _, out := range rd.OutputsToRestore {
			e, _ := c.entries.Peek(out.OutPoint)
			c.setCoins(e, out.Coins.Clone())
		}

		tip := rd.PreviousTip
		c.tip = &tip
		prometheusCoinCacheRewinds.WithLabelValues("memory").Inc()
		c.updateGauges()
		ret := tip
		return &ret, nil
	}

	if err := c.flush(); err != nil {
		return nil, err
	}
	tip, err := c.store.Rewind()
	if err != nil {
		return nil, err
	}

	c.entries.Purge()
	c.totalEntrySize = 0
	flushed := *tip
	c.flushedTip = &flushed
	current := *tip
	c.tip = &current

	prometheusCoinCacheRewinds.WithLabelValues("store").Inc()
	c.updateGauges()
	return tip, nil
}

func (c *CachedCoinView) GetTipHash() (*types.HashHeightPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tip := *c.tip
	return &tip, nil
}

// GetRewindData returns a copy of the record undoing height, pending ones first.
func (c *CachedCoinView) GetRewindData(height int32) (*types.RewindData, error) {
	c.mu.Lock()
	for _, rd := range c.pending {
		if rd.Height() == height {
			rd = rd.Clone()
			c.mu.Unlock()
			return rd, nil
		}
	}
	c.mu.Unlock()
	return c.store.GetRewindData(height)
}

// Flush writes the cache back. Without force it only does so when the cache
// is over its size cap.
func (c *CachedCoinView) Flush(force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.totalSize() < c.cfg.MaxSize {
		return nil
	}
	return c.flush()
}

// MaybeFlush is called after each connected block.
func (c *CachedCoinView) MaybeFlush(height int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.totalSize() >= c.cfg.MaxSize ||
		(c.cfg.FlushEvery > 0 && height%c.cfg.FlushEvery == 0) {
		return c.flush()
	}
	return nil
}

// FlushedTip is the tip the backend store holds.
func (c *CachedCoinView) FlushedTip() *types.HashHeightPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	tip := *c.flushedTip
	return &tip
}

// flush commits every dirty entry and every pending rewind record in one
// SaveChanges call. Nothing is cleared when the backend fails.
func (c *CachedCoinView) flush() error {
	if len(c.pending) == 0 && c.tip.Equal(c.flushedTip) {
		return nil
	}
	start := time.Now()
	memUsage := c.totalSize()

	var batch []*types.UnspentOutput
	var dirty []*cacheEntry
	for _, op := range c.entries.Keys() {
		e, _ := c.entries.Peek(op)
		if !e.dirty() {
			continue
		}
		dirty = append(dirty, e)
		switch {
		case e.original == nil:
			batch = append(batch, types.NewUnspentOutput(op, e.coins))
		case e.coins == nil:
			batch = append(batch, types.NewUnspentOutput(op, nil))
		default:
			// spent and recreated since the last flush: delete and insert the same key
			batch = append(batch, types.NewUnspentOutput(op, nil), types.NewUnspentOutput(op, e.coins))
		}
	}

	err := c.store.SaveChanges(batch, c.flushedTip, c.tip, c.pending)
	if err != nil {
		logging.L.Err(err).
			Stringer("flushed_tip", c.flushedTip).
			Stringer("tip", c.tip).
			Msg("coin cache flush failed")
		return err
	}

	for _, e := range dirty {
		c.totalEntrySize -= e.size()
		e.original = e.coins
		c.totalEntrySize += e.size()
	}
	// spent entries are unlikely to be asked for again
	var dropped int
	for _, op := range c.entries.Keys() {
		if e, _ := c.entries.Peek(op); e.coins == nil {
			c.removeEntry(op, e)
			dropped++
		}
	}

	blocks := len(c.pending)
	c.pending = nil
	c.pendingSize = 0
	flushed := *c.tip
	c.flushedTip = &flushed

	prometheusCoinCacheFlushes.Inc()
	prometheusCoinCacheFlushTime.Observe(time.Since(start).Seconds())
	c.updateGauges()

	logging.L.Debug().
		Int("blocks", blocks).
		Int("changes", len(batch)).
		Int("dropped", dropped).
		Int("entries", c.entries.Len()).
		Float64("mem_mib", float64(memUsage)/1024/1024).
		Float64("hit_ratio", c.hitRatio()).
		Stringer("tip", c.tip).
		Dur("duration", time.Since(start)).
		Msg("coin cache flushed")
	return nil
}

// evictClean drops clean entries oldest first until the cache fits.
func (c *CachedCoinView) evictClean() {
	var evicted int
	for _, op := range c.entries.Keys() {
		if c.totalSize() < c.cfg.MaxSize {
			break
		}
		e, _ := c.entries.Peek(op)
		if e.dirty() {
			continue
		}
		c.removeEntry(op, e)
		evicted++
	}
	if evicted > 0 {
		prometheusCoinCacheEvictions.Add(float64(evicted))
	}
}

// enforceLimit keeps the cache under its cap. Dirty entries are written back
// before they can be dropped.
func (c *CachedCoinView) enforceLimit() error {
	if c.totalSize() < c.cfg.MaxSize {
		return nil
	}
	c.evictClean()
	if c.totalSize() < c.cfg.MaxSize {
		return nil
	}
	if err := c.flush(); err != nil {
		return err
	}
	c.evictClean()
	return nil
}

// Stats is a point in time view of the cache.
type Stats struct {
	Entries       int                   `json:"entries"`
	Dirty         int                   `json:"dirty"`
	Bytes         uint64                `json:"bytes"`
	MaxBytes      uint64                `json:"max_bytes"`
	PendingBlocks int                   `json:"pending_blocks"`
	Hits          uint64                `json:"hits"`
	Misses        uint64                `json:"misses"`
	HitRatio      float64               `json:"hit_ratio"`
	Tip           *types.HashHeightPair `json:"tip"`
	FlushedTip    *types.HashHeightPair `json:"flushed_tip"`
}

func (c *CachedCoinView) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dirty int
	for _, op := range c.entries.Keys() {
		if e, _ := c.entries.Peek(op); e.dirty() {
			dirty++
		}
	}
	tip, flushed := *c.tip, *c.flushedTip
	return Stats{
		Entries:       c.entries.Len(),
		Dirty:         dirty,
		Bytes:         c.totalSize(),
		MaxBytes:      c.cfg.MaxSize,
		PendingBlocks: len(c.pending),
		Hits:          c.hits,
		Misses:        c.misses,
		HitRatio:      c.hitRatio(),
		Tip:           &tip,
		FlushedTip:    &flushed,
	}
}

// Close writes everything back. The store stays open.
func (c *CachedCoinView) Close() error {
	return c.Flush(true)
}

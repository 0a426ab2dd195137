// Package cache keeps regions in memory while they are referenced and
// evicts them once they have been idle and safely written.
//
// Entries are spread over a power-of-two number of shards keyed by
// coordinate hash; each shard has its own lock, so checkouts of unrelated
// coordinates never contend. Reference counts and idle timestamps are
// guarded by the shard lock.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/region"
)

// ErrHandleReleased is returned when a handle is released twice.
var ErrHandleReleased = errors.NewContractError(errors.ErrCodeDoubleRelease, "cache handle already released")

// Saver writes a region asynchronously. SaveAsync returns false when the
// save permit could not be taken or the request was refused; otherwise
// done is called exactly once when the save finishes.
type Saver interface {
	SaveAsync(r *region.Region, done func(err error)) bool
}

// Defaults for Options fields left zero.
const (
	DefaultShards      = 32
	DefaultIdleTimeout = 30 * time.Second
)

// Options configures a Cache.
type Options struct {
	Shards      int
	IdleTimeout time.Duration
	Saver       Saver
	Logger      logging.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Cache is the sharded region cache.
type Cache struct {
	shards      []*shard
	mask        uint32
	idleTimeout time.Duration
	saver       Saver
	logger      logging.Logger
	now         func() time.Time

	checkouts         atomic.Int64
	creations         atomic.Int64
	releases          atomic.Int64
	evictions         atomic.Int64
	sweepSaves        atomic.Int64
	sweepSaveFailures atomic.Int64
	invalidations     atomic.Int64
}

type shard struct {
	mu      sync.Mutex
	entries map[region.Key]*entry
}

type entry struct {
	region       *region.Region
	refs         int32
	lastReleased time.Time
	// sweepSaving is set while a sweep-initiated save is in flight.
	sweepSaving bool
}

// New creates a cache.
func New(opts Options) *Cache {
	n := opts.Shards
	if n <= 0 {
		n = DefaultShards
	}
	// Round up to a power of two so the shard index is a mask.
	size := 1
	for size < n {
		size <<= 1
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &Cache{
		shards:      make([]*shard, size),
		mask:        uint32(size - 1),
		idleTimeout: opts.IdleTimeout,
		saver:       opts.Saver,
		logger:      opts.Logger.WithComponent("cache"),
		now:         opts.Clock,
	}
	for i := range c.shards {
		c.shards[i] = &shard{entries: make(map[region.Key]*entry)}
	}
	return c
}

func (c *Cache) shardFor(k region.Key) *shard {
	h := uint32(k.X)*73856093 ^ uint32(k.Y)*19349663
	h ^= h >> 16
	return c.shards[h&c.mask]
}

// Checkout returns a handle on the region at (x, y), creating an
// ungenerated region when none is cached. Every handle must be released.
func (c *Cache) Checkout(x, y int32) *Handle {
	k := region.Key{X: x, Y: y}
	s := c.shardFor(k)

	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok {
		e = &entry{region: region.New(x, y)}
		s.entries[k] = e
		c.creations.Add(1)
	}
	e.refs++
	s.mu.Unlock()

	c.checkouts.Add(1)
	return &Handle{cache: c, shard: s, key: k, entry: e}
}

// Peek returns a cached region without taking a reference.
func (c *Cache) Peek(x, y int32) (*region.Region, bool) {
	k := region.Key{X: x, Y: y}
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return e.region, true
	}
	return nil, false
}

// RefCount returns the outstanding references on (x, y), or -1 when the
// coordinate is not cached.
func (c *Cache) RefCount(x, y int32) int {
	k := region.Key{X: x, Y: y}
	s := c.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[k]; ok {
		return int(e.refs)
	}
	return -1
}

// removable reports whether e may leave the cache. Shard lock held.
func removable(e *entry) bool {
	return e.refs == 0 && !e.sweepSaving && !e.region.Dirty() && !e.region.PermitOutstanding()
}

// removeIfIdle deletes k when it still maps to e and e is removable.
func (c *Cache) removeIfIdle(s *shard, k region.Key, e *entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.entries[k]; !ok || cur != e || !removable(e) {
		return false
	}
	delete(s.entries, k)
	return true
}

// Invalidate drops (x, y) if it is unreferenced, clean and not in I/O, so
// the next checkout reloads it from disk.
func (c *Cache) Invalidate(x, y int32) bool {
	k := region.Key{X: x, Y: y}
	s := c.shardFor(k)
	s.mu.Lock()
	e, ok := s.entries[k]
	s.mu.Unlock()
	if !ok || !c.removeIfIdle(s, k, e) {
		return false
	}
	c.invalidations.Add(1)
	return true
}

// Each calls fn for every cached region with its reference count. fn runs
// under the shard lock and must not call back into the cache.
func (c *Cache) Each(fn func(r *region.Region, refs int)) {
	for _, s := range c.shards {
		s.mu.Lock()
		for _, e := range s.entries {
			fn(e.region, int(e.refs))
		}
		s.mu.Unlock()
	}
}

// Regions returns every cached region.
func (c *Cache) Regions() []*region.Region {
	var out []*region.Region
	c.Each(func(r *region.Region, _ int) {
		out = append(out, r)
	})
	return out
}

// Len returns the number of cached regions.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// Purge drops every entry regardless of state. It is only used after
// shutdown has flushed what it could; dirty regions dropped here are
// abandoned.
func (c *Cache) Purge(ctx context.Context) int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if e.region.Dirty() {
				c.logger.Warn(ctx, nil, "Abandoning unsaved region",
					"region_x", k.X, "region_y", k.Y, "refs", e.refs)
			}
			delete(s.entries, k)
			n++
		}
		s.mu.Unlock()
	}
	return n
}

type candidate struct {
	shard *shard
	key   region.Key
	entry *entry
}

// SweepResult summarizes one Sweep call.
type SweepResult struct {
	Examined       int
	Evicted        int
	SavesRequested int
	SavesRefused   int
}

// Sweep evicts entries that have been unreferenced for at least the idle
// timeout. Clean entries go immediately; dirty ones are handed to the
// Saver and evicted when the save succeeds. Failed saves keep the entry
// for the next sweep. Sweep never blocks on I/O.
func (c *Cache) Sweep(ctx context.Context, now time.Time) SweepResult {
	var res SweepResult
	var idle []candidate

	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if e.refs == 0 && !e.sweepSaving && now.Sub(e.lastReleased) >= c.idleTimeout {
				idle = append(idle, candidate{shard: s, key: k, entry: e})
			}
		}
		s.mu.Unlock()
	}
	res.Examined = len(idle)

	for _, cand := range idle {
		r := cand.entry.region
		if r.PermitOutstanding() {
			continue
		}
		if !r.Dirty() {
			if c.removeIfIdle(cand.shard, cand.key, cand.entry) {
				c.evictions.Add(1)
				res.Evicted++
			}
			continue
		}
		if c.saver == nil {
			continue
		}
		if c.requestSweepSave(ctx, cand) {
			res.SavesRequested++
		} else {
			res.SavesRefused++
		}
	}

	if res.Evicted > 0 || res.SavesRequested > 0 {
		c.logger.Debug(ctx, "Sweep finished",
			"examined", res.Examined,
			"evicted", res.Evicted,
			"saves_requested", res.SavesRequested,
			"saves_refused", res.SavesRefused)
	}
	return res
}

func (c *Cache) requestSweepSave(ctx context.Context, cand candidate) bool {
	s := cand.shard
	s.mu.Lock()
	if cand.entry.refs != 0 || cand.entry.sweepSaving {
		s.mu.Unlock()
		return false
	}
	cand.entry.sweepSaving = true
	s.mu.Unlock()

	r := cand.entry.region
	ok := c.saver.SaveAsync(r, func(err error) {
		s.mu.Lock()
		cand.entry.sweepSaving = false
		s.mu.Unlock()

		if err != nil {
			c.sweepSaveFailures.Add(1)
			if errors.IsRetryable(err) {
				c.logger.Warn(ctx, err, "Eviction save failed, retrying on a later sweep",
					"region_x", r.X(), "region_y", r.Y())
			} else {
				c.logger.Error(ctx, err, "Eviction save failed, region stays cached",
					"region_x", r.X(), "region_y", r.Y())
			}
			return
		}
		if c.removeIfIdle(s, cand.key, cand.entry) {
			c.evictions.Add(1)
		}
	})
	if !ok {
		s.mu.Lock()
		cand.entry.sweepSaving = false
		s.mu.Unlock()
		return false
	}
	c.sweepSaves.Add(1)
	return true
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries           int   `json:"entries"`
	Referenced        int   `json:"referenced"`
	Dirty             int   `json:"dirty"`
	Generated         int   `json:"generated"`
	Checkouts         int64 `json:"checkouts"`
	Creations         int64 `json:"creations"`
	Releases          int64 `json:"releases"`
	Evictions         int64 `json:"evictions"`
	SweepSaves        int64 `json:"sweep_saves"`
	SweepSaveFailures int64 `json:"sweep_save_failures"`
	Invalidations     int64 `json:"invalidations"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	st := Stats{
		Checkouts:         c.checkouts.Load(),
		Creations:         c.creations.Load(),
		Releases:          c.releases.Load(),
		Evictions:         c.evictions.Load(),
		SweepSaves:        c.sweepSaves.Load(),
		SweepSaveFailures: c.sweepSaveFailures.Load(),
		Invalidations:     c.invalidations.Load(),
	}
	c.Each(func(r *region.Region, refs int) {
		st.Entries++
		if refs > 0 {
			st.Referenced++
		}
		if r.Dirty() {
			st.Dirty++
		}
		if r.IsGenerated() {
			st.Generated++
		}
	})
	return st
}

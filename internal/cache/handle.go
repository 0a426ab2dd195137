package cache

import (
	"sync/atomic"

	"github.com/conneroisu/tessera/internal/region"
)

// Handle is one counted reference to a cached region.
type Handle struct {
	cache    *Cache
	shard    *shard
	key      region.Key
	entry    *entry
	released atomic.Bool
}

// Region returns the referenced region.
func (h *Handle) Region() *region.Region {
	return h.entry.region
}

// Release gives the reference back. A second call returns
// ErrHandleReleased and changes nothing.
func (h *Handle) Release() error {
	_, err := h.release()
	return err
}

func (h *Handle) release() (int32, error) {
	if !h.released.CompareAndSwap(false, true) {
		return 0, ErrHandleReleased
	}
	s := h.shard
	s.mu.Lock()
	h.entry.refs--
	refs := h.entry.refs
	if refs == 0 {
		h.entry.lastReleased = h.cache.now()
	}
	s.mu.Unlock()
	h.cache.releases.Add(1)
	return refs, nil
}

// Dispose releases the reference and, when it was the last one and the
// region is clean and not in I/O, removes the entry without waiting for a
// sweep. It is used after a save completes.
func (h *Handle) Dispose() error {
	refs, err := h.release()
	if err != nil {
		return err
	}
	if refs == 0 && h.cache.removeIfIdle(h.shard, h.key, h.entry) {
		h.cache.evictions.Add(1)
	}
	return nil
}

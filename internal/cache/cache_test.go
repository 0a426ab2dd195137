package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/region"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// fakeSaver takes the save permit and completes when finish is called.
type fakeSaver struct {
	mu      sync.Mutex
	pending []func(error)
	refuse  bool
}

func (f *fakeSaver) SaveAsync(r *region.Region, done func(error)) bool {
	if f.refuse || !r.SavePermit() {
		return false
	}
	_, rev := region.Encode(r)
	f.mu.Lock()
	f.pending = append(f.pending, func(err error) {
		if err == nil {
			r.MarkSaved(rev)
		}
		r.FinishSaving()
		done(err)
	})
	f.mu.Unlock()
	return true
}

func (f *fakeSaver) finish(err error) int {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn(err)
	}
	return len(pending)
}

func newTestCache(saver Saver, clock *fakeClock) *Cache {
	return New(Options{IdleTimeout: time.Minute, Saver: saver, Clock: clock.Now})
}

func TestCheckoutCreatesOnce(t *testing.T) {
	c := newTestCache(nil, newFakeClock())

	h1 := c.Checkout(1, 1)
	h2 := c.Checkout(1, 1)
	assert.Same(t, h1.Region(), h2.Region())
	assert.False(t, h1.Region().IsGenerated())
	assert.Equal(t, 2, c.RefCount(1, 1))
	assert.Equal(t, -1, c.RefCount(9, 9))

	st := c.Stats()
	assert.Equal(t, int64(1), st.Creations)
	assert.Equal(t, int64(2), st.Checkouts)
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, 1, st.Referenced)
}

func TestConcurrentCheckoutSameCoordinate(t *testing.T) {
	c := newTestCache(nil, newFakeClock())
	const workers = 8

	var wg sync.WaitGroup
	start := make(chan struct{})
	handles := make([]*Handle, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i] = c.Checkout(1, 1)
		}(i)
	}
	close(start)
	wg.Wait()

	for _, h := range handles[1:] {
		assert.Same(t, handles[0].Region(), h.Region())
	}
	assert.Equal(t, int64(1), c.Stats().Creations)
	assert.Equal(t, workers, c.RefCount(1, 1))

	require.NoError(t, handles[0].Release())
	require.NoError(t, handles[1].Release())
	assert.Equal(t, workers-2, c.RefCount(1, 1))
}

func TestDoubleRelease(t *testing.T) {
	c := newTestCache(nil, newFakeClock())
	h := c.Checkout(0, 0)
	other := c.Checkout(0, 0)

	require.NoError(t, h.Release())
	err := h.Release()
	assert.ErrorIs(t, err, ErrHandleReleased)
	assert.True(t, errors.Is(err, &terrors.TesseraError{Type: terrors.ErrorTypeContract, Code: terrors.ErrCodeDoubleRelease}))
	assert.Equal(t, 1, c.RefCount(0, 0), "a second release must not steal another handle's reference")
	assert.ErrorIs(t, h.Dispose(), ErrHandleReleased)

	require.NoError(t, other.Release())
}

func TestDisposeRemovesCleanRegion(t *testing.T) {
	c := newTestCache(nil, newFakeClock())

	h := c.Checkout(2, 2)
	require.NoError(t, h.Dispose())
	assert.Equal(t, 0, c.Len(), "clean unreferenced region leaves immediately")

	h = c.Checkout(2, 2)
	h.Region().MarkGenerated()
	require.NoError(t, h.Dispose())
	assert.Equal(t, 1, c.Len(), "dirty region waits for a save")

	h = c.Checkout(3, 3)
	keep := c.Checkout(3, 3)
	require.NoError(t, h.Dispose())
	assert.Equal(t, 1, c.RefCount(3, 3))
	require.NoError(t, keep.Release())
}

func TestSweepEvictsIdleCleanRegions(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(nil, clock)

	require.NoError(t, c.Checkout(0, 0).Release())
	held := c.Checkout(1, 0)

	res := c.Sweep(context.Background(), clock.Advance(30*time.Second))
	assert.Equal(t, 0, res.Evicted, "not idle long enough")

	res = c.Sweep(context.Background(), clock.Advance(31*time.Second))
	assert.Equal(t, 1, res.Evicted)
	_, ok := c.Peek(0, 0)
	assert.False(t, ok)
	_, ok = c.Peek(1, 0)
	assert.True(t, ok, "referenced regions are never evicted")

	require.NoError(t, held.Release())
}

func TestSweepSavesDirtyRegionsBeforeEviction(t *testing.T) {
	clock := newFakeClock()
	saver := &fakeSaver{}
	c := newTestCache(saver, clock)

	h := c.Checkout(5, 5)
	h.Region().MarkGenerated()
	require.NoError(t, h.Release())

	res := c.Sweep(context.Background(), clock.Advance(2*time.Minute))
	assert.Equal(t, 1, res.SavesRequested)
	assert.Equal(t, 1, c.Len(), "entry stays until the save completes")

	res = c.Sweep(context.Background(), clock.Now())
	assert.Equal(t, 0, res.SavesRequested, "no second save while one is in flight")

	require.Equal(t, 1, saver.finish(nil))
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestSweepRetriesFailedSaves(t *testing.T) {
	clock := newFakeClock()
	saver := &fakeSaver{}
	c := newTestCache(saver, clock)

	h := c.Checkout(6, 6)
	h.Region().MarkGenerated()
	require.NoError(t, h.Release())

	c.Sweep(context.Background(), clock.Advance(2*time.Minute))
	saver.finish(errors.New("disk full"))
	assert.Equal(t, 1, c.Len(), "failed saves never drop the region")
	assert.Equal(t, int64(1), c.Stats().SweepSaveFailures)
	assert.False(t, c.Regions()[0].PermitOutstanding())

	res := c.Sweep(context.Background(), clock.Now())
	assert.Equal(t, 1, res.SavesRequested)
	saver.finish(nil)
	assert.Equal(t, 0, c.Len())
}

func TestSweepCheckoutDuringSave(t *testing.T) {
	clock := newFakeClock()
	saver := &fakeSaver{}
	c := newTestCache(saver, clock)

	h := c.Checkout(7, 7)
	h.Region().MarkGenerated()
	require.NoError(t, h.Release())
	c.Sweep(context.Background(), clock.Advance(2*time.Minute))

	again := c.Checkout(7, 7)
	saver.finish(nil)
	assert.Equal(t, 1, c.Len(), "a checkout during the save keeps the entry")
	require.NoError(t, again.Release())
}

func TestSweepRefusedSave(t *testing.T) {
	clock := newFakeClock()
	saver := &fakeSaver{refuse: true}
	c := newTestCache(saver, clock)

	h := c.Checkout(8, 8)
	h.Region().MarkGenerated()
	require.NoError(t, h.Release())

	res := c.Sweep(context.Background(), clock.Advance(2*time.Minute))
	assert.Equal(t, 1, res.SavesRefused)
	assert.Equal(t, 1, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(nil, newFakeClock())

	h := c.Checkout(1, 2)
	assert.False(t, c.Invalidate(1, 2), "referenced")
	require.NoError(t, h.Release())

	h = c.Checkout(1, 2)
	h.Region().MarkGenerated()
	require.NoError(t, h.Release())
	assert.False(t, c.Invalidate(1, 2), "dirty")

	_, rev := region.Encode(h.Region())
	h.Region().MarkSaved(rev)
	assert.True(t, c.Invalidate(1, 2))
	assert.False(t, c.Invalidate(1, 2), "already gone")
	assert.Equal(t, int64(1), c.Stats().Invalidations)
}

func TestPurge(t *testing.T) {
	c := newTestCache(nil, newFakeClock())
	c.Checkout(0, 0).Region().MarkGenerated()
	c.Checkout(0, 1)
	assert.Equal(t, 2, c.Purge(context.Background()))
	assert.Equal(t, 0, c.Len())
}

func TestShardCountRoundsUp(t *testing.T) {
	c := New(Options{Shards: 5})
	assert.Len(t, c.shards, 8)
	c = New(Options{})
	assert.Len(t, c.shards, DefaultShards)
}

func TestSweepSaveFailureLogLevel(t *testing.T) {
	var buf bytes.Buffer
	clock := newFakeClock()
	saver := &fakeSaver{}
	c := New(Options{
		IdleTimeout: time.Minute,
		Saver:       saver,
		Clock:       clock.Now,
		Logger:      logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelWarn, Format: "json", Output: &buf}),
	})

	h := c.Checkout(1, 1)
	h.Region().MarkGenerated()
	require.NoError(t, h.Release())

	c.Sweep(context.Background(), clock.Advance(2*time.Minute))
	saver.finish(terrors.WrapIO(errors.New("disk full"), terrors.ErrCodeWriteFailed, "write", 1, 1))
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "retrying on a later sweep")

	buf.Reset()
	c.Sweep(context.Background(), clock.Now())
	saver.finish(terrors.NewInternalError(terrors.ErrCodeInternalError, "save panicked", nil))
	assert.Contains(t, buf.String(), `"level":"ERROR"`)
	assert.Equal(t, 1, c.Len(), "the region is kept either way")
}

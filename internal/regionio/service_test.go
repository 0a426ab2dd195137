package regionio

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tessera/internal/document"
	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/region"
)

// countingGenerator fills every region with one tile ID.
type countingGenerator struct {
	calls atomic.Int32
	fill  int32
	// gate, when set, blocks Generate until closed.
	gate chan struct{}
	fail error
}

func (g *countingGenerator) Generate(ctx context.Context, r *region.Region) error {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.fail != nil {
		return g.fail
	}
	grid := region.NewGrid()
	r.Populate(grid)
	for y := 0; y < region.Span; y++ {
		for x := 0; x < region.Span; x++ {
			r.SetTileAt(x, y, g.fill)
		}
	}
	r.MarkGenerated()
	return nil
}

func newTestService(t *testing.T, gen Generator, workers, queue int) *Service {
	t.Helper()
	pool := NewPool(workers, queue)
	pool.Start(context.Background())
	svc := NewService(Options{
		Store:      openTestStore(t, document.FormatTagged, document.CompressionGzip),
		Pool:       pool,
		Generator:  gen,
		Quarantine: true,
	})
	t.Cleanup(svc.Close)
	return svc
}

func waitFuture(t *testing.T, fut *Future) error {
	t.Helper()
	require.NotNil(t, fut)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := fut.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return err
}

func TestLoadMissingRegionGenerates(t *testing.T) {
	gen := &countingGenerator{fill: 7}
	svc := newTestService(t, gen, 2, 8)

	r := region.New(0, 0)
	fut, started := svc.RequestLoad(r)
	require.True(t, started)
	require.NoError(t, waitFuture(t, fut))

	assert.True(t, r.IsGenerated())
	assert.Equal(t, int32(7), r.TileAt(64, 64))
	assert.False(t, r.PermitOutstanding())
	assert.Nil(t, svc.Pending(r))
	assert.Equal(t, int32(1), gen.calls.Load())

	snap := svc.Metrics().GetSnapshot()
	assert.Equal(t, int64(1), snap.Load.Completed)
	assert.Equal(t, int64(0), snap.Load.Failed)
	assert.Equal(t, int64(1), snap.Generate.Completed)
	assert.False(t, svc.Failures().HasErrors())
}

func TestLoadExistingRegionSkipsGenerator(t *testing.T) {
	gen := &countingGenerator{fill: 1}
	svc := newTestService(t, gen, 1, 4)

	saved := generatedRegion(4, -4)
	saved.SetTileAt(5, 5, 42)
	require.NoError(t, svc.Store().Save(saved))

	r := region.New(4, -4)
	fut, _ := svc.RequestLoad(r)
	require.NoError(t, waitFuture(t, fut))

	assert.Equal(t, int32(42), r.TileAt(5, 5))
	assert.False(t, r.Dirty())
	assert.Zero(t, gen.calls.Load())
}

func TestConcurrentLoadsJoin(t *testing.T) {
	gen := &countingGenerator{gate: make(chan struct{})}
	svc := newTestService(t, gen, 2, 8)

	r := region.New(1, 2)
	first, started := svc.RequestLoad(r)
	require.True(t, started)

	second, started := svc.RequestLoad(r)
	assert.False(t, started)
	assert.Same(t, first, second)
	assert.False(t, svc.RequestSave(r, nil), "a save cannot start while the load runs")

	close(gen.gate)
	require.NoError(t, waitFuture(t, first))
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Load.Denied)
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Save.Denied)
}

func TestCorruptFileIsQuarantinedAndRegenerated(t *testing.T) {
	gen := &countingGenerator{fill: 3}
	svc := newTestService(t, gen, 1, 4)

	path := svc.Store().Path(2, 2)
	require.NoError(t, os.WriteFile(path, []byte("not a region"), 0o644))

	r := region.New(2, 2)
	fut, _ := svc.RequestLoad(r)
	require.NoError(t, waitFuture(t, fut))

	assert.True(t, r.IsGenerated())
	assert.Equal(t, int32(3), r.TileAt(0, 0))
	assert.FileExists(t, path+CorruptSuffix)
	assert.False(t, svc.Store().Exists(2, 2))

	require.True(t, svc.Failures().HasErrors())
	failures := svc.Failures().ForRegion(2, 2)
	require.Len(t, failures, 1)
	assert.Equal(t, "load", failures[0].Op)
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Load.Failed)
}

func TestGeneratorFailureReleasesPermit(t *testing.T) {
	gen := &countingGenerator{fail: errors.New("noise exploded")}
	svc := newTestService(t, gen, 1, 4)

	r := region.New(0, 1)
	fut, _ := svc.RequestLoad(r)
	err := waitFuture(t, fut)
	require.Error(t, err)

	var te *terrors.TesseraError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, terrors.ErrorTypeGenerate, te.Type)
	assert.False(t, r.IsGenerated())
	assert.False(t, r.PermitOutstanding())

	// A later request may retry.
	gen.fail = nil
	fut, started := svc.RequestLoad(r)
	require.True(t, started)
	require.NoError(t, waitFuture(t, fut))
	assert.True(t, r.IsGenerated())
}

func TestGeneratorMustGenerate(t *testing.T) {
	lazy := GeneratorFunc(func(context.Context, *region.Region) error { return nil })
	svc := newTestService(t, lazy, 1, 4)

	fut, _ := svc.RequestGenerate(region.New(9, 9))
	assert.Error(t, waitFuture(t, fut))
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Generate.Failed)
}

func TestQueuedActionsApplyAfterLoad(t *testing.T) {
	svc := newTestService(t, &countingGenerator{fill: 1}, 1, 4)

	r := region.New(5, 5)
	r.AddAction(region.Action{Kind: region.ActionSetTile, X: 10, Y: 11, Value: 99})
	fut, _ := svc.RequestLoad(r)
	require.NoError(t, waitFuture(t, fut))

	assert.Equal(t, int32(99), r.TileAt(10, 11))
	assert.False(t, r.HasQueuedActions())
}

func TestRequestSave(t *testing.T) {
	svc := newTestService(t, &countingGenerator{}, 1, 4)

	r := generatedRegion(-1, -1)
	r.SetTileAt(1, 1, 5)

	done := make(chan error, 1)
	require.True(t, svc.RequestSave(r, func(err error) {
		assert.False(t, r.PermitOutstanding(), "permit is released before done runs")
		done <- err
	}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("save did not complete")
	}
	assert.False(t, r.Dirty())
	assert.True(t, svc.Store().Exists(-1, -1))
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Save.Completed)
}

func TestSaveRejectedByClosedPool(t *testing.T) {
	svc := newTestService(t, &countingGenerator{}, 1, 1)
	svc.Close()

	r := generatedRegion(0, 0)
	assert.False(t, svc.SaveAsync(r, func(error) { t.Error("done must not run") }))
	assert.False(t, r.PermitOutstanding())
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Save.Rejected)
}

func TestAbortSkipsQueuedLoads(t *testing.T) {
	gen := &countingGenerator{}
	svc := newTestService(t, gen, 1, 8)

	release := make(chan struct{})
	require.NoError(t, svc.pool.Submit(func(context.Context) { <-release }))

	r := region.New(3, 3)
	fut, started := svc.RequestLoad(r)
	require.True(t, started)

	svc.Abort()
	close(release)

	err := waitFuture(t, fut)
	assert.True(t, terrors.IsShutdown(err))
	assert.Zero(t, gen.calls.Load())
	assert.False(t, r.PermitOutstanding())
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Load.Aborted)

	fut, started = svc.RequestLoad(region.New(4, 4))
	assert.Nil(t, fut)
	assert.False(t, started)
}

func TestDrainSaves(t *testing.T) {
	svc := newTestService(t, &countingGenerator{}, 2, 16)

	regions := make([]*region.Region, 6)
	for i := range regions {
		regions[i] = generatedRegion(int32(i), 0)
		require.True(t, svc.RequestSaveWait(context.Background(), regions[i], nil))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.DrainSaves(ctx))
	for _, r := range regions {
		assert.False(t, r.Dirty())
	}
}

// queueCounter records how many actions were queued when generation began.
type queueCounter struct {
	seen atomic.Int32
}

func (g *queueCounter) Generate(ctx context.Context, r *region.Region) error {
	_, actions := r.Queued()
	g.seen.Store(int32(len(actions)))
	r.Populate(region.NewGrid())
	r.MarkGenerated()
	return nil
}

func TestSavedStubLoadsQueuedActionsOnce(t *testing.T) {
	gen := &queueCounter{}
	svc := newTestService(t, gen, 1, 4)

	r := region.New(2, 2)
	r.AddAction(region.Action{Kind: region.ActionSetTile, X: 3, Y: 4, Value: 8})

	done := make(chan error, 1)
	require.True(t, svc.RequestSave(r, func(err error) { done <- err }))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("save did not complete")
	}

	fut, started := svc.RequestLoad(r)
	require.True(t, started)
	require.NoError(t, waitFuture(t, fut))

	assert.Equal(t, int32(1), gen.seen.Load())
	assert.Equal(t, int32(8), r.TileAt(3, 4))
	assert.False(t, r.HasQueuedActions())
}

func TestGeneratorPanicReleasesPermit(t *testing.T) {
	var calls atomic.Int32
	gen := GeneratorFunc(func(ctx context.Context, r *region.Region) error {
		if calls.Add(1) == 1 {
			panic("bad seed")
		}
		r.Populate(region.NewGrid())
		r.MarkGenerated()
		return nil
	})
	svc := newTestService(t, gen, 1, 4)

	r := region.New(4, 4)
	fut, started := svc.RequestLoad(r)
	require.True(t, started)
	err := waitFuture(t, fut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad seed")
	assert.False(t, r.PermitOutstanding())
	assert.Equal(t, int64(1), svc.Metrics().GetSnapshot().Generate.Failed)

	fut, started = svc.RequestLoad(r)
	require.True(t, started, "the pool worker survived")
	require.NoError(t, waitFuture(t, fut))
	assert.True(t, r.IsGenerated())
}

func TestKindStatsSuccessRate(t *testing.T) {
	assert.Zero(t, KindStats{}.SuccessRate())
	assert.Equal(t, 75.0, KindStats{Completed: 3, Failed: 1, Denied: 9}.SuccessRate())
}

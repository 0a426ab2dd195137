package region

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tessera/internal/document"
)

func generatedRegion(x, y int32) *Region {
	r := New(x, y)
	r.Populate(NewGrid())
	r.MarkGenerated()
	return r
}

func TestTileAccess(t *testing.T) {
	r := generatedRegion(0, 0)

	r.SetTileAt(5, 5, 42)
	r.SetWallAt(Span-1, Span-1, 7)
	r.SetLightAt(17, 3, 15)

	assert.Equal(t, int32(42), r.TileAt(5, 5))
	assert.Equal(t, int32(7), r.WallAt(Span-1, Span-1))
	assert.Equal(t, byte(15), r.LightAt(17, 3))
	assert.Equal(t, int32(42), r.Slice(0, 0).Tiles[Index(5, 5)])
	assert.Equal(t, byte(15), r.Slice(1, 0).Light[Index(1, 3)])

	entity := document.NewCompound()
	entity.PutString("kind", "chest")
	r.SetTileEntityAt(20, 20, entity)
	assert.Same(t, entity, r.TileEntityAt(20, 20))
	r.SetTileEntityAt(20, 20, nil)
	assert.Nil(t, r.TileEntityAt(20, 20))

	assert.Panics(t, func() { r.TileAt(Span, 0) }, "out-of-region access is a programming error")
}

func TestMarkGenerated(t *testing.T) {
	r := New(1, 2)
	assert.False(t, r.IsGenerated())
	assert.Nil(t, r.Slice(0, 0))

	select {
	case <-r.Ready():
		t.Fatal("ready before generation")
	default:
	}

	r.MarkGenerated()
	assert.True(t, r.IsGenerated())
	assert.NotNil(t, r.Slice(RegionSize-1, RegionSize-1), "grid is populated whenever generated")

	rev := r.Revision()
	assert.NotPanics(t, r.MarkGenerated)
	assert.Equal(t, rev, r.Revision(), "second call is a no-op")

	select {
	case <-r.Ready():
	default:
		t.Fatal("ready not closed")
	}
}

func TestPopulateFillsMissingSlices(t *testing.T) {
	var g Grid
	g[0][0] = NewSlice()
	g[0][0].Tiles[0] = 9

	r := New(0, 0)
	r.Populate(&g)
	r.MarkGenerated()
	assert.Equal(t, int32(9), r.TileAt(0, 0))
	assert.Equal(t, int32(0), r.TileAt(Span-1, Span-1))
}

func TestPermits(t *testing.T) {
	r := New(0, 0)

	require.True(t, r.LoadPermit())
	assert.False(t, r.LoadPermit(), "load permits are exclusive")
	assert.False(t, r.SavePermit(), "load and save exclude each other")
	assert.True(t, r.PermitOutstanding())
	assert.Equal(t, "loading", r.IOState())

	assert.Panics(t, r.FinishSaving, "releasing the wrong permit panics")
	r.FinishLoading()
	assert.False(t, r.PermitOutstanding())

	require.True(t, r.SavePermit())
	assert.False(t, r.LoadPermit())
	assert.Equal(t, "saving", r.IOState())
	r.FinishSaving()

	assert.Panics(t, r.FinishSaving, "double release panics")
	assert.Panics(t, r.FinishLoading)
}

func TestConcurrentPermits(t *testing.T) {
	r := New(0, 0)
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			var won bool
			if i%2 == 0 {
				won = r.LoadPermit()
			} else {
				won = r.SavePermit()
			}
			if won {
				winners.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestQueues(t *testing.T) {
	r := New(0, 0)
	assert.False(t, r.HasQueuedStructures())
	assert.False(t, r.HasQueuedActions())

	r.AddStructure(Structure{Name: "tower", SliceX: 1, TileX: 3, OffsetY: 2})
	r.AddAction(Action{Kind: ActionSetTile, X: 5, Y: 5, Value: 42})
	assert.True(t, r.HasQueuedStructures())
	assert.True(t, r.HasQueuedActions())

	assert.Equal(t, 0, r.ApplyActions(), "actions wait for generation")

	structures := r.DrainStructures()
	require.Len(t, structures, 1)
	x, y := structures[0].Origin()
	assert.Equal(t, 19, x)
	assert.Equal(t, 0, y)
	assert.False(t, r.HasQueuedStructures())
	assert.Empty(t, r.DrainStructures())

	r.MarkGenerated()
	assert.Equal(t, 1, r.ApplyActions())
	assert.Equal(t, int32(42), r.TileAt(5, 5))
	assert.False(t, r.HasQueuedActions())
}

func TestTrimQueued(t *testing.T) {
	r := New(0, 0)
	r.AddStructure(Structure{Name: "a"})
	r.AddAction(Action{Kind: ActionSetTile, Value: 1})
	r.AddAction(Action{Kind: ActionSetTile, Value: 2})
	r.MarkSaved(r.Revision())

	r.TrimQueued(1, 1)
	structures, actions := r.Queued()
	assert.Empty(t, structures)
	require.Len(t, actions, 1)
	assert.Equal(t, int32(2), actions[0].Value)
	assert.False(t, r.Dirty(), "trimmed entries are stored, not lost")

	r.TrimQueued(5, 5)
	assert.False(t, r.HasQueuedActions())
}

func TestDirtyTracking(t *testing.T) {
	r := New(0, 0)
	assert.False(t, r.Dirty(), "a fresh region has nothing to save")

	r.MarkGenerated()
	assert.True(t, r.Dirty())

	_, rev := Encode(r)
	r.SetTileAt(1, 1, 3)
	r.MarkSaved(rev)
	assert.True(t, r.Dirty(), "edits after the snapshot keep the region dirty")

	_, rev = Encode(r)
	r.MarkSaved(rev)
	assert.False(t, r.Dirty())
	assert.Equal(t, rev, r.LastSaved())

	r.MarkSaved(rev - 1)
	assert.Equal(t, rev, r.LastSaved(), "the saved marker only moves forward")

	r.SetLightAt(0, 0, 4)
	assert.False(t, r.Dirty(), "light is derived state")
	r.MarkDirty()
	assert.True(t, r.Dirty())
}

func TestActionKindNames(t *testing.T) {
	for _, k := range []ActionKind{ActionSetTile, ActionSetWall, ActionClearEntity} {
		parsed, ok := ParseActionKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, parsed)
	}
	_, ok := ParseActionKind("explode")
	assert.False(t, ok)
}

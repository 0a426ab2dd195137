package gen

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/tiles"
)

const testRegistry = `
tile "air" {
  id = 0
}
tile "stone" {
  id = 1
  solid = true
}
tile "dirt" {
  id = 2
}
tile "grass" {
  id = 3
}
tile "ore" {
  id = 9
}
tile "chest" {
  id = 6
  behavior = "container"
  properties = { slots = 9 }
}
wall "dirt_wall" {
  id = 1
}
structure "beam" {
  width  = 20
  height = 2
  tiles = [
    1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2, 2, 2, 2, 6,
    -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, -1, 3,
  ]
}
`

type recordingQueue struct {
	mu      sync.Mutex
	entries map[region.Key][]region.Structure
}

func (q *recordingQueue) QueueStructure(x, y int32, s region.Structure) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.entries == nil {
		q.entries = make(map[region.Key][]region.Structure)
	}
	k := region.Key{X: x, Y: y}
	q.entries[k] = append(q.entries[k], s)
}

func testGenerator(t *testing.T, seed int64) *Generator {
	t.Helper()
	reg, err := tiles.Parse([]byte(testRegistry), "test.hcl")
	require.NoError(t, err)
	return New(seed, reg, nil)
}

func generate(t *testing.T, g *Generator, x, y int32) *region.Region {
	t.Helper()
	r := region.New(x, y)
	require.NoError(t, g.Generate(context.Background(), r))
	return r
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := generate(t, New(42, tiles.Default(), nil), 3, 0)
	b := generate(t, New(42, tiles.Default(), nil), 3, 0)
	c := generate(t, New(43, tiles.Default(), nil), 3, 0)

	same, differs := true, false
	for y := 0; y < region.Span; y++ {
		for x := 0; x < region.Span; x++ {
			if a.TileAt(x, y) != b.TileAt(x, y) {
				same = false
			}
			if a.TileAt(x, y) != c.TileAt(x, y) {
				differs = true
			}
		}
	}
	assert.True(t, same)
	assert.True(t, differs, "a different seed changes the terrain")
	assert.True(t, a.IsGenerated())
	assert.True(t, a.Dirty())
}

func TestTerrainLayers(t *testing.T) {
	g := testGenerator(t, 7)
	r := generate(t, g, 0, 0)

	for _, x := range []int{0, 17, 64, 127} {
		surface := int(g.SurfaceAt(int64(x)))
		require.True(t, surface > 0 && surface < region.Span-dirtDepth, "surface %d stays in region 0", surface)
		assert.Equal(t, tiles.Air, r.TileAt(x, surface-1))
		assert.Equal(t, byte(skyLight), r.LightAt(x, surface-1))
		assert.Equal(t, int32(2), r.TileAt(x, surface+1), "dirt below the surface")
		assert.Equal(t, int32(1), r.WallAt(x, surface+1))
	}
}

func TestQueueOverflow(t *testing.T) {
	g := testGenerator(t, 1)
	q := &recordingQueue{}
	g.SetQueue(q)
	beam, _ := g.reg.Structure("beam")

	r := region.New(0, 0)
	g.queueOverflow(r, beam, 120, 127)

	right := q.entries[region.Key{X: 1, Y: 0}]
	require.Len(t, right, 1)
	assert.Equal(t, region.Structure{Name: "beam", SliceX: 0, SliceY: 7, TileX: 0, TileY: 15, OffsetX: 8, OffsetY: 0}, right[0])

	below := q.entries[region.Key{X: 0, Y: 1}]
	require.Len(t, below, 1)
	assert.Equal(t, int32(1), below[0].OffsetY)
	x, y := below[0].Origin()
	assert.Equal(t, 120, x)
	assert.Equal(t, 0, y)

	diagonal := q.entries[region.Key{X: 1, Y: 1}]
	require.Len(t, diagonal, 1)
	assert.Equal(t, int32(8), diagonal[0].OffsetX)
	assert.Equal(t, int32(1), diagonal[0].OffsetY)

	g.queueOverflow(r, beam, 0, 0)
	assert.Len(t, q.entries, 3, "a structure inside the region queues nothing")
}

func TestQueuedStructureStampedOnGenerate(t *testing.T) {
	g := testGenerator(t, 1)
	r := region.New(1, 0)
	r.AddStructure(region.Structure{Name: "beam", SliceY: 2, TileY: 3, OffsetX: 8})

	require.NoError(t, g.Generate(context.Background(), r))
	assert.False(t, r.HasQueuedStructures())

	// Cells 8..19 of the first row land on x 0..11 of row 35.
	assert.Equal(t, int32(1), r.TileAt(0, 35))
	assert.Equal(t, int32(1), r.TileAt(1, 35))
	assert.Equal(t, int32(2), r.TileAt(2, 35))
	assert.Equal(t, int32(6), r.TileAt(11, 35))
	assert.Equal(t, int32(3), r.TileAt(11, 36))
	require.NotNil(t, r.TileEntityAt(11, 35))
	assert.Equal(t, int32(9), r.TileEntityAt(11, 35).GetInt("slots"))
}

func TestStampStructuresOnGeneratedRegion(t *testing.T) {
	g := testGenerator(t, 1)
	r := generate(t, g, 0, 0)
	r.AddStructure(region.Structure{Name: "beam", SliceX: 7, TileX: 10, SliceY: 7, TileY: 14})
	r.AddStructure(region.Structure{Name: "missing"})

	assert.Equal(t, 2, g.StampStructures(r))
	assert.False(t, r.HasQueuedStructures())
	// Origin (122, 126): six cells fit before the right edge.
	assert.Equal(t, int32(1), r.TileAt(122, 126))
	assert.Equal(t, int32(1), r.TileAt(127, 126))
}

func TestGenerateHonorsCancellation(t *testing.T) {
	g := testGenerator(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := region.New(0, 0)
	assert.ErrorIs(t, g.Generate(ctx, r), context.Canceled)
	assert.False(t, r.IsGenerated())
}

func TestNoiseRange(t *testing.T) {
	n := NewNoise(99)
	assert.Equal(t, n.At(0.5, 0.25), NewNoise(99).At(0.5, 0.25))
	assert.InDelta(t, 0, n.At(3, 4), 1e-9, "lattice points are zero")
	for i := 0; i < 1000; i++ {
		v := n.Octaves(float64(i)*0.37, float64(i)*-0.11, 4, 0.5)
		assert.GreaterOrEqual(t, v, -1.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

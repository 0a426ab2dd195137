// Package region holds the unit of world persistence: a fixed grid of
// tile slices together with the deferred writes waiting on it and the
// atomic state that serializes its disk I/O.
//
// Tile access is unsynchronized. Simulation code must not touch tiles
// before IsGenerated reports true; loaders and generators populate a
// region through Populate or Install, which publish the whole grid at
// once.
package region

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/conneroisu/tessera/internal/document"
)

// Grid dimensions.
const (
	SliceSize     = 16
	RegionSize    = 8
	TilesPerSlice = SliceSize * SliceSize
	// Span is the width of a region in tiles.
	Span = RegionSize * SliceSize
)

// Key is a region coordinate in region-grid units.
type Key struct {
	X, Y int32
}

func (k Key) String() string {
	return fmt.Sprintf("(%d,%d)", k.X, k.Y)
}

// Neighbor returns the key offset by dx, dy regions.
func (k Key) Neighbor(dx, dy int32) Key {
	return Key{X: k.X + dx, Y: k.Y + dy}
}

// Slice is a SliceSize x SliceSize block of tiles stored row-major.
type Slice struct {
	Tiles    []int32
	Walls    []int32
	Light    []byte
	Entities map[int]*document.Compound
}

// NewSlice returns an empty slice with every array allocated.
func NewSlice() *Slice {
	return &Slice{
		Tiles: make([]int32, TilesPerSlice),
		Walls: make([]int32, TilesPerSlice),
		Light: make([]byte, TilesPerSlice),
	}
}

// Index converts slice-local coordinates into an array index.
func Index(x, y int) int {
	return y*SliceSize + x
}

// Grid is the full slice layout of a region, indexed [y][x].
type Grid [RegionSize][RegionSize]*Slice

// NewGrid allocates every slice.
func NewGrid() *Grid {
	var g Grid
	for y := range g {
		for x := range g[y] {
			g[y][x] = NewSlice()
		}
	}
	return &g
}

type ioState uint32

const (
	ioIdle ioState = iota
	ioLoading
	ioSaving
)

func (s ioState) String() string {
	switch s {
	case ioIdle:
		return "idle"
	case ioLoading:
		return "loading"
	case ioSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// Region is one cached unit of terrain.
type Region struct {
	key  Key
	grid *Grid

	generated atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	// io holds the single permit word; load and save exclude each other.
	io atomic.Uint32

	// revision counts modifications, saved is the revision last written.
	revision atomic.Uint64
	saved    atomic.Uint64

	mu         sync.Mutex
	structures []Structure
	actions    []Action
}

// New returns an ungenerated region.
func New(x, y int32) *Region {
	return &Region{
		key:   Key{X: x, Y: y},
		ready: make(chan struct{}),
	}
}

func (r *Region) Key() Key { return r.key }
func (r *Region) X() int32 { return r.key.X }
func (r *Region) Y() int32 { return r.key.Y }

func (r *Region) String() string {
	return "region" + r.key.String()
}

// IsGenerated reports whether the slice grid is populated.
func (r *Region) IsGenerated() bool {
	return r.generated.Load()
}

// MarkGenerated flips the region to generated. Later calls do nothing. A
// region marked without a grid gets an empty one so the grid is populated
// whenever the flag is set.
func (r *Region) MarkGenerated() {
	if r.generated.Load() {
		return
	}
	r.readyOnce.Do(func() {
		if r.grid == nil {
			r.grid = NewGrid()
		}
		r.revision.Add(1)
		r.generated.Store(true)
		close(r.ready)
	})
}

// Ready is closed once the region is generated.
func (r *Region) Ready() <-chan struct{} {
	return r.ready
}

// Populate installs a complete grid in one assignment. Missing slices are
// allocated empty. It must be called before MarkGenerated by the goroutine
// holding the load permit.
func (r *Region) Populate(g *Grid) {
	for y := range g {
		for x := range g[y] {
			if g[y][x] == nil {
				g[y][x] = NewSlice()
			}
		}
	}
	r.grid = g
	r.revision.Add(1)
}

// Slice returns the slice at slice-grid position (sx, sy), nil before the
// grid exists.
func (r *Region) Slice(sx, sy int) *Slice {
	if r.grid == nil {
		return nil
	}
	return r.grid[sy][sx]
}

func (r *Region) locate(x, y int) (*Slice, int) {
	return r.grid[y/SliceSize][x/SliceSize], Index(x%SliceSize, y%SliceSize)
}

// TileAt returns the tile ID at region-local tile coordinates.
func (r *Region) TileAt(x, y int) int32 {
	s, i := r.locate(x, y)
	return s.Tiles[i]
}

func (r *Region) SetTileAt(x, y int, id int32) {
	s, i := r.locate(x, y)
	s.Tiles[i] = id
	r.revision.Add(1)
}

func (r *Region) WallAt(x, y int) int32 {
	s, i := r.locate(x, y)
	return s.Walls[i]
}

func (r *Region) SetWallAt(x, y int, id int32) {
	s, i := r.locate(x, y)
	s.Walls[i] = id
	r.revision.Add(1)
}

func (r *Region) LightAt(x, y int) byte {
	s, i := r.locate(x, y)
	return s.Light[i]
}

// SetLightAt does not mark the region dirty; light is recomputed state.
func (r *Region) SetLightAt(x, y int, level byte) {
	s, i := r.locate(x, y)
	s.Light[i] = level
}

// TileEntityAt returns the tile entity data at a tile, or nil.
func (r *Region) TileEntityAt(x, y int) *document.Compound {
	s, i := r.locate(x, y)
	return s.Entities[i]
}

// SetTileEntityAt stores entity data for a tile; nil removes it.
func (r *Region) SetTileEntityAt(x, y int, data *document.Compound) {
	s, i := r.locate(x, y)
	if data == nil {
		delete(s.Entities, i)
	} else {
		if s.Entities == nil {
			s.Entities = make(map[int]*document.Compound)
		}
		s.Entities[i] = data
	}
	r.revision.Add(1)
}

// LoadPermit tries to claim the right to load the region.
func (r *Region) LoadPermit() bool {
	return r.io.CompareAndSwap(uint32(ioIdle), uint32(ioLoading))
}

// SavePermit tries to claim the right to save the region.
func (r *Region) SavePermit() bool {
	return r.io.CompareAndSwap(uint32(ioIdle), uint32(ioSaving))
}

// FinishLoading releases a load permit. Releasing a permit that is not
// held panics.
func (r *Region) FinishLoading() {
	if !r.io.CompareAndSwap(uint32(ioLoading), uint32(ioIdle)) {
		panic(fmt.Sprintf("%s: FinishLoading without load permit (state %s)", r, ioState(r.io.Load())))
	}
}

// FinishSaving releases a save permit. Releasing a permit that is not
// held panics.
func (r *Region) FinishSaving() {
	if !r.io.CompareAndSwap(uint32(ioSaving), uint32(ioIdle)) {
		panic(fmt.Sprintf("%s: FinishSaving without save permit (state %s)", r, ioState(r.io.Load())))
	}
}

// PermitOutstanding reports whether a load or save permit is held.
func (r *Region) PermitOutstanding() bool {
	return ioState(r.io.Load()) != ioIdle
}

// IOState names the current permit holder: idle, loading or saving.
func (r *Region) IOState() string {
	return ioState(r.io.Load()).String()
}

// Revision returns the modification counter.
func (r *Region) Revision() uint64 {
	return r.revision.Load()
}

// LastSaved returns the revision most recently written to disk.
func (r *Region) LastSaved() uint64 {
	return r.saved.Load()
}

// Dirty reports whether the region changed since it was last saved or
// loaded.
func (r *Region) Dirty() bool {
	return r.revision.Load() != r.saved.Load()
}

// MarkDirty records an out-of-band modification, for callers that write
// slice arrays directly.
func (r *Region) MarkDirty() {
	r.revision.Add(1)
}

// MarkSaved records that revision rev reached disk. The marker only moves
// forward.
func (r *Region) MarkSaved(rev uint64) {
	for {
		cur := r.saved.Load()
		if rev <= cur || r.saved.CompareAndSwap(cur, rev) {
			return
		}
	}
}

package region

import (
	"errors"
	"fmt"

	"github.com/conneroisu/tessera/internal/document"
)

// Versions of the region layout. Writers always produce CurrentVersion.
const (
	VersionLegacy  = 1
	CurrentVersion = 2
)

// ErrCorrupt reports a region document that does not describe a valid
// region.
var ErrCorrupt = errors.New("corrupt region document")

// Snapshot is a decoded region that has not been installed yet.
type Snapshot struct {
	Generated  bool
	Grid       *Grid
	Structures []Structure
	Actions    []Action
}

// SliceName is the compound key of slice (sx, sy).
func SliceName(sx, sy int) string {
	return fmt.Sprintf("slice%d_%d", sx, sy)
}

// Encode writes the region into a fresh compound in the current layout
// and returns the revision it captured. Arrays are copied so the result
// is detached from the live grid.
func Encode(r *Region) (*document.Compound, uint64) {
	rev := r.Revision()
	root := document.NewCompound()
	generated := r.IsGenerated()
	root.PutBool("generated", generated)

	if generated {
		for sy := 0; sy < RegionSize; sy++ {
			for sx := 0; sx < RegionSize; sx++ {
				encodeSlice(root.CreateCompound(SliceName(sx, sy)), r.grid[sy][sx])
			}
		}
	}

	structures, actions := r.Queued()
	if len(actions) > 0 {
		list := root.CreateList("queuedActions")
		for _, a := range actions {
			c := list.AddCompound()
			c.PutString("kind", a.Kind.String())
			c.PutInt("x", a.X)
			c.PutInt("y", a.Y)
			c.PutInt("value", a.Value)
		}
	}
	if len(structures) > 0 {
		list := root.CreateList("queuedStructures")
		for _, s := range structures {
			c := list.AddCompound()
			c.PutString("structureName", s.Name)
			c.PutInt("sliceX", s.SliceX)
			c.PutInt("sliceY", s.SliceY)
			c.PutInt("tileX", s.TileX)
			c.PutInt("tileY", s.TileY)
			c.PutInt("offsetX", s.OffsetX)
			c.PutInt("offsetY", s.OffsetY)
		}
	}
	return root, rev
}

func encodeSlice(c *document.Compound, s *Slice) {
	c.PutIntArray("tiles", append([]int32(nil), s.Tiles...))
	c.PutIntArray("walls", append([]int32(nil), s.Walls...))
	c.PutByteArray("light", append([]byte(nil), s.Light...))
	if len(s.Entities) == 0 {
		return
	}
	list := c.CreateList("tileEntities")
	for i := 0; i < TilesPerSlice; i++ {
		data, ok := s.Entities[i]
		if !ok {
			continue
		}
		e := list.AddCompound()
		e.PutInt("index", int32(i))
		e.PutCompound("data", data.Clone())
	}
}

// reader decodes the parts of the layout that changed between versions.
type reader interface {
	slice(c *document.Compound) (*Slice, error)
	structureName(c *document.Compound) string
}

var readers = map[int]reader{
	VersionLegacy:  legacyReader{},
	CurrentVersion: currentReader{},
}

// SupportedVersion reports whether Decode can read version.
func SupportedVersion(version int) bool {
	_, ok := readers[version]
	return ok
}

// Decode parses a region document written in the given layout version.
// It never touches a live region.
func Decode(root *document.Compound, version int) (*Snapshot, error) {
	rd, ok := readers[version]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	generated, ok := root.OptBool("generated")
	if !ok {
		return nil, fmt.Errorf("%w: missing generated flag", ErrCorrupt)
	}
	snap := &Snapshot{Generated: generated}

	if generated {
		var grid Grid
		for sy := 0; sy < RegionSize; sy++ {
			for sx := 0; sx < RegionSize; sx++ {
				name := SliceName(sx, sy)
				c, ok := root.OptCompound(name)
				if !ok {
					return nil, fmt.Errorf("%w: missing %s", ErrCorrupt, name)
				}
				s, err := rd.slice(c)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", name, err)
				}
				grid[sy][sx] = s
			}
		}
		snap.Grid = &grid
	}

	if list, ok := root.OptList("queuedActions"); ok {
		for _, c := range list.Compounds() {
			kind, ok := ParseActionKind(c.GetString("kind"))
			if !ok {
				return nil, fmt.Errorf("%w: unknown action %q", ErrCorrupt, c.GetString("kind"))
			}
			snap.Actions = append(snap.Actions, Action{
				Kind:  kind,
				X:     c.GetInt("x"),
				Y:     c.GetInt("y"),
				Value: c.GetInt("value"),
			})
		}
	}

	if list, ok := root.OptList("queuedStructures"); ok {
		for _, c := range list.Compounds() {
			snap.Structures = append(snap.Structures, Structure{
				Name:    rd.structureName(c),
				SliceX:  c.GetInt("sliceX"),
				SliceY:  c.GetInt("sliceY"),
				TileX:   c.GetInt("tileX"),
				TileY:   c.GetInt("tileY"),
				OffsetX: c.GetInt("offsetX"),
				OffsetY: c.GetInt("offsetY"),
			})
		}
	}

	return snap, nil
}

type currentReader struct{}

func (currentReader) slice(c *document.Compound) (*Slice, error) {
	tiles, err := intArray(c, "tiles")
	if err != nil {
		return nil, err
	}
	walls, err := intArray(c, "walls")
	if err != nil {
		return nil, err
	}
	light, ok := c.OptByteArray("light")
	if !ok || len(light) != TilesPerSlice {
		return nil, fmt.Errorf("%w: light must hold %d bytes", ErrCorrupt, TilesPerSlice)
	}
	s := &Slice{Tiles: tiles, Walls: walls, Light: light}
	return s, readEntities(c, s)
}

func (currentReader) structureName(c *document.Compound) string {
	return c.GetString("structureName")
}

// legacyReader reads version 1 files: light as an int array, no walls and
// structures keyed by schematicName.
type legacyReader struct{}

func (legacyReader) slice(c *document.Compound) (*Slice, error) {
	tiles, err := intArray(c, "tiles")
	if err != nil {
		return nil, err
	}
	levels, err := intArray(c, "light")
	if err != nil {
		return nil, err
	}
	s := &Slice{
		Tiles: tiles,
		Walls: make([]int32, TilesPerSlice),
		Light: make([]byte, TilesPerSlice),
	}
	for i, v := range levels {
		s.Light[i] = byte(v)
	}
	return s, readEntities(c, s)
}

func (legacyReader) structureName(c *document.Compound) string {
	if name, ok := c.OptString("schematicName"); ok {
		return name
	}
	return c.GetString("structureName")
}

func intArray(c *document.Compound, name string) ([]int32, error) {
	v, ok := c.OptIntArray(name)
	if !ok || len(v) != TilesPerSlice {
		return nil, fmt.Errorf("%w: %s must hold %d ints", ErrCorrupt, name, TilesPerSlice)
	}
	return v, nil
}

func readEntities(c *document.Compound, s *Slice) error {
	list, ok := c.OptList("tileEntities")
	if !ok {
		return nil
	}
	for _, e := range list.Compounds() {
		index, ok := e.OptInt("index")
		if !ok || index < 0 || index >= TilesPerSlice {
			return fmt.Errorf("%w: tile entity index %d out of range", ErrCorrupt, index)
		}
		if s.Entities == nil {
			s.Entities = make(map[int]*document.Compound)
		}
		s.Entities[int(index)] = e.GetCompound("data")
	}
	return nil
}

// Install applies a decoded snapshot to the region in one step and marks
// it clean unless neighbors queued work on it meanwhile. The caller must hold the load permit.
func (r *Region) Install(s *Snapshot) {
	r.mu.Lock()
	// Entries queued by neighbors while the load ran are not on disk yet.
	pending := len(r.structures) > 0 || len(r.actions) > 0
	r.structures = append(r.structures, s.Structures...)
	r.actions = append(r.actions, s.Actions...)
	r.mu.Unlock()

	if s.Generated && !r.IsGenerated() {
		r.Populate(s.Grid)
		r.MarkGenerated()
	}
	if !pending {
		r.MarkSaved(r.Revision())
	}
}

package tiles

import (
	_ "embed"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/conneroisu/tessera/internal/document"
	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/region"
)

//go:embed default.hcl
var defaultRegistry []byte

// --- Registry file schema ---

type tileBlock struct {
	Name       string     `hcl:"name,label"`
	ID         int32      `hcl:"id"`
	Solid      bool       `hcl:"solid,optional"`
	Hardness   float64    `hcl:"hardness,optional"`
	Behavior   string     `hcl:"behavior,optional"`
	Light      int        `hcl:"light,optional"`
	Damage     int        `hcl:"damage,optional"`
	Properties *cty.Value `hcl:"properties,optional"`
}

type wallBlock struct {
	Name string `hcl:"name,label"`
	ID   int32  `hcl:"id"`
}

type structureBlock struct {
	Name    string  `hcl:"name,label"`
	Width   int     `hcl:"width"`
	Height  int     `hcl:"height"`
	Tiles   []int32 `hcl:"tiles"`
	Walls   []int32 `hcl:"walls,optional"`
	Rarity  int     `hcl:"rarity,optional"`
	Surface bool    `hcl:"surface,optional"`
}

type registryFile struct {
	Tiles      []*tileBlock      `hcl:"tile,block"`
	Walls      []*wallBlock      `hcl:"wall,block"`
	Structures []*structureBlock `hcl:"structure,block"`
}

// Registry is an immutable set of definitions.
type Registry struct {
	tiles      map[int32]*Tile
	tileNames  map[string]*Tile
	walls      map[int32]*Wall
	wallNames  map[string]*Wall
	structures map[string]*Structure
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := Parse(defaultRegistry, "default.hcl")
	if err != nil {
		panic(fmt.Sprintf("tiles: built-in registry is invalid: %v", err))
	}
	return r
}

// LoadFile parses the registry file at path.
func LoadFile(path string) (*Registry, error) {
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, registryError(path, "failed to parse registry", diags)
	}
	return decode(file, path)
}

// Parse parses registry source; filename is used in diagnostics.
func Parse(src []byte, filename string) (*Registry, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, registryError(filename, "failed to parse registry", diags)
	}
	return decode(file, filename)
}

func registryError(path, msg string, cause error) error {
	if cause == nil {
		return terrors.NewConfigError(terrors.ErrCodeRegistryInvalid, msg).WithPath(path)
	}
	return terrors.WrapConfig(cause, terrors.ErrCodeRegistryInvalid, msg).WithPath(path)
}

func decode(file *hcl.File, filename string) (*Registry, error) {
	var raw registryFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, registryError(filename, "failed to decode registry", diags)
	}

	r := &Registry{
		tiles:      make(map[int32]*Tile),
		tileNames:  make(map[string]*Tile),
		walls:      make(map[int32]*Wall),
		wallNames:  make(map[string]*Wall),
		structures: make(map[string]*Structure),
	}
	for _, b := range raw.Tiles {
		t, err := b.tile()
		if err != nil {
			return nil, registryError(filename, "invalid tile "+b.Name, err)
		}
		if _, dup := r.tiles[t.ID]; dup {
			return nil, registryError(filename, fmt.Sprintf("duplicate tile id %d", t.ID), nil)
		}
		if _, dup := r.tileNames[t.Name]; dup {
			return nil, registryError(filename, "duplicate tile name "+t.Name, nil)
		}
		r.tiles[t.ID] = t
		r.tileNames[t.Name] = t
	}
	if air, ok := r.tiles[Air]; !ok || air.Solid {
		return nil, registryError(filename, "tile id 0 must be defined and not solid", nil)
	}

	for _, b := range raw.Walls {
		if _, dup := r.walls[b.ID]; dup {
			return nil, registryError(filename, fmt.Sprintf("duplicate wall id %d", b.ID), nil)
		}
		w := &Wall{ID: b.ID, Name: b.Name}
		r.walls[w.ID] = w
		r.wallNames[w.Name] = w
	}

	for _, b := range raw.Structures {
		s, err := r.structure(b)
		if err != nil {
			return nil, registryError(filename, "invalid structure "+b.Name, err)
		}
		r.structures[s.Name] = s
	}
	return r, nil
}

func (b *tileBlock) tile() (*Tile, error) {
	if b.ID < 0 {
		return nil, fmt.Errorf("negative id %d", b.ID)
	}
	behavior, err := ParseBehavior(b.Behavior)
	if err != nil {
		return nil, err
	}
	if b.Light < 0 || b.Light > math.MaxUint8 {
		return nil, fmt.Errorf("light %d out of range", b.Light)
	}
	props := document.NewCompound()
	if b.Properties != nil && !b.Properties.IsNull() {
		props, err = compoundFromCty(*b.Properties)
		if err != nil {
			return nil, fmt.Errorf("properties: %w", err)
		}
	}
	return &Tile{
		ID:         b.ID,
		Name:       b.Name,
		Solid:      b.Solid,
		Hardness:   b.Hardness,
		Behavior:   behavior,
		Light:      byte(b.Light),
		Damage:     b.Damage,
		Properties: props,
	}, nil
}

func (r *Registry) structure(b *structureBlock) (*Structure, error) {
	if b.Width <= 0 || b.Height <= 0 || b.Width > region.Span || b.Height > region.Span {
		return nil, fmt.Errorf("size %dx%d out of range", b.Width, b.Height)
	}
	cells := b.Width * b.Height
	if len(b.Tiles) != cells {
		return nil, fmt.Errorf("has %d tiles, want %d", len(b.Tiles), cells)
	}
	if len(b.Walls) != 0 && len(b.Walls) != cells {
		return nil, fmt.Errorf("has %d walls, want %d", len(b.Walls), cells)
	}
	for _, id := range b.Tiles {
		if _, ok := r.tiles[id]; id != Keep && !ok {
			return nil, fmt.Errorf("unknown tile id %d", id)
		}
	}
	return &Structure{
		Name:    b.Name,
		Width:   b.Width,
		Height:  b.Height,
		Tiles:   b.Tiles,
		Walls:   b.Walls,
		Rarity:  b.Rarity,
		Surface: b.Surface,
	}, nil
}

// compoundFromCty converts an HCL object into a document compound. Whole
// numbers become ints, other numbers doubles; lists of whole numbers
// become int arrays.
func compoundFromCty(val cty.Value) (*document.Compound, error) {
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", val.Type().FriendlyName())
	}
	c := document.NewCompound()
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		dv, err := valueFromCty(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k.AsString(), err)
		}
		c.Put(k.AsString(), dv)
	}
	return c, nil
}

func valueFromCty(val cty.Value) (document.Value, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, fmt.Errorf("null values are not supported")
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return document.String(val.AsString()), nil
	case ty == cty.Bool:
		return document.Bool(val.True()), nil
	case ty == cty.Number:
		return numberValue(val.AsBigFloat()), nil
	case ty.IsObjectType() || ty.IsMapType():
		return compoundFromCty(val)
	case ty.IsTupleType() || ty.IsListType():
		ints := make([]int32, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			if v.Type() != cty.Number {
				return nil, fmt.Errorf("only lists of numbers are supported")
			}
			n, ok := numberValue(v.AsBigFloat()).(document.Int)
			if !ok {
				return nil, fmt.Errorf("list element %s is not a 32-bit integer", v.AsBigFloat().String())
			}
			ints = append(ints, int32(n))
		}
		return document.IntArray(ints), nil
	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}

func numberValue(f *big.Float) document.Value {
	if f.IsInt() {
		if i, acc := f.Int64(); acc == big.Exact && i >= math.MinInt32 && i <= math.MaxInt32 {
			return document.Int(int32(i))
		}
	}
	v, _ := f.Float64()
	return document.Double(v)
}

// Tile returns the definition of id.
func (r *Registry) Tile(id int32) (*Tile, bool) {
	t, ok := r.tiles[id]
	return t, ok
}

// TileByName returns the definition named name.
func (r *Registry) TileByName(name string) (*Tile, bool) {
	t, ok := r.tileNames[name]
	return t, ok
}

// MustTile is TileByName for names the caller knows exist.
func (r *Registry) MustTile(name string) *Tile {
	t, ok := r.tileNames[name]
	if !ok {
		panic("tiles: unknown tile " + name)
	}
	return t
}

// Wall returns the wall definition of id.
func (r *Registry) Wall(id int32) (*Wall, bool) {
	w, ok := r.walls[id]
	return w, ok
}

// WallByName returns the wall named name.
func (r *Registry) WallByName(name string) (*Wall, bool) {
	w, ok := r.wallNames[name]
	return w, ok
}

// Structure returns the schematic named name.
func (r *Registry) Structure(name string) (*Structure, bool) {
	s, ok := r.structures[name]
	return s, ok
}

// Tiles returns every tile sorted by ID.
func (r *Registry) Tiles() []*Tile {
	out := make([]*Tile, 0, len(r.tiles))
	for _, t := range r.tiles {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Structures returns every schematic sorted by name.
func (r *Registry) Structures() []*Structure {
	out := make([]*Structure, 0, len(r.structures))
	for _, s := range r.structures {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Place sets tile id at (x, y) and runs its OnPlace hook.
func (r *Registry) Place(reg *region.Region, x, y int, id int32) error {
	t, ok := r.tiles[id]
	if !ok {
		return terrors.NewValidationError(terrors.ErrCodeRegistryInvalid, fmt.Sprintf("unknown tile id %d", id))
	}
	reg.SetTileAt(x, y, id)
	CapabilityOf(t.Behavior).OnPlace(reg, x, y, t)
	return nil
}

// Break replaces the tile at (x, y) with air after running its OnBreak
// hook. It returns the broken definition, nil for air or unknown IDs.
func (r *Registry) Break(reg *region.Region, x, y int) *Tile {
	id := reg.TileAt(x, y)
	if id == Air {
		return nil
	}
	t, ok := r.tiles[id]
	reg.SetTileAt(x, y, Air)
	if !ok {
		return nil
	}
	CapabilityOf(t.Behavior).OnBreak(reg, x, y, t)
	return t
}

// Step runs the OnStep hook of the tile at (x, y) and returns the damage.
func (r *Registry) Step(reg *region.Region, x, y int) int {
	t, ok := r.tiles[reg.TileAt(x, y)]
	if !ok {
		return 0
	}
	return CapabilityOf(t.Behavior).OnStep(reg, x, y, t)
}

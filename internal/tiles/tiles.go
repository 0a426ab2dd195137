// Package tiles holds the tile, wall and structure definitions of a world
// and the behavior attached to each tile kind. A Registry is built once
// from an HCL file and shared read-only.
package tiles

import (
	"fmt"

	"github.com/conneroisu/tessera/internal/document"
)

// Air is the empty tile every registry defines.
const Air int32 = 0

// Behavior is the closed set of tile behaviors.
type Behavior uint8

const (
	BehaviorNone Behavior = iota
	// BehaviorFalling tiles drop until they rest on a non-air tile.
	BehaviorFalling
	// BehaviorLight tiles emit light that fades with distance.
	BehaviorLight
	// BehaviorContainer tiles own a tile entity seeded from their
	// properties.
	BehaviorContainer
	// BehaviorHazard tiles damage whatever steps on them.
	BehaviorHazard
)

var behaviorNames = map[Behavior]string{
	BehaviorNone:      "none",
	BehaviorFalling:   "falling",
	BehaviorLight:     "light",
	BehaviorContainer: "container",
	BehaviorHazard:    "hazard",
}

func (b Behavior) String() string {
	if s, ok := behaviorNames[b]; ok {
		return s
	}
	return fmt.Sprintf("behavior(%d)", uint8(b))
}

// ParseBehavior maps a registry behavior name to a Behavior. The empty
// string is BehaviorNone.
func ParseBehavior(s string) (Behavior, error) {
	if s == "" {
		return BehaviorNone, nil
	}
	for b, name := range behaviorNames {
		if name == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown tile behavior %q", s)
}

// Tile is one tile definition.
type Tile struct {
	ID       int32
	Name     string
	Solid    bool
	Hardness float64
	Behavior Behavior
	// Light is the emitted level for BehaviorLight tiles.
	Light byte
	// Damage is dealt per step for BehaviorHazard tiles.
	Damage int
	// Properties seed the tile entity of container tiles.
	Properties *document.Compound
}

// Wall is one background wall definition.
type Wall struct {
	ID   int32
	Name string
}

// Keep marks a structure cell that leaves the existing tile alone.
const Keep int32 = -1

// Structure is a rectangular schematic. Tiles and Walls are row-major
// with Width*Height cells; Keep cells are skipped when stamping.
type Structure struct {
	Name   string
	Width  int
	Height int
	Tiles  []int32
	Walls  []int32
	// Rarity is the chance in 1/1000 that a slice receives the structure.
	Rarity int
	// Surface structures sit on the terrain surface; others are buried.
	Surface bool
}

// TileAt returns the cell at (x, y) of the schematic.
func (s *Structure) TileAt(x, y int) int32 {
	return s.Tiles[y*s.Width+x]
}

// WallAt returns the wall cell at (x, y), Keep when the schematic has no
// walls.
func (s *Structure) WallAt(x, y int) int32 {
	if len(s.Walls) == 0 {
		return Keep
	}
	return s.Walls[y*s.Width+x]
}

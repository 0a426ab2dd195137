package tiles

import (
	"github.com/conneroisu/tessera/internal/region"
)

// Capability is the behavior hook set of a tile kind. Coordinates are
// region-local; effects never leave the region.
type Capability interface {
	OnPlace(r *region.Region, x, y int, t *Tile)
	OnBreak(r *region.Region, x, y int, t *Tile)
	// OnStep returns the damage dealt to whatever stepped on the tile.
	OnStep(r *region.Region, x, y int, t *Tile) int
}

var capabilities = map[Behavior]Capability{
	BehaviorNone:      inert{},
	BehaviorFalling:   falling{},
	BehaviorLight:     emitter{},
	BehaviorContainer: container{},
	BehaviorHazard:    hazard{},
}

// CapabilityOf returns the hooks of a behavior.
func CapabilityOf(b Behavior) Capability {
	if c, ok := capabilities[b]; ok {
		return c
	}
	return inert{}
}

type inert struct{}

func (inert) OnPlace(*region.Region, int, int, *Tile)    {}
func (inert) OnBreak(*region.Region, int, int, *Tile)    {}
func (inert) OnStep(*region.Region, int, int, *Tile) int { return 0 }

type falling struct{ inert }

// OnPlace moves the tile down while the cell below is air. Y grows
// downward.
func (falling) OnPlace(r *region.Region, x, y int, t *Tile) {
	for y+1 < region.Span && r.TileAt(x, y+1) == Air {
		r.SetTileAt(x, y, Air)
		y++
		r.SetTileAt(x, y, t.ID)
	}
}

type emitter struct{ inert }

func (emitter) OnPlace(r *region.Region, x, y int, t *Tile) {
	spreadLight(r, x, y, int(t.Light), func(cur, level byte) byte {
		if level > cur {
			return level
		}
		return cur
	})
}

func (emitter) OnBreak(r *region.Region, x, y int, t *Tile) {
	spreadLight(r, x, y, int(t.Light), func(byte, byte) byte { return 0 })
}

// spreadLight visits every cell within Manhattan distance level-1 of
// (x, y) and stores merge(current, level-distance).
func spreadLight(r *region.Region, x, y, level int, merge func(cur, level byte) byte) {
	reach := level - 1
	for dy := -reach; dy <= reach; dy++ {
		for dx := -reach; dx <= reach; dx++ {
			d := abs(dx) + abs(dy)
			if d > reach {
				continue
			}
			tx, ty := x+dx, y+dy
			if tx < 0 || ty < 0 || tx >= region.Span || ty >= region.Span {
				continue
			}
			r.SetLightAt(tx, ty, merge(r.LightAt(tx, ty), byte(level-d)))
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type container struct{ inert }

func (container) OnPlace(r *region.Region, x, y int, t *Tile) {
	data := t.Properties.Clone()
	data.PutString("kind", t.Name)
	r.SetTileEntityAt(x, y, data)
}

func (container) OnBreak(r *region.Region, x, y int, _ *Tile) {
	r.SetTileEntityAt(x, y, nil)
}

type hazard struct{ inert }

func (hazard) OnStep(_ *region.Region, _, _ int, t *Tile) int {
	return t.Damage
}

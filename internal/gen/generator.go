// Package gen is the reference terrain generator: layered gradient-noise
// terrain with caves and ores, plus registry structures that may cross
// region borders. The parts of a structure that fall into a neighbor are
// queued there and stamped when the neighbor is generated.
package gen

import (
	"context"
	"math/rand"

	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/tiles"
)

// Queuer receives structure parts destined for other regions.
type Queuer interface {
	QueueStructure(x, y int32, s region.Structure)
}

// Terrain shape, in tiles. Y grows downward.
const (
	SurfaceLevel     = 64
	SurfaceAmplitude = 24
	dirtDepth        = 4
	caveDepth        = 6
	skyLight         = 15
)

// Generator implements regionio.Generator and regionio.Stamper.
type Generator struct {
	seed    int64
	reg     *tiles.Registry
	terrain Noise
	caves   Noise
	ores    Noise
	queue   Queuer
	logger  logging.Logger

	air, stone, dirt, grass, ore int32
	dirtWall                     int32
}

// New creates a generator. The registry must define the tiles air,
// stone, dirt, grass and ore and the wall dirt_wall.
func New(seed int64, reg *tiles.Registry, logger logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	g := &Generator{
		seed:    seed,
		reg:     reg,
		terrain: NewNoise(seed),
		caves:   NewNoise(seed + 1),
		ores:    NewNoise(seed + 2),
		logger:  logger.WithComponent("gen"),
		air:     tiles.Air,
		stone:   reg.MustTile("stone").ID,
		dirt:    reg.MustTile("dirt").ID,
		grass:   reg.MustTile("grass").ID,
		ore:     reg.MustTile("ore").ID,
	}
	if w, ok := reg.WallByName("dirt_wall"); ok {
		g.dirtWall = w.ID
	}
	return g
}

// SetQueue sets where cross-border structure parts go. Without a queue
// they are dropped.
func (g *Generator) SetQueue(q Queuer) {
	g.queue = q
}

// SurfaceAt returns the world row of the surface in world column wx.
func (g *Generator) SurfaceAt(wx int64) int64 {
	h := g.terrain.Octaves(float64(wx)/96, 0.5, 4, 0.5)
	return SurfaceLevel + int64(h*SurfaceAmplitude)
}

// TileAt returns the terrain tile at world coordinates before structures.
func (g *Generator) TileAt(wx, wy int64) int32 {
	surface := g.SurfaceAt(wx)
	switch {
	case wy < surface:
		return g.air
	case wy == surface:
		return g.grass
	case wy <= surface+dirtDepth:
		return g.dirt
	case wy > surface+caveDepth && g.caves.Octaves(float64(wx)/24, float64(wy)/24, 2, 0.5) > 0.35:
		return g.air
	case g.ores.At(float64(wx)/6, float64(wy)/6) > 0.6:
		return g.ore
	default:
		return g.stone
	}
}

// Generate fills r with terrain, stamps its own structures and the ones
// neighbors queued, and marks it generated.
func (g *Generator) Generate(ctx context.Context, r *region.Region) error {
	op := logging.StartOperation(logging.WithRegion(g.logger, r.X(), r.Y()), "generate")
	grid := region.NewGrid()
	baseX := int64(r.X()) * region.Span
	baseY := int64(r.Y()) * region.Span

	for ly := 0; ly < region.Span; ly++ {
		if ly%region.SliceSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		for lx := 0; lx < region.Span; lx++ {
			wx, wy := baseX+int64(lx), baseY+int64(ly)
			s := grid[ly/region.SliceSize][lx/region.SliceSize]
			i := region.Index(lx%region.SliceSize, ly%region.SliceSize)

			id := g.TileAt(wx, wy)
			s.Tiles[i] = id
			surface := g.SurfaceAt(wx)
			if wy > surface && wy <= surface+dirtDepth {
				s.Walls[i] = g.dirtWall
			}
			if wy < surface {
				s.Light[i] = skyLight
			}
		}
	}

	c := &gridCanvas{grid: grid, reg: g.reg}
	placed := g.placeStructures(r, c)
	queued := r.DrainStructures()
	for _, q := range queued {
		g.stampQueued(c, q)
	}

	r.Populate(grid)
	r.MarkGenerated()
	op.End(ctx, "structures", placed, "queued_structures", len(queued))
	return nil
}

// StampStructures stamps structures queued on an already generated
// region.
func (g *Generator) StampStructures(r *region.Region) int {
	queued := r.DrainStructures()
	c := &regionCanvas{region: r, reg: g.reg}
	for _, q := range queued {
		g.stampQueued(c, q)
	}
	return len(queued)
}

func (g *Generator) stampQueued(c canvas, q region.Structure) {
	s, ok := g.reg.Structure(q.Name)
	if !ok {
		g.logger.Warn(context.Background(), nil, "Dropping unknown queued structure", "name", q.Name)
		return
	}
	ox, oy := q.Origin()
	stamp(c, s, ox, oy, int(q.OffsetX), int(q.OffsetY))
}

// sliceRand is the deterministic random source of one slice.
func (g *Generator) sliceRand(r *region.Region, sx, sy int) *rand.Rand {
	wsx := int64(r.X())*region.RegionSize + int64(sx)
	wsy := int64(r.Y())*region.RegionSize + int64(sy)
	return rand.New(rand.NewSource(int64(NewNoise(g.seed).hash(wsx, wsy))))
}

func (g *Generator) placeStructures(r *region.Region, c canvas) int {
	placed := 0
	structures := g.reg.Structures()
	baseX := int64(r.X()) * region.Span
	baseY := int64(r.Y()) * region.Span

	for sy := 0; sy < region.RegionSize; sy++ {
		for sx := 0; sx < region.RegionSize; sx++ {
			rng := g.sliceRand(r, sx, sy)
			for _, s := range structures {
				if s.Rarity <= 0 || rng.Intn(1000) >= s.Rarity {
					continue
				}
				ox := sx*region.SliceSize + rng.Intn(region.SliceSize)
				oy := sy*region.SliceSize + rng.Intn(region.SliceSize)
				surface := g.SurfaceAt(baseX + int64(ox))
				if s.Surface {
					// Rest on the surface, and only from the slice row holding it.
					top := surface - int64(s.Height) + 1 - baseY
					if top/region.SliceSize != int64(sy) || top < 0 {
						continue
					}
					oy = int(top)
				} else if baseY+int64(oy) <= surface+caveDepth {
					continue
				}
				stamp(c, s, ox, oy, 0, 0)
				g.queueOverflow(r, s, ox, oy)
				placed++
			}
		}
	}
	return placed
}

// queueOverflow hands the parts of s beyond the right and bottom edges to
// the neighbors. Structures never start left of or above their region.
func (g *Generator) queueOverflow(r *region.Region, s *tiles.Structure, ox, oy int) {
	if g.queue == nil {
		return
	}
	for _, d := range [][2]int{{1, 0}, {0, 1}, {1, 1}} {
		offX, landX := 0, ox
		if d[0] == 1 {
			offX, landX = region.Span-ox, 0
		}
		offY, landY := 0, oy
		if d[1] == 1 {
			offY, landY = region.Span-oy, 0
		}
		if offX >= s.Width || offY >= s.Height {
			continue
		}
		n := r.Key().Neighbor(int32(d[0]), int32(d[1]))
		g.queue.QueueStructure(n.X, n.Y, region.Structure{
			Name:    s.Name,
			SliceX:  int32(landX / region.SliceSize),
			SliceY:  int32(landY / region.SliceSize),
			TileX:   int32(landX % region.SliceSize),
			TileY:   int32(landY % region.SliceSize),
			OffsetX: int32(offX),
			OffsetY: int32(offY),
		})
	}
}

// canvas is a target structures are stamped onto.
type canvas interface {
	setTile(x, y int, id int32)
	setWall(x, y int, id int32)
}

// stamp writes the cells of s from (offX, offY) onward with that cell at
// region-local (ox, oy). Cells outside the region are clipped.
func stamp(c canvas, s *tiles.Structure, ox, oy, offX, offY int) {
	for cy := offY; cy < s.Height; cy++ {
		ly := oy + cy - offY
		if ly < 0 || ly >= region.Span {
			continue
		}
		for cx := offX; cx < s.Width; cx++ {
			lx := ox + cx - offX
			if lx < 0 || lx >= region.Span {
				continue
			}
			if id := s.TileAt(cx, cy); id != tiles.Keep {
				c.setTile(lx, ly, id)
			}
			if id := s.WallAt(cx, cy); id != tiles.Keep {
				c.setWall(lx, ly, id)
			}
		}
	}
}

// gridCanvas writes into a grid that is not published yet.
type gridCanvas struct {
	grid *region.Grid
	reg  *tiles.Registry
}

func (c *gridCanvas) cell(x, y int) (*region.Slice, int) {
	return c.grid[y/region.SliceSize][x/region.SliceSize], region.Index(x%region.SliceSize, y%region.SliceSize)
}

func (c *gridCanvas) setTile(x, y int, id int32) {
	s, i := c.cell(x, y)
	s.Tiles[i] = id
	delete(s.Entities, i)
	if t, ok := c.reg.Tile(id); ok && t.Behavior == tiles.BehaviorContainer {
		data := t.Properties.Clone()
		data.PutString("kind", t.Name)
		if s.Entities == nil {
			s.Entities = make(map[int]*document.Compound)
		}
		s.Entities[i] = data
	}
}

func (c *gridCanvas) setWall(x, y int, id int32) {
	s, i := c.cell(x, y)
	s.Walls[i] = id
}

// regionCanvas writes into a generated region through the registry so
// tile behaviors run.
type regionCanvas struct {
	region *region.Region
	reg    *tiles.Registry
}

func (c *regionCanvas) setTile(x, y int, id int32) {
	c.reg.Break(c.region, x, y)
	if err := c.reg.Place(c.region, x, y, id); err != nil {
		c.region.SetTileAt(x, y, id)
	}
}

func (c *regionCanvas) setWall(x, y int, id int32) {
	c.region.SetWallAt(x, y, id)
}

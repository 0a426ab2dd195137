package region

import "fmt"

// Structure is a schematic placement waiting for this region to be
// generated. The schematic cell (OffsetX, OffsetY) lands on the tile
// (TileX, TileY) of slice (SliceX, SliceY); cells before the offset were
// already stamped into a neighbor.
type Structure struct {
	Name    string
	SliceX  int32
	SliceY  int32
	TileX   int32
	TileY   int32
	OffsetX int32
	OffsetY int32
}

// Origin returns the region-local tile the structure starts at.
func (s Structure) Origin() (int, int) {
	return int(s.SliceX)*SliceSize + int(s.TileX), int(s.SliceY)*SliceSize + int(s.TileY)
}

// ActionKind selects what a deferred Action writes.
type ActionKind uint8

const (
	ActionSetTile ActionKind = iota + 1
	ActionSetWall
	ActionClearEntity
)

func (k ActionKind) String() string {
	switch k {
	case ActionSetTile:
		return "set_tile"
	case ActionSetWall:
		return "set_wall"
	case ActionClearEntity:
		return "clear_entity"
	default:
		return fmt.Sprintf("action(%d)", uint8(k))
	}
}

// ParseActionKind is the inverse of ActionKind.String.
func ParseActionKind(s string) (ActionKind, bool) {
	for k := ActionSetTile; k <= ActionClearEntity; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Action is a tile mutation deferred until the region is generated.
// X and Y are region-local tile coordinates.
type Action struct {
	Kind  ActionKind
	X     int32
	Y     int32
	Value int32
}

// Apply performs the mutation on a generated region.
func (a Action) Apply(r *Region) {
	x, y := int(a.X), int(a.Y)
	switch a.Kind {
	case ActionSetTile:
		r.SetTileAt(x, y, a.Value)
	case ActionSetWall:
		r.SetWallAt(x, y, a.Value)
	case ActionClearEntity:
		r.SetTileEntityAt(x, y, nil)
	}
}

// AddStructure queues a structure placement.
func (r *Region) AddStructure(s Structure) {
	r.mu.Lock()
	r.structures = append(r.structures, s)
	r.mu.Unlock()
	r.revision.Add(1)
}

func (r *Region) HasQueuedStructures() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.structures) > 0
}

// DrainStructures removes and returns every queued structure.
func (r *Region) DrainStructures() []Structure {
	r.mu.Lock()
	out := r.structures
	r.structures = nil
	r.mu.Unlock()
	if len(out) > 0 {
		r.revision.Add(1)
	}
	return out
}

// AddAction queues a deferred mutation.
func (r *Region) AddAction(a Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
	r.revision.Add(1)
}

func (r *Region) HasQueuedActions() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions) > 0
}

// DrainActions removes and returns every queued action.
func (r *Region) DrainActions() []Action {
	r.mu.Lock()
	out := r.actions
	r.actions = nil
	r.mu.Unlock()
	if len(out) > 0 {
		r.revision.Add(1)
	}
	return out
}

// ApplyActions drains the action queue into the grid. It does nothing
// before generation.
func (r *Region) ApplyActions() int {
	if !r.IsGenerated() {
		return 0
	}
	actions := r.DrainActions()
	for _, a := range actions {
		a.Apply(r)
	}
	return len(actions)
}

// TrimQueued drops the first structures and actions entries of the
// queues once they are stored elsewhere. Entries queued after them stay.
// The revision is unchanged: the dropped entries are not lost.
func (r *Region) TrimQueued(structures, actions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	structures = min(structures, len(r.structures))
	actions = min(actions, len(r.actions))
	r.structures = append([]Structure(nil), r.structures[structures:]...)
	r.actions = append([]Action(nil), r.actions[actions:]...)
}

// Queued copies both queues without draining them.
func (r *Region) Queued() ([]Structure, []Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Structure(nil), r.structures...), append([]Action(nil), r.actions...)
}

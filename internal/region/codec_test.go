package region

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tessera/internal/document"
)

func sampleRegion(t *testing.T) *Region {
	t.Helper()
	r := generatedRegion(2, -1)
	r.SetTileAt(5, 5, 42)
	r.SetWallAt(100, 7, 3)
	r.SetLightAt(127, 127, 15)
	chest := document.NewCompound()
	chest.PutString("kind", "chest")
	chest.PutIntArray("items", []int32{1, 2, 3})
	r.SetTileEntityAt(33, 40, chest)
	r.AddAction(Action{Kind: ActionSetWall, X: 1, Y: 2, Value: 9})
	r.AddStructure(Structure{Name: "ruin", SliceX: 7, SliceY: 7, TileX: 15, TileY: 15, OffsetX: 4, OffsetY: 1})
	return r
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := sampleRegion(t)
	root, rev := Encode(src)
	assert.Equal(t, src.Revision(), rev)

	// Through both encodings to make sure nothing relies on in-memory identity.
	for _, format := range []document.Format{document.FormatTagged, document.FormatCompact} {
		t.Run(format.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, document.Wrap(format, root).Write(&buf))
			doc, err := document.Read(&buf, format)
			require.NoError(t, err)

			snap, err := Decode(doc.Root(), CurrentVersion)
			require.NoError(t, err)

			dst := New(2, -1)
			dst.Install(snap)

			require.True(t, dst.IsGenerated())
			assert.False(t, dst.Dirty(), "a freshly loaded region is clean")
			assert.Equal(t, int32(42), dst.TileAt(5, 5))
			assert.Equal(t, int32(3), dst.WallAt(100, 7))
			assert.Equal(t, byte(15), dst.LightAt(127, 127))
			assert.Equal(t, "chest", dst.TileEntityAt(33, 40).GetString("kind"))
			assert.Equal(t, []Action{{Kind: ActionSetWall, X: 1, Y: 2, Value: 9}}, dst.DrainActions())
			assert.Equal(t, []Structure{{Name: "ruin", SliceX: 7, SliceY: 7, TileX: 15, TileY: 15, OffsetX: 4, OffsetY: 1}}, dst.DrainStructures())
		})
	}
}

func TestEncodeIsDetached(t *testing.T) {
	r := generatedRegion(0, 0)
	root, _ := Encode(r)
	r.SetTileAt(0, 0, 77)
	assert.Equal(t, int32(0), root.GetCompound(SliceName(0, 0)).GetIntArray("tiles")[0])
}

func TestUngeneratedRegionKeepsQueues(t *testing.T) {
	r := New(4, 4)
	r.AddStructure(Structure{Name: "tree", TileX: 2})
	root, _ := Encode(r)

	assert.False(t, root.GetBool("generated"))
	assert.False(t, root.Has(SliceName(0, 0)))

	snap, err := Decode(root, CurrentVersion)
	require.NoError(t, err)
	dst := New(4, 4)
	dst.Install(snap)
	assert.False(t, dst.IsGenerated())
	assert.True(t, dst.HasQueuedStructures())
}

func TestDecodeLegacyVersion(t *testing.T) {
	root := document.NewCompound()
	root.PutBool("generated", true)
	for sy := 0; sy < RegionSize; sy++ {
		for sx := 0; sx < RegionSize; sx++ {
			c := root.CreateCompound(SliceName(sx, sy))
			tiles := make([]int32, TilesPerSlice)
			light := make([]int32, TilesPerSlice)
			tiles[0] = int32(sx + sy*RegionSize)
			light[1] = 12
			c.PutIntArray("tiles", tiles)
			c.PutIntArray("light", light)
		}
	}
	s := root.CreateList("queuedStructures").AddCompound()
	s.PutString("schematicName", "well")

	_, err := Decode(root, CurrentVersion)
	assert.ErrorIs(t, err, ErrCorrupt, "legacy files do not match the current layout")

	snap, err := Decode(root, VersionLegacy)
	require.NoError(t, err)
	r := New(0, 0)
	r.Install(snap)

	assert.Equal(t, int32(9), r.TileAt(SliceSize, SliceSize))
	assert.Equal(t, byte(12), r.LightAt(1, 0))
	assert.Equal(t, int32(0), r.WallAt(0, 0))
	assert.Equal(t, "well", r.DrainStructures()[0].Name)
}

func TestDecodeRejectsCorruptDocuments(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(root *document.Compound)
	}{
		{"missing generated flag", func(root *document.Compound) { root.Remove("generated") }},
		{"missing slice", func(root *document.Compound) { root.Remove(SliceName(3, 4)) }},
		{"short tile array", func(root *document.Compound) {
			root.GetCompound(SliceName(0, 0)).PutIntArray("tiles", []int32{1})
		}},
		{"light of wrong kind", func(root *document.Compound) {
			root.GetCompound(SliceName(0, 0)).PutString("light", "bright")
		}},
		{"entity index out of range", func(root *document.Compound) {
			e := root.GetCompound(SliceName(1, 1)).CreateList("tileEntities").AddCompound()
			e.PutInt("index", TilesPerSlice)
		}},
		{"unknown action", func(root *document.Compound) {
			root.CreateList("queuedActions").AddCompound().PutString("kind", "explode")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, _ := Encode(generatedRegion(0, 0))
			tt.mutate(root)
			_, err := Decode(root, CurrentVersion)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}

	_, err := Decode(document.NewCompound(), 99)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, SupportedVersion(99))
}

func TestFailedDecodeLeavesRegionUntouched(t *testing.T) {
	live := generatedRegion(0, 0)
	live.SetTileAt(5, 5, 11)
	before := live.Revision()

	root, _ := Encode(sampleRegion(t))
	root.GetCompound(SliceName(RegionSize-1, RegionSize-1)).Remove("walls")

	snap, err := Decode(root, CurrentVersion)
	require.Error(t, err)
	assert.Nil(t, snap)
	assert.Equal(t, int32(11), live.TileAt(5, 5))
	assert.Equal(t, before, live.Revision())
}

func TestInstallKeepsPendingNeighborWrites(t *testing.T) {
	root, _ := Encode(generatedRegion(0, 0))
	snap, err := Decode(root, CurrentVersion)
	require.NoError(t, err)

	r := New(0, 0)
	r.AddAction(Action{Kind: ActionSetTile, X: 1, Y: 1, Value: 5})
	r.Install(snap)
	assert.True(t, r.Dirty(), "actions queued during the load are not on disk")
	assert.Equal(t, 1, r.ApplyActions())
	assert.Equal(t, int32(5), r.TileAt(1, 1))
}

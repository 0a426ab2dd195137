package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/regionio"
	"github.com/conneroisu/tessera/internal/world"
)

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []region.Key
	drop  bool
}

func (r *recordingInvalidator) Invalidate(x, y int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, region.Key{X: x, Y: y})
	return r.drop
}

func (r *recordingInvalidator) Calls() []region.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]region.Key(nil), r.calls...)
}

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestRegionFilter(t *testing.T) {
	assert.True(t, RegionFilter("/w/regions/region_0_0.dat"))
	assert.True(t, RegionFilter("region_-4_12.dat"))
	assert.False(t, RegionFilter("/w/regions/region_0_0.dat"+document.TmpSuffix))
	assert.False(t, RegionFilter("/w/regions/region_0_0.dat"+regionio.CorruptSuffix))
	assert.False(t, RegionFilter("/w/world.info"))
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "b"})
	d.addEvent(ChangeEvent{Type: EventTypeCreated, Path: "a"})
	d.addEvent(ChangeEvent{Type: EventTypeModified, Path: "b"})

	select {
	case events := <-d.output:
		require.Len(t, events, 2)
		assert.Equal(t, "a", events[0].Path)
		assert.Equal(t, "b", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type, "latest event per path wins")
	case <-time.After(time.Second):
		t.Fatal("debouncer did not flush")
	}
	d.stop()
}

func TestInvalidateHandler(t *testing.T) {
	inv := &recordingInvalidator{drop: true}
	handler := InvalidateHandler(inv, nil)

	require.NoError(t, handler([]ChangeEvent{
		{Path: "/w/regions/region_1_2.dat"},
		{Path: "/w/regions/region_1_2.dat"},
		{Path: "/w/regions/notes.txt"},
		{Path: "/w/regions/region_-3_0.dat"},
	}))
	assert.Equal(t, []region.Key{{X: 1, Y: 2}, {X: -3, Y: 0}}, inv.Calls())
}

func TestFileWatcherAddPath(t *testing.T) {
	fw, err := NewFileWatcher(10*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.NoError(t, fw.AddPath(t.TempDir()))
	assert.Error(t, fw.AddPath(filepath.Join(t.TempDir(), "missing")))
}

func TestWatchRegionsInvalidatesChangedFiles(t *testing.T) {
	store, err := regionio.OpenStore(t.TempDir(), world.NewInfo("w", 1, document.FormatTagged, document.CompressionNone))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inv := &recordingInvalidator{}
	fw, err := WatchRegions(ctx, store, inv, 20*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	r := region.New(5, -5)
	r.MarkGenerated()
	require.NoError(t, store.Save(r))
	require.NoError(t, os.WriteFile(filepath.Join(store.RegionDir(), "ignored.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, k := range inv.Calls() {
			if k == (region.Key{X: 5, Y: -5}) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	for _, k := range inv.Calls() {
		assert.Equal(t, region.Key{X: 5, Y: -5}, k)
	}
}

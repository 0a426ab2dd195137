package monitor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/streaming"
)

type fakeSource struct {
	entries atomic.Int64
}

func (f *fakeSource) Stats() streaming.Stats {
	var s streaming.Stats
	s.Cache.Entries = int(f.entries.Load())
	s.IO.Load.Requests = 3
	s.IO.Load.Completed = 2
	s.Failures = 1
	return s
}

func (f *fakeSource) RecentFailures() []terrors.Failure {
	return []terrors.Failure{{
		Op:        "load",
		X:         2,
		Y:         -1,
		Type:      terrors.ErrorTypeDecode,
		Code:      terrors.ErrCodeCorruptRegion,
		Message:   "bad <tag>",
		Timestamp: time.Now(),
	}}
}

func (f *fakeSource) RegionFailures(x, y int32) []terrors.Failure {
	var out []terrors.Failure
	for _, fail := range f.RecentFailures() {
		if fail.X == x && fail.Y == y {
			out = append(out, fail)
		}
	}
	return out
}

func TestFailuresEndpoint(t *testing.T) {
	s := New(Config{}, &fakeSource{}, nil)
	defer s.Shutdown(context.Background())

	get := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	tests := []struct {
		target string
		code   int
		count  int
	}{
		{"/failures", http.StatusOK, 1},
		{"/failures?x=2&y=-1", http.StatusOK, 1},
		{"/failures?x=0&y=0", http.StatusOK, 0},
		{"/failures?x=2", http.StatusBadRequest, 0},
		{"/failures?x=a&y=1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(tt.target)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var failures []terrors.Failure
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failures))
			assert.Len(t, failures, tt.count)
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	src := &fakeSource{}
	src.entries.Store(7)
	s := New(Config{World: "demo"}, src, nil)
	defer s.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "demo", report.World)
	assert.Equal(t, 7, report.Stats.Cache.Entries)
	assert.Equal(t, int64(3), report.Stats.IO.Load.Requests)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, int32(-1), report.Failures[0].Y)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := New(Config{}, &fakeSource{}, nil)
	defer s.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestStatusPage(t *testing.T) {
	s := New(Config{World: "demo"}, &fakeSource{}, nil)
	defer s.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h2>Cache</h2>")
	assert.Contains(t, body, "Sweep Save Failures")
	assert.Contains(t, body, "Success Rate")
	assert.Contains(t, body, "100.0%")
	assert.Contains(t, body, "Recent Failures (1)")
	assert.Contains(t, body, "bad &lt;tag&gt;")
	assert.NotContains(t, body, "bad <tag>")

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Sweep Saves", label("sweep_saves"))
	assert.Equal(t, "Load", label("load"))
}

func TestWebsocketPush(t *testing.T) {
	src := &fakeSource{}
	s := New(Config{Addr: "127.0.0.1:0", MaxConns: 4, PushInterval: 20 * time.Millisecond, World: "demo"}, src, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	src.entries.Store(11)
	for {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, typ)

		var report Report
		require.NoError(t, json.Unmarshal(data, &report))
		if report.Stats.Cache.Entries == 11 {
			assert.Equal(t, 1, report.Clients)
			return
		}
	}
}

func TestStartServesStats(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0", MaxConns: 1}, &fakeSource{}, nil)
	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr() + "/stats")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{"))

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestStartRejectsBadAddr(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:-1"}, &fakeSource{}, nil)
	defer s.Shutdown(context.Background())
	assert.Error(t, s.Start(context.Background()))
}

// Package monitor serves streaming statistics over HTTP: a JSON
// snapshot, a websocket stream that pushes the snapshot on a timer and a
// small HTML status page.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/a-h/templ"
	"golang.org/x/net/netutil"

	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/streaming"
	"github.com/conneroisu/tessera/internal/version"
)

// Source supplies the numbers the monitor reports. *streaming.Controller
// satisfies it.
type Source interface {
	Stats() streaming.Stats
	RecentFailures() []terrors.Failure
	RegionFailures(x, y int32) []terrors.Failure
}

// Config controls the listener.
type Config struct {
	Addr         string
	MaxConns     int
	PushInterval time.Duration
	World        string
}

// Report is the body of /stats and of every websocket push.
type Report struct {
	World    string            `json:"world"`
	Time     time.Time         `json:"time"`
	Stats    streaming.Stats   `json:"stats"`
	Failures []terrors.Failure `json:"failures"`
	Clients  int               `json:"clients"`
}

type Server struct {
	config Config
	source Source
	logger logging.Logger
	hub    *Hub

	serverMutex sync.RWMutex
	httpServer  *http.Server
	listener    net.Listener

	stop         context.CancelFunc
	done         chan struct{}
	shutdownOnce sync.Once
}

// New creates a monitor server. Nothing listens until Start.
func New(config Config, source Source, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if config.PushInterval <= 0 {
		config.PushInterval = time.Second
	}
	logger = logger.WithComponent("monitor")
	return &Server{
		config: config,
		source: source,
		logger: logger,
		hub:    NewHub(logger),
		done:   make(chan struct{}),
	}
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/failures", s.handleFailures)
	mux.Handle("/ws", s.hub)
	page := templ.Handler(statusPage(s))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page.ServeHTTP(w, r)
	})
	return mux
}

// Start binds the listener and serves in the background. The number of
// simultaneous connections is capped at MaxConns when it is positive.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return terrors.WrapConfig(err, terrors.ErrCodeConfigInvalid, "monitor listen failed").
			WithContext("addr", s.config.Addr)
	}
	if s.config.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConns)
	}

	pushCtx, stop := context.WithCancel(ctx)
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.serverMutex.Lock()
	s.httpServer = server
	s.listener = ln
	s.stop = stop
	s.serverMutex.Unlock()

	go s.push(pushCtx)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, err, "Monitor server stopped")
		}
	}()

	s.logger.Info(ctx, "Monitor listening", "addr", ln.Addr().String(), "max_conns", s.config.MaxConns)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Report builds the current report.
func (s *Server) Report() Report {
	failures := s.source.RecentFailures()
	if failures == nil {
		failures = []terrors.Failure{}
	}
	return Report{
		World:    s.config.World,
		Time:     time.Now().UTC(),
		Stats:    s.source.Stats(),
		Failures: failures,
		Clients:  s.hub.Clients(),
	}
}

func (s *Server) push(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.PushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.Clients() == 0 {
				continue
			}
			data, err := json.Marshal(s.Report())
			if err != nil {
				s.logger.Warn(ctx, err, "Failed to encode stats push")
				continue
			}
			s.hub.Broadcast(data)
		}
	}
}

// Shutdown closes websocket subscribers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.serverMutex.RLock()
		server, stop := s.httpServer, s.stop
		s.serverMutex.RUnlock()

		s.hub.Shutdown()
		if stop == nil {
			return
		}
		stop()
		<-s.done
		shutdownErr = server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.logger, r, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   version.Short(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.logger, r, s.Report())
}

// handleFailures lists retained failures, narrowed to one region when
// both x and y are given.
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	qx, qy := q.Get("x"), q.Get("y")
	var failures []terrors.Failure
	switch {
	case qx == "" && qy == "":
		failures = s.source.RecentFailures()
	case qx == "" || qy == "":
		http.Error(w, "x and y must be given together", http.StatusBadRequest)
		return
	default:
		x, errX := strconv.ParseInt(qx, 10, 32)
		y, errY := strconv.ParseInt(qy, 10, 32)
		if errX != nil || errY != nil {
			http.Error(w, "x and y must be region coordinates", http.StatusBadRequest)
			return
		}
		failures = s.source.RegionFailures(int32(x), int32(y))
	}
	if failures == nil {
		failures = []terrors.Failure{}
	}
	writeJSON(w, s.logger, r, failures)
}

func writeJSON(w http.ResponseWriter, logger logging.Logger, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn(r.Context(), err, fmt.Sprintf("Failed to encode %s response", r.URL.Path))
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tessera/internal/cache"
	"github.com/conneroisu/tessera/internal/config"
	"github.com/conneroisu/tessera/internal/document"
	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/gen"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/monitor"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/regionio"
	"github.com/conneroisu/tessera/internal/streaming"
	"github.com/conneroisu/tessera/internal/tiles"
	"github.com/conneroisu/tessera/internal/watcher"
	"github.com/conneroisu/tessera/internal/world"
)

var runCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"r"},
	Short:   "Stream regions around an origin, apply edits, save and shut down",
	Long: `Run opens (or creates) a world, streams the square of regions of the
given radius around an origin region, applies tile edits, saves every
touched region and shuts the streaming controller down cleanly.

Missing regions are generated from the world seed. With --hold the
regions stay loaded until the process is interrupted, which is useful
together with the monitor.

Examples:
  tessera run --world ./demo --radius 2
  tessera run --origin 3,-1 --set 400,70=torch --set 401,70=chest
  tessera run --hold --monitor --monitor-addr 127.0.0.1:7878`,
	RunE: runRun,
}

var (
	runOrigin  pointFlag
	runRadius  int
	runEdits   editsFlag
	runHold    bool
	runTimeout time.Duration
)

var runFlagKeys = map[string]string{
	"watch":        "world.watch",
	"monitor":      "monitor.enabled",
	"monitor-addr": "monitor.addr",
	"workers":      "streaming.workers",
	"registry":     "registry.path",
}

func init() {
	rootCmd.AddCommand(runCmd)

	addWorldFlags(runCmd)
	runCmd.Flags().Var(&runOrigin, "origin", "origin region as x,y")
	runCmd.Flags().IntVarP(&runRadius, "radius", "r", 1, "regions streamed on each side of the origin")
	runCmd.Flags().Var(&runEdits, "set", "place a tile at world tile coordinates, x,y=tile (repeatable)")
	runCmd.Flags().BoolVar(&runHold, "hold", false, "keep regions loaded until interrupted")
	runCmd.Flags().DurationVar(&runTimeout, "shutdown-timeout", 30*time.Second, "time allowed for the final flush")
	runCmd.Flags().Bool("watch", false, "drop idle regions whose files change on disk")
	runCmd.Flags().Bool("monitor", false, "serve statistics over HTTP")
	runCmd.Flags().String("monitor-addr", "", "monitor listen address")
	runCmd.Flags().Int("workers", 0, "I/O workers (0 = GOMAXPROCS)")
	runCmd.Flags().String("registry", "", "tile registry HCL file (default built-in)")
}

func runRun(cmd *cobra.Command, args []string) (err error) {
	if err := bindFlags(cmd.Flags(), worldFlagKeys); err != nil {
		return err
	}
	if err := bindFlags(cmd.Flags(), runFlagKeys); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if runRadius < 0 {
		return fmt.Errorf("radius %d must not be negative", runRadius)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := openWorld(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), runTimeout)
		defer cancel()
		if serr := w.Close(sctx); serr != nil && err == nil {
			err = serr
		}
	}()

	session := runSession{
		world:  w,
		origin: region.Key{X: int32(runOrigin.X), Y: int32(runOrigin.Y)},
		radius: int32(runRadius),
		edits:  runEdits,
		hold:   runHold,
		out:    cmd.OutOrStdout(),
	}
	return session.run(ctx)
}

// runtimeWorld is an open world with its controller and optional
// watcher and monitor.
type runtimeWorld struct {
	store    *regionio.Store
	registry *tiles.Registry
	ctrl     *streaming.Controller
	watcher  *watcher.FileWatcher
	monitor  *monitor.Server
	logger   logging.Logger
	cancel   context.CancelFunc
	sweeper  chan struct{}
}

func loadRegistry(path string) (*tiles.Registry, error) {
	if path == "" {
		return tiles.Default(), nil
	}
	return tiles.LoadFile(path)
}

// openWorld opens the configured world and starts streaming it.
func openWorld(cfg *config.Config, logger logging.Logger) (*runtimeWorld, error) {
	reg, err := loadRegistry(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	format, err := document.ParseFormat(cfg.World.Format)
	if err != nil {
		return nil, err
	}
	compression, err := document.ParseCompression(cfg.World.Compression)
	if err != nil {
		return nil, err
	}
	seed := cfg.World.Seed
	if seed == 0 && !viper.IsSet("world.seed") {
		seed = time.Now().UnixNano()
	}

	store, err := regionio.OpenStore(cfg.World.Dir, world.NewInfo(cfg.World.Name, seed, format, compression))
	if err != nil {
		return nil, err
	}
	info := store.Info()
	logger.Info(context.Background(), "World opened",
		"dir", store.Dir(), "name", info.Name, "id", info.ID.String(), "seed", info.Seed,
		"format", info.Format.String(), "compression", info.Compression.String())

	generator := gen.New(info.Seed, reg, logger)
	ctrl := streaming.New(streaming.Options{
		Store:         store,
		Generator:     generator,
		Workers:       cfg.Streaming.Workers,
		QueueSize:     cfg.Streaming.QueueSize,
		Shards:        cfg.Streaming.Shards,
		IdleTimeout:   cfg.Streaming.IdleTimeout,
		SweepInterval: cfg.Streaming.SweepInterval,
		Quarantine:    true,
		Logger:        logger,
		Failures:      terrors.NewErrorCollector(64),
	})
	generator.SetQueue(ctrl)

	ctx, cancel := context.WithCancel(context.Background())
	w := &runtimeWorld{
		store:    store,
		registry: reg,
		ctrl:     ctrl,
		logger:   logger,
		cancel:   cancel,
		sweeper:  make(chan struct{}),
	}
	go func() {
		defer close(w.sweeper)
		ctrl.Run(ctx)
	}()

	if cfg.World.Watch {
		fw, err := watcher.WatchRegions(ctx, store, ctrl.Cache(), 250*time.Millisecond, logger)
		if err != nil {
			w.Close(context.Background())
			return nil, err
		}
		w.watcher = fw
	}

	if cfg.Monitor.Enabled {
		mon := monitor.New(monitor.Config{
			Addr:         cfg.Monitor.Addr,
			MaxConns:     cfg.Monitor.MaxConns,
			PushInterval: cfg.Monitor.PushInterval,
			World:        info.Name,
		}, ctrl, logger)
		if err := mon.Start(ctx); err != nil {
			w.Close(context.Background())
			return nil, err
		}
		w.monitor = mon
	}
	return w, nil
}

// Close stops the monitor and watcher, then shuts the controller down,
// flushing every dirty region.
func (w *runtimeWorld) Close(ctx context.Context) error {
	if w.monitor != nil {
		if err := w.monitor.Shutdown(ctx); err != nil {
			w.logger.Warn(ctx, err, "Monitor shutdown failed")
		}
	}
	if w.watcher != nil {
		w.watcher.Stop()
	}
	err := w.ctrl.Shutdown(ctx)
	w.cancel()
	<-w.sweeper
	return err
}

// runSession is one invocation of the run command.
type runSession struct {
	world  *runtimeWorld
	origin region.Key
	radius int32
	edits  []Edit
	hold   bool
	out    io.Writer

	held map[region.Key]*cache.Handle
}

func (s *runSession) run(ctx context.Context) error {
	ctrl := s.world.ctrl
	s.held = make(map[region.Key]*cache.Handle)

	op := logging.StartOperation(s.world.logger, "stream")
	for dy := -s.radius; dy <= s.radius; dy++ {
		for dx := -s.radius; dx <= s.radius; dx++ {
			s.checkout(s.origin.Neighbor(dx, dy))
		}
	}
	for _, e := range s.edits {
		s.checkout(tileRegion(e.At))
	}
	for _, h := range s.held {
		if err := ctrl.Await(ctx, h.Region()); err != nil {
			op.EndWithError(ctx, err)
			s.releaseAll()
			return err
		}
	}
	op.End(ctx, "regions", len(s.held))

	for _, e := range s.edits {
		if err := s.apply(e); err != nil {
			s.releaseAll()
			return err
		}
	}

	if s.hold {
		fmt.Fprintf(s.out, "Holding %d regions, interrupt to save and exit\n", len(s.held))
		<-ctx.Done()
	}

	saved := 0
	for _, h := range s.held {
		if ctrl.SaveRegion(h.Region(), h) {
			saved++
		}
	}
	s.held = nil

	fmt.Fprintf(s.out, "%s: %d  %s: %d  %s: %d\n",
		label("streamed"), (2*s.radius+1)*(2*s.radius+1),
		label("edits"), len(s.edits),
		label("saves_requested"), saved)
	return printStats(s.out, ctrl.Stats())
}

func (s *runSession) checkout(k region.Key) {
	if _, ok := s.held[k]; ok {
		return
	}
	_, h := s.world.ctrl.LoadRegion(k.X, k.Y)
	s.held[k] = h
}

func (s *runSession) apply(e Edit) error {
	t, ok := s.world.registry.TileByName(e.Tile)
	if !ok {
		return fmt.Errorf("unknown tile %q", e.Tile)
	}
	h := s.held[tileRegion(e.At)]
	lx, ly := tileLocal(e.At)
	if t.ID == tiles.Air {
		s.world.registry.Break(h.Region(), lx, ly)
		return nil
	}
	return s.world.registry.Place(h.Region(), lx, ly, t.ID)
}

func (s *runSession) releaseAll() {
	for _, h := range s.held {
		h.Release()
	}
	s.held = nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// tileRegion returns the region holding world tile p.
func tileRegion(p Point) region.Key {
	return region.Key{X: int32(floorDiv(p.X, region.Span)), Y: int32(floorDiv(p.Y, region.Span))}
}

// tileLocal returns the coordinates of world tile p inside its region.
func tileLocal(p Point) (int, int) {
	k := tileRegion(p)
	return int(p.X - int64(k.X)*region.Span), int(p.Y - int64(k.Y)*region.Span)
}

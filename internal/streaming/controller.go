// Package streaming is the entry point game code uses to obtain, edit and
// persist regions. It combines the region cache with region I/O: callers
// check regions out, wait for them to become generated, and hand them
// back for saving, without ever blocking on disk.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/conneroisu/tessera/internal/cache"
	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/regionio"
)

// ErrShutdown is returned by Run after Shutdown.
var ErrShutdown = terrors.NewShutdownError("controller is shut down")

// Defaults for Options fields left zero.
const (
	DefaultSweepInterval = 5 * time.Second
)

const awaitRetry = 10 * time.Millisecond

// maxFlushPasses bounds how often shutdown retries regions that are still
// dirty after their saves drained.
const maxFlushPasses = 3

// Options configures a Controller.
type Options struct {
	Store     *regionio.Store
	Generator regionio.Generator
	// Workers and QueueSize size the I/O pool; zero picks defaults.
	Workers   int
	QueueSize int
	// Shards and IdleTimeout configure the region cache.
	Shards        int
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	// Quarantine moves corrupt region files aside before regenerating.
	Quarantine bool
	Logger     logging.Logger
	Failures   *terrors.ErrorCollector
}

// Controller streams regions of one world.
type Controller struct {
	cache         *cache.Cache
	io            *regionio.Service
	logger        logging.Logger
	handler       *terrors.ErrorHandler
	sweepInterval time.Duration

	mu       sync.Mutex
	closed   bool
	stop     chan struct{}
	sweepers sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a controller and starts its worker pool.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	pool := regionio.NewPool(opts.Workers, opts.QueueSize)
	pool.Start(context.Background())

	svc := regionio.NewService(regionio.Options{
		Store:      opts.Store,
		Pool:       pool,
		Generator:  opts.Generator,
		Logger:     logger,
		Failures:   opts.Failures,
		Quarantine: opts.Quarantine,
	})
	c := cache.New(cache.Options{
		Shards:      opts.Shards,
		IdleTimeout: opts.IdleTimeout,
		Saver:       svc,
		Logger:      logger,
	})

	return &Controller{
		cache:         c,
		io:            svc,
		logger:        logger.WithComponent("streaming"),
		handler:       terrors.NewErrorHandler(logger),
		sweepInterval: opts.SweepInterval,
		stop:          make(chan struct{}),
	}
}

// Cache returns the region cache.
func (c *Controller) Cache() *cache.Cache { return c.cache }

// IO returns the region I/O service.
func (c *Controller) IO() *regionio.Service { return c.io }

// LoadRegion checks out the region at (x, y) and, when it is not
// generated yet and no load is running, schedules a load that falls back
// to generation. It never blocks; use Await or the region's Ready channel
// before touching tiles. The handle must be released or passed to
// SaveRegion.
func (c *Controller) LoadRegion(x, y int32) (*region.Region, *cache.Handle) {
	h := c.cache.Checkout(x, y)
	r := h.Region()
	if !r.IsGenerated() {
		c.io.RequestLoad(r)
	}
	return r, h
}

// Await blocks until r is generated, its load failed, or ctx is done. An
// ungenerated region with no load in flight gets one scheduled, so a
// failed load is retried by awaiting again.
func (c *Controller) Await(ctx context.Context, r *region.Region) error {
	for !r.IsGenerated() {
		fut := c.io.Pending(r)
		if fut == nil {
			fut, _ = c.io.RequestLoad(r)
		}
		if fut == nil {
			if c.io.Aborting() {
				return ErrShutdown
			}
			// A save holds the permit.
			select {
			case <-r.Ready():
			case <-time.After(awaitRetry):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case <-r.Ready():
		case <-fut.Done():
			if err := fut.Err(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// SaveRegion requests an asynchronous save of r and gives up h: the
// handle is disposed once the save completed, or right away when the save
// could not be started. A clean, unreferenced region leaves the cache on
// disposal.
func (c *Controller) SaveRegion(r *region.Region, h *cache.Handle) bool {
	started := c.io.RequestSave(r, func(err error) {
		c.dispose(h)
	})
	if !started {
		c.dispose(h)
	}
	return started
}

func (c *Controller) dispose(h *cache.Handle) {
	if err := h.Dispose(); err != nil {
		c.handler.Handle(context.Background(), err)
	}
}

// QueueStructure defers a structure placement into the region at (x, y).
// The region is not loaded; a generated region stamps it immediately.
func (c *Controller) QueueStructure(x, y int32, s region.Structure) {
	h := c.cache.Checkout(x, y)
	defer c.dispose(h)
	r := h.Region()
	r.AddStructure(s)
	if r.IsGenerated() {
		c.io.Settle(r)
	}
}

// QueueAction defers a tile write into the region at (x, y). A generated
// region applies it immediately.
func (c *Controller) QueueAction(x, y int32, a region.Action) {
	h := c.cache.Checkout(x, y)
	defer c.dispose(h)
	r := h.Region()
	r.AddAction(a)
	if r.IsGenerated() {
		r.ApplyActions()
	}
}

// Sweep runs one eviction pass.
func (c *Controller) Sweep(ctx context.Context) cache.SweepResult {
	return c.cache.Sweep(ctx, time.Now())
}

// Run sweeps the cache every sweep interval until ctx is done or the
// controller shuts down.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.sweepers.Add(1)
	c.mu.Unlock()
	defer c.sweepers.Done()

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	c.logger.Info(ctx, "Region sweeper started", "interval", c.sweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Shutdown stops the controller: queued loads are aborted, the sweeper
// stops, loads already running finish, every dirty region is saved with
// blocking submits, saves drain, the pool closes and the cache is
// emptied. Later calls return the first result.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Controller) shutdown(ctx context.Context) error {
	op := logging.StartOperation(c.logger, "shutdown")
	c.io.Abort()

	c.mu.Lock()
	c.closed = true
	close(c.stop)
	c.mu.Unlock()
	c.sweepers.Wait()

	// A generation still running may queue writes into neighbors it
	// creates, so loads settle before anything is collected.
	for {
		waited, err := c.awaitLoads(ctx)
		if err != nil || !waited {
			break
		}
	}

	flushed, refused, unsaved := 0, 0, 0
	var err error
	for pass := 0; pass < maxFlushPasses; pass++ {
		dirty := 0
		for _, r := range c.cache.Regions() {
			if !r.Dirty() {
				continue
			}
			dirty++
			if c.io.RequestSaveWait(ctx, r, nil) {
				flushed++
			} else {
				refused++
			}
		}
		if err = c.io.DrainSaves(ctx); err != nil || dirty == 0 {
			break
		}
	}
	for _, r := range c.cache.Regions() {
		if r.Dirty() {
			unsaved++
		}
	}

	c.io.Close()
	dropped := c.cache.Purge(ctx)

	if err != nil {
		op.EndWithError(ctx, err, "flushed", flushed, "refused", refused, "unsaved", unsaved)
		return terrors.Wrap(err, terrors.ErrorTypeShutdown, terrors.ErrCodeAborted, "shutdown did not drain saves").WithOp("shutdown")
	}
	if unsaved > 0 {
		c.logger.Warn(ctx, nil, "Regions left unsaved after shutdown", "unsaved", unsaved)
	}
	op.End(ctx, "flushed", flushed, "refused", refused, "dropped", dropped, "unsaved", unsaved)
	return nil
}

// awaitLoads waits for every load running on a cached region. It reports
// whether there was any.
func (c *Controller) awaitLoads(ctx context.Context) (bool, error) {
	waited := false
	for _, r := range c.cache.Regions() {
		fut := c.io.Pending(r)
		if fut == nil {
			continue
		}
		waited = true
		if err := fut.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return waited, err
			}
			if !terrors.IsShutdown(err) {
				c.handler.Handle(ctx, err)
			}
		}
	}
	return waited, nil
}

// Stats is a snapshot of the cache and the I/O pipeline.
type Stats struct {
	Cache    cache.Stats        `json:"cache" yaml:"cache"`
	IO       regionio.Snapshot  `json:"io" yaml:"io"`
	Pool     regionio.PoolStats `json:"pool" yaml:"pool"`
	Failures uint64             `json:"failures" yaml:"failures"`
}

// Stats returns current statistics.
func (c *Controller) Stats() Stats {
	return Stats{
		Cache:    c.cache.Stats(),
		IO:       c.io.Metrics().GetSnapshot(),
		Pool:     c.io.PoolStats(),
		Failures: c.io.Failures().Total(),
	}
}

// RecentFailures returns the most recent failed operations, oldest first.
func (c *Controller) RecentFailures() []terrors.Failure {
	return c.io.Failures().Recent()
}

// RegionFailures returns the retained failures of region (x, y).
func (c *Controller) RegionFailures(x, y int32) []terrors.Failure {
	return c.io.Failures().ForRegion(x, y)
}

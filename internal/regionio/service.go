package regionio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	terrors "github.com/conneroisu/tessera/internal/errors"
	"github.com/conneroisu/tessera/internal/logging"
	"github.com/conneroisu/tessera/internal/region"
)

// Generator populates an ungenerated region. Generate runs on a pool
// worker and must leave the region generated when it returns nil.
type Generator interface {
	Generate(ctx context.Context, r *region.Region) error
}

// Stamper places structures that were queued on a region after it was
// generated. Generators that queue structures into neighbors implement it.
type Stamper interface {
	StampStructures(r *region.Region) int
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, r *region.Region) error

func (f GeneratorFunc) Generate(ctx context.Context, r *region.Region) error {
	return f(ctx, r)
}

// Future completes when a load or generation finishes.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the operation finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the outcome once Done is closed, nil before.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the operation finished or ctx is done.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options configures a Service.
type Options struct {
	Store     *Store
	Pool      *Pool
	Generator Generator
	Logger    logging.Logger
	// Failures receives every failed operation; optional.
	Failures *terrors.ErrorCollector
	// Quarantine moves undecodable region files aside before the region
	// is regenerated.
	Quarantine bool
}

// Service runs loads, saves and generation for regions on a Pool. Each
// request is gated by the region's I/O permit; the permit is released on
// every path before completion is signalled.
type Service struct {
	store      *Store
	pool       *Pool
	gen        Generator
	logger     logging.Logger
	handler    *terrors.ErrorHandler
	metrics    *Metrics
	failures   *terrors.ErrorCollector
	quarantine bool

	aborting atomic.Bool
	saves    sync.WaitGroup

	mu      sync.Mutex
	pending map[region.Key]*Future
}

// NewService creates a service. The pool must be started by the caller.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("regionio")
	failures := opts.Failures
	if failures == nil {
		failures = terrors.NewErrorCollector(0)
	}
	return &Service{
		store:      opts.Store,
		pool:       opts.Pool,
		gen:        opts.Generator,
		logger:     logger,
		handler:    terrors.NewErrorHandler(logger),
		metrics:    NewMetrics(),
		failures:   failures,
		quarantine: opts.Quarantine,
		pending:    make(map[region.Key]*Future),
	}
}

// Store returns the backing store.
func (s *Service) Store() *Store { return s.store }

// Metrics returns the per-kind counters.
func (s *Service) Metrics() *Metrics { return s.metrics }

// Failures returns the recent failure log.
func (s *Service) Failures() *terrors.ErrorCollector { return s.failures }

// PoolStats returns the worker pool statistics.
func (s *Service) PoolStats() PoolStats { return s.pool.Stats() }

// Pending returns the in-flight load of r, if any.
func (s *Service) Pending(r *region.Region) *Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[r.Key()]
}

// RequestLoad schedules a load of r that falls back to generation when no
// usable file exists. started reports whether this call scheduled the
// load; the returned future is the in-flight load, new or joined, and is
// nil when none is running.
func (s *Service) RequestLoad(r *region.Region) (fut *Future, started bool) {
	return s.request(KindLoad, r, s.runLoad)
}

// RequestGenerate schedules generation of r without consulting the disk.
func (s *Service) RequestGenerate(r *region.Region) (fut *Future, started bool) {
	return s.request(KindGenerate, r, func(ctx context.Context, r *region.Region, fut *Future) {
		s.finishLoad(r, fut, s.runGenerate(ctx, r, false))
	})
}

func (s *Service) request(kind Kind, r *region.Region, run func(context.Context, *region.Region, *Future)) (*Future, bool) {
	s.metrics.RecordRequest(kind)

	if s.aborting.Load() {
		s.metrics.RecordOutcome(kind, OutcomeAborted, 0)
		return nil, false
	}
	if !r.LoadPermit() {
		s.metrics.RecordDenied(kind)
		return s.Pending(r), false
	}

	fut := newFuture()
	s.mu.Lock()
	s.pending[r.Key()] = fut
	s.mu.Unlock()

	err := s.pool.Submit(func(ctx context.Context) {
		defer func() {
			if p := recover(); p != nil {
				err := panicError(kind.String(), r, p)
				s.metrics.RecordOutcome(kind, OutcomeFailed, 0)
				s.failures.Add(kind.String(), r.X(), r.Y(), err)
				s.handler.Handle(ctx, err)
				s.finishLoad(r, fut, err)
			}
		}()
		if s.aborting.Load() {
			s.metrics.RecordOutcome(kind, OutcomeAborted, 0)
			s.finishLoad(r, fut, terrors.NewShutdownError("load skipped").WithRegion(r.X(), r.Y()).WithOp(kind.String()))
			return
		}
		run(ctx, r, fut)
	})
	if err != nil {
		s.metrics.RecordOutcome(kind, OutcomeRejected, 0)
		rejected := terrors.Wrap(err, terrors.ErrorTypeRejected, terrors.ErrCodeQueueFull, "request rejected").
			WithRegion(r.X(), r.Y()).WithOp(kind.String())
		s.handler.Handle(context.Background(), rejected)
		s.finishLoad(r, fut, rejected)
		return fut, false
	}
	return fut, true
}

// finishLoad releases the load permit before waking waiters.
func (s *Service) finishLoad(r *region.Region, fut *Future, err error) {
	s.mu.Lock()
	if s.pending[r.Key()] == fut {
		delete(s.pending, r.Key())
	}
	s.mu.Unlock()
	r.FinishLoading()
	fut.complete(err)
}

func (s *Service) runLoad(ctx context.Context, r *region.Region, fut *Future) {
	s.metrics.RecordStart(KindLoad)
	op := logging.StartOperation(logging.WithRegion(s.logger, r.X(), r.Y()), "load")

	found, err := s.store.Load(r)
	if err != nil {
		s.metrics.RecordOutcome(KindLoad, OutcomeFailed, op.EndWithError(ctx, err))
		s.failures.Add("load", r.X(), r.Y(), err)
		if s.quarantine && terrors.IsDecode(err) {
			if dest, qerr := s.store.Quarantine(r.X(), r.Y()); qerr != nil {
				s.handler.Handle(ctx, qerr)
			} else {
				s.logger.Warn(ctx, err, "Quarantined corrupt region file",
					"region_x", r.X(), "region_y", r.Y(), "path", dest)
			}
		}
	} else {
		s.metrics.RecordOutcome(KindLoad, OutcomeCompleted, op.End(ctx, "found", found))
	}

	if found && err == nil && r.IsGenerated() {
		s.Settle(r)
		s.finishLoad(r, fut, nil)
		return
	}

	// No file, an ungenerated file, or an unreadable one: generate.
	s.finishLoad(r, fut, s.runGenerate(ctx, r, true))
}

func (s *Service) runGenerate(ctx context.Context, r *region.Region, fallback bool) error {
	if fallback {
		s.metrics.RecordRequest(KindGenerate)
	}
	if s.gen == nil {
		err := terrors.NewInternalError(terrors.ErrCodeGenerateFailed, "no generator configured", nil).
			WithRegion(r.X(), r.Y()).WithOp("generate")
		s.metrics.RecordOutcome(KindGenerate, OutcomeFailed, 0)
		s.failures.Add("generate", r.X(), r.Y(), err)
		return err
	}

	s.metrics.RecordStart(KindGenerate)
	start := time.Now()
	err := s.callGenerator(ctx, r)
	if err == nil && !r.IsGenerated() {
		err = terrors.NewContractError(terrors.ErrCodeGenerateFailed, "generator returned without generating the region")
	}
	if err != nil {
		err = terrors.WrapGenerate(err, r.X(), r.Y())
		s.metrics.RecordOutcome(KindGenerate, OutcomeFailed, time.Since(start))
		s.failures.Add("generate", r.X(), r.Y(), err)
		s.handler.Handle(ctx, err)
		return err
	}
	s.Settle(r)
	s.metrics.RecordOutcome(KindGenerate, OutcomeCompleted, time.Since(start))
	return nil
}

// callGenerator turns a generator panic into an error so the load permit
// is still released.
func (s *Service) callGenerator(ctx context.Context, r *region.Region) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError("generate", r, p)
		}
	}()
	return s.gen.Generate(ctx, r)
}

func panicError(op string, r *region.Region, p interface{}) *terrors.TesseraError {
	return terrors.NewInternalError(terrors.ErrCodeInternalError, fmt.Sprintf("%s panicked: %v", op, p), nil).
		WithRegion(r.X(), r.Y()).WithOp(op)
}

// Settle applies queued actions and stamps queued structures on a
// generated region. It reports how many entries were consumed.
func (s *Service) Settle(r *region.Region) int {
	if !r.IsGenerated() {
		return 0
	}
	n := r.ApplyActions()
	if st, ok := s.gen.(Stamper); ok && r.HasQueuedStructures() {
		n += st.StampStructures(r)
	}
	return n
}

// RequestSave schedules a save of r if its save permit is free. done, if
// not nil, runs once the save finished and the permit is released. It
// returns false when the permit was taken or the pool refused the work;
// done is not called then.
func (s *Service) RequestSave(r *region.Region, done func(err error)) bool {
	return s.requestSave(r, done, s.pool.Submit)
}

// SaveAsync is RequestSave under the name the cache expects.
func (s *Service) SaveAsync(r *region.Region, done func(err error)) bool {
	return s.RequestSave(r, done)
}

// RequestSaveWait is RequestSave but waits for queue space until ctx is
// done. Shutdown uses it so dirty regions are not dropped on a full queue.
func (s *Service) RequestSaveWait(ctx context.Context, r *region.Region, done func(err error)) bool {
	return s.requestSave(r, done, func(t Task) error {
		return s.pool.SubmitWait(ctx, t)
	})
}

func (s *Service) requestSave(r *region.Region, done func(err error), submit func(Task) error) bool {
	s.metrics.RecordRequest(KindSave)
	if !r.SavePermit() {
		s.metrics.RecordDenied(KindSave)
		return false
	}

	s.saves.Add(1)
	err := submit(func(ctx context.Context) {
		defer s.saves.Done()
		s.metrics.RecordStart(KindSave)
		op := logging.StartOperation(logging.WithRegion(s.logger, r.X(), r.Y()), "save")

		err := s.runSave(r)
		if err != nil {
			s.metrics.RecordOutcome(KindSave, OutcomeFailed, op.EndWithError(ctx, err))
			s.failures.Add("save", r.X(), r.Y(), err)
		} else {
			s.metrics.RecordOutcome(KindSave, OutcomeCompleted, op.End(ctx))
		}
		r.FinishSaving()
		if done != nil {
			done(err)
		}
	})
	if err != nil {
		s.saves.Done()
		r.FinishSaving()
		s.metrics.RecordOutcome(KindSave, OutcomeRejected, 0)
		s.handler.Handle(context.Background(), terrors.Wrap(err, terrors.ErrorTypeRejected, terrors.ErrCodeQueueFull, "save rejected").
			WithRegion(r.X(), r.Y()).WithOp("save"))
		return false
	}
	return true
}

func (s *Service) runSave(r *region.Region) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicError("save", r, p)
		}
	}()
	return s.store.Save(r)
}

// Abort makes every load that has not started yet skip its work. Saves
// are unaffected.
func (s *Service) Abort() {
	s.aborting.Store(true)
}

// Aborting reports whether Abort was called.
func (s *Service) Aborting() bool {
	return s.aborting.Load()
}

// DrainSaves waits for every accepted save to finish.
func (s *Service) DrainSaves(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		s.saves.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the pool. Queued loads observe the abort flag if set.
func (s *Service) Close() {
	s.pool.Close()
}

// Package syncworker runs the background cycle that syncs, consolidates and
// cleans up the stores of every view registered with it.
//
// Tasks move through three states: pending (queued by Emplace), active
// (visited every cycle) and removed (termination flag set or owner gone).
// The worker never owns a store: it reaches a task's target only through the
// task's Handle, and only while holding the task's mutex.
package syncworker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
)

// Config holds the scheduling parameters of a task, reloaded on Refresh.
type Config struct {
	// Interval between visits. Zero disables scheduled visits.
	Interval time.Duration
	// CleanupIntervalStep runs consolidate and cleanup every N successful
	// syncs of a task. Zero disables them.
	CleanupIntervalStep int
	// LockWait bounds how long a task's mutex is retried before the task is
	// skipped as busy. Zero means a single attempt.
	LockWait time.Duration
}

// ConfigSource supplies the worker configuration. It is the default for
// tasks whose handle is not a ConfiguredHandle.
type ConfigSource interface {
	WorkerConfig() Config
}

// ConfigFunc adapts a function to ConfigSource.
type ConfigFunc func() Config

// WorkerConfig implements ConfigSource.
func (f ConfigFunc) WorkerConfig() Config { return f() }

// Target is the unit of work behind a task.
type Target interface {
	Sync(ctx context.Context) error
	Consolidate(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// Handle resolves a task's target. Resolve runs fn while the owner is kept
// alive and reports false when the owner is gone.
type Handle interface {
	Resolve(fn func(Target) error) (bool, error)
}

// ConfiguredHandle is a Handle whose task carries its own configuration.
// TaskConfig reports false when the owner is gone.
type ConfiguredHandle interface {
	Handle
	TaskConfig() (Config, bool)
}

// TryLocker is the task's store mutex. *sync.Mutex satisfies it.
type TryLocker interface {
	TryLock() bool
	Unlock()
}

var errWorkerClosed = errors.New("sync worker is closed")

const lockRetryDelay = 2 * time.Millisecond

type task struct {
	name      string
	handle    Handle
	terminate *atomic.Bool
	mu        TryLocker
	breaker   *sverrors.CircuitBreaker

	// owned by the loop goroutine
	cfg               Config
	due               time.Time
	gone              bool
	syncsSinceCleanup int
}

// load reads the task's configuration and schedules its next visit.
func (t *task) load(def ConfigSource, now time.Time) {
	if h, ok := t.handle.(ConfiguredHandle); ok {
		cfg, alive := h.TaskConfig()
		t.cfg, t.gone = cfg, !alive
	} else {
		t.cfg = def.WorkerConfig()
	}
	t.due = time.Time{}
	if t.cfg.Interval > 0 {
		t.due = now.Add(t.cfg.Interval)
	}
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the worker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the worker's metrics.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithFailureBreaker stops visiting a task for resetTimeout after
// maxFailures consecutive failed visits, then retries it once per
// resetTimeout until a visit succeeds.
func WithFailureBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(w *Worker) {
		w.breakerOpts = []sverrors.CircuitBreakerOption{
			sverrors.WithMaxFailures(maxFailures),
			sverrors.WithResetTimeout(resetTimeout),
		}
	}
}

// Worker is a background scheduler shared by any number of views. Each task
// is visited on its own interval; the worker's ConfigSource also sets the
// idle cycle used to prune terminated tasks.
type Worker struct {
	source      ConfigSource
	logger      *slog.Logger
	metrics     *Metrics
	breakerOpts []sverrors.CircuitBreakerOption

	mu      sync.Mutex
	pending []*task
	closed  bool

	refresh atomic.Bool
	wake    chan struct{}
	cycles  atomic.Uint64

	// owned by the loop goroutine
	cfg   Config
	tasks []*task

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// New creates a worker reading its configuration from source.
// Call Start to launch the background goroutine.
func New(source ConfigSource, opts ...Option) *Worker {
	w := &Worker{
		source: source,
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.metrics == nil {
		w.metrics = NewMetrics(nil)
	}
	return w
}

// Start launches the worker loop. Calling Start more than once, or after
// Close, is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || !w.started.CompareAndSwap(false, true) {
		return
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.cfg = w.source.WorkerConfig()
	w.logger.Debug("sync_worker_started",
		slog.Duration("interval", w.cfg.Interval),
		slog.Int("cleanup_interval_step", w.cfg.CleanupIntervalStep),
		slog.Duration("lock_wait", w.cfg.LockWait))
	go w.run()
}

// Emplace registers a task. It becomes active on the worker's next wake-up
// unless terminate is already set or handle no longer resolves.
func (w *Worker) Emplace(handle Handle, name string, terminate *atomic.Bool, mu TryLocker) error {
	t := &task{
		name:      name,
		handle:    handle,
		terminate: terminate,
		mu:        mu,
	}
	if w.breakerOpts != nil {
		t.breaker = sverrors.NewCircuitBreaker(w.breakerOpts...)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return errWorkerClosed
	}
	w.pending = append(w.pending, t)
	w.mu.Unlock()

	w.signal()
	return nil
}

// Refresh makes the worker reload its own and every task's configuration
// and reschedule all visits right away.
func (w *Worker) Refresh() {
	w.refresh.Store(true)
	w.signal()
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Cycles returns the number of completed cycles.
func (w *Worker) Cycles() uint64 { return w.cycles.Load() }

// Close stops the worker and waits for the loop to exit. An in-flight cycle
// finishes its current task first.
func (w *Worker) Close() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.pending = nil
		started := w.started.Load()
		w.mu.Unlock()

		if !started {
			return
		}
		w.cancel()
		<-w.done
		w.logger.Debug("sync_worker_stopped", slog.Uint64("cycles", w.cycles.Load()))
	})
}

func (w *Worker) run() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()
	w.arm(timer)

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.wake:
			if w.refresh.Swap(false) {
				w.reload()
			}
			w.promote()
			stopTimer(timer)
			w.arm(timer)
		case <-timer.C:
			w.cycle()
			w.arm(timer)
		}
	}
}

// reload rereads the worker's and every active task's configuration.
func (w *Worker) reload() {
	w.cfg = w.source.WorkerConfig()
	now := time.Now()
	for _, t := range w.tasks {
		t.load(w.source, now)
	}
	w.logger.Debug("sync_worker_refreshed",
		slog.Duration("interval", w.cfg.Interval),
		slog.Int("cleanup_interval_step", w.cfg.CleanupIntervalStep),
		slog.Int("tasks", len(w.tasks)))
}

// arm schedules the timer for the earliest due task or the idle cycle,
// whichever comes first. Nothing is scheduled when neither exists.
func (w *Worker) arm(timer *time.Timer) {
	var next time.Time
	if w.cfg.Interval > 0 {
		next = time.Now().Add(w.cfg.Interval)
	}
	for _, t := range w.tasks {
		if !t.due.IsZero() && (next.IsZero() || t.due.Before(next)) {
			next = t.due
		}
	}
	if next.IsZero() {
		return
	}
	timer.Reset(max(time.Until(next), 0))
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// promote moves pending tasks into the active set.
func (w *Worker) promote() {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	now := time.Now()
	for _, t := range pending {
		if t.terminate != nil && t.terminate.Load() {
			w.logger.Debug("sync_task_dropped", slog.String("task", t.name))
			continue
		}
		if ok, _ := t.handle.Resolve(func(Target) error { return nil }); !ok {
			w.logger.Debug("sync_task_dropped", slog.String("task", t.name))
			continue
		}
		t.load(w.source, now)
		w.tasks = append(w.tasks, t)
	}
	w.metrics.ActiveTasks.Set(float64(len(w.tasks)))
}

// cycle visits every due task once and drops tasks that are gone.
func (w *Worker) cycle() {
	start := time.Now()
	w.promote()

	kept := w.tasks[:0]
	for i, t := range w.tasks {
		if w.ctx.Err() != nil {
			kept = append(kept, w.tasks[i:]...)
			break
		}
		if w.due(t, start) {
			kept = append(kept, t)
		} else {
			w.metrics.result(ResultRemoved)
			w.logger.Debug("sync_task_removed", slog.String("task", t.name))
		}
	}
	clear(w.tasks[len(kept):])
	w.tasks = kept

	w.cycles.Add(1)
	w.metrics.Cycles.Inc()
	w.metrics.ActiveTasks.Set(float64(len(w.tasks)))
	w.metrics.CycleDuration.Observe(time.Since(start).Seconds())
}

// due visits t if its interval has elapsed and reports whether it stays
// active. Terminated tasks are dropped even when not due.
func (w *Worker) due(t *task, now time.Time) bool {
	if t.gone || (t.terminate != nil && t.terminate.Load()) {
		return false
	}
	if t.due.IsZero() || now.Before(t.due) {
		return true
	}
	t.due = now.Add(t.cfg.Interval)
	return w.visit(t)
}

// visit runs one task and reports whether it stays active.
func (w *Worker) visit(t *task) bool {
	if t.terminate != nil && t.terminate.Load() {
		return false
	}
	if t.breaker != nil && !t.breaker.Allow() {
		w.metrics.result(ResultTripped)
		return true
	}
	if !w.acquire(t.mu, t.cfg.LockWait) {
		w.metrics.result(ResultBusy)
		w.logger.Debug("sync_task_busy", slog.String("task", t.name))
		return true
	}
	defer t.mu.Unlock()

	resolved, err := t.handle.Resolve(func(target Target) error {
		if t.terminate != nil && t.terminate.Load() {
			return nil
		}
		return w.runTask(t, target)
	})
	if !resolved {
		return false
	}
	if err != nil {
		if t.breaker != nil {
			t.breaker.RecordFailure()
		}
		w.metrics.result(ResultFailed)
		attrs := append([]slog.Attr{slog.String("task", t.name)}, sverrors.LogAttrs(err)...)
		w.logger.LogAttrs(w.ctx, slog.LevelWarn, "sync_task_failed", attrs...)
		return true
	}
	if t.breaker != nil {
		t.breaker.RecordSuccess()
	}
	w.metrics.result(ResultOK)
	return true
}

func (w *Worker) runTask(t *task, target Target) error {
	if err := target.Sync(w.ctx); err != nil {
		return err
	}

	step := t.cfg.CleanupIntervalStep
	if step <= 0 {
		return nil
	}
	t.syncsSinceCleanup++
	if t.syncsSinceCleanup < step {
		return nil
	}
	t.syncsSinceCleanup = 0

	if err := target.Consolidate(w.ctx); err != nil {
		return err
	}
	return target.Cleanup(w.ctx)
}

// acquire tries mu until it succeeds or wait has passed.
func (w *Worker) acquire(mu TryLocker, wait time.Duration) bool {
	if mu.TryLock() {
		return true
	}
	if wait <= 0 {
		return false
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		select {
		case <-w.ctx.Done():
			return false
		case <-time.After(min(lockRetryDelay, time.Until(deadline))):
		}
		if mu.TryLock() {
			return true
		}
	}
	return false
}

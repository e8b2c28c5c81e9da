package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
)

// Reloader applies a changed properties file. *view.View implements it.
type Reloader interface {
	ReloadProperties() (bool, error)
}

// Options configures the watcher.
type Options struct {
	// FileName is the properties file watched inside each directory.
	FileName string

	// DebounceWindow is the quiet time before a change is applied.
	DebounceWindow time.Duration

	// PollInterval is the scan interval when polling.
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		FileName:       "view.yaml",
		DebounceWindow: 200 * time.Millisecond,
		PollInterval:   2 * time.Second,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.FileName == "" {
		o.FileName = defaults.FileName
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	return o
}

var errWatcherStopped = errors.New("watcher is stopped")

// PropertiesWatcher reloads views whose properties file changed.
type PropertiesWatcher struct {
	opts      Options
	logger    *slog.Logger
	fsw       *fsnotify.Watcher
	poll      *poller
	debouncer *Debouncer

	mu      sync.Mutex
	targets map[string]Reloader // by directory
	stopped bool
	stopCh  chan struct{}

	reloads atomic.Uint64
}

// New creates a watcher. It uses fsnotify unless that fails or
// opts.ForcePolling is set.
func New(opts Options, logger *slog.Logger) (*PropertiesWatcher, error) {
	opts = opts.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	w := &PropertiesWatcher{
		opts:      opts,
		logger:    logger,
		debouncer: NewDebouncer(opts.DebounceWindow, logger),
		targets:   make(map[string]Reloader),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsw = fsw
			return w, nil
		}
		logger.Warn("fsnotify unavailable, falling back to polling", slog.String("error", err.Error()))
	}
	w.poll = newPoller()
	return w, nil
}

// Polling reports whether the watcher polls instead of using fsnotify.
func (w *PropertiesWatcher) Polling() bool { return w.poll != nil }

// Reloads returns how many reloads changed a view.
func (w *PropertiesWatcher) Reloads() uint64 { return w.reloads.Load() }

// Watch starts observing dir for changes of its properties file.
func (w *PropertiesWatcher) Watch(dir string, r Reloader) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return errWatcherStopped
	}
	if w.fsw != nil {
		// the directory, not the file: atomic saves replace the file
		if err := w.fsw.Add(abs); err != nil {
			return sverrors.IOError(fmt.Sprintf("watch %s", abs), err)
		}
	} else {
		w.poll.add(filepath.Join(abs, w.opts.FileName))
	}
	w.targets[abs] = r
	return nil
}

// Unwatch stops observing dir.
func (w *PropertiesWatcher) Unwatch(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.targets, abs)
	if w.fsw != nil {
		_ = w.fsw.Remove(abs)
	} else {
		w.poll.remove(filepath.Join(abs, w.opts.FileName))
	}
}

// Run processes changes until ctx is done or Stop is called.
func (w *PropertiesWatcher) Run(ctx context.Context) error {
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
		tick   <-chan time.Time
	)
	if w.fsw != nil {
		events, errs = w.fsw.Events, w.fsw.Errors
	} else {
		ticker := time.NewTicker(w.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	batches := w.debouncer.Output()

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		case <-tick:
			for _, path := range w.poll.changed() {
				w.debouncer.Add(filepath.Dir(path))
			}
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			w.reload(batch)
		}
	}
}

func (w *PropertiesWatcher) handleEvent(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != w.opts.FileName {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	w.debouncer.Add(filepath.Dir(ev.Name))
}

func (w *PropertiesWatcher) reload(dirs []string) {
	for _, dir := range dirs {
		w.mu.Lock()
		r, ok := w.targets[dir]
		w.mu.Unlock()
		if !ok {
			continue
		}

		changed, err := r.ReloadProperties()
		if err != nil {
			attrs := append([]slog.Attr{slog.String("dir", dir)}, sverrors.LogAttrs(err)...)
			w.logger.LogAttrs(context.Background(), slog.LevelWarn, "view_properties_reload_failed", attrs...)
			continue
		}
		if changed {
			w.reloads.Add(1)
			w.logger.Info("view_properties_changed", slog.String("dir", dir))
		}
	}
}

// Stop releases the watcher. Safe to call multiple times.
func (w *PropertiesWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

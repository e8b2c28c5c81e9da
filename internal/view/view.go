// Package view implements a search-indexed view: a persisted segmented store
// fed through a double-buffered pair of memory stores, with snapshots bound
// to transactions and a background sync worker keeping it all durable.
//
// Writes go to the active memory node under the view's shared lock. Commit
// (or the sync worker) rotates the ring under the exclusive lock, then drains
// the previous node into the persisted store without holding the view lock,
// so writers wait only for the pointer swap.
package view

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Aman-CERP/searchview/internal/analysis"
	sverrors "github.com/Aman-CERP/searchview/internal/errors"
	"github.com/Aman-CERP/searchview/internal/segment"
	"github.com/Aman-CERP/searchview/internal/store"
	"github.com/Aman-CERP/searchview/internal/syncworker"
	"github.com/Aman-CERP/searchview/internal/txn"
)

// Transaction is what a view needs from the transaction layer.
// *txn.Transaction implements it.
type Transaction interface {
	ID() txn.ID
	OnEnd(cb func(txn.Status)) error
}

var _ Transaction = (*txn.Transaction)(nil)

// Options configures a View.
type Options struct {
	// DataDir is the view directory holding view.yaml and, unless
	// Properties.StorePath says otherwise, the persisted segments.
	DataDir string

	// Properties seed a new view. An existing view.yaml takes precedence.
	// When no tuning field is set, DefaultProperties supplies them.
	Properties Properties

	// Worker is a shared sync worker. When nil the view starts its own,
	// configured from its properties.
	Worker *syncworker.Worker

	// Mapper analyzes inserted documents. When nil a default mapper is created.
	Mapper *analysis.Mapper

	Logger *slog.Logger

	// Registerer receives the metrics of a view-owned worker.
	Registerer prometheus.Registerer
}

// View coordinates the persisted store, the memory ring, transaction
// snapshots and the sync worker registration.
type View struct {
	dataDir string
	logger  *slog.Logger
	mapper  *analysis.Mapper
	self    *AsyncSelf

	// mu guards the ring designation, props and the open state.
	mu    sync.RWMutex
	props Properties
	rev   uint64

	// commitMu serializes rotations and drains.
	commitMu sync.Mutex

	persisted *PersistedStore
	ring      memoryRing

	snapshots *xsync.MapOf[txn.ID, *segment.Composite]
	writes    *xsync.MapOf[txn.ID, *writeState]

	worker     *syncworker.Worker
	ownWorker  bool
	registerer prometheus.Registerer
	lock       *store.FileLock

	persistMu sync.Mutex
	savedRev  uint64

	terminate atomic.Bool
	opened    bool
	closeOnce sync.Once
}

// New creates a view. Call Open before use.
func New(opts Options) (*View, error) {
	if opts.DataDir == "" {
		return nil, sverrors.ValidationError("view data directory is required", nil)
	}
	props := opts.Properties
	if props.tuningUnset() {
		defaults := DefaultProperties()
		defaults.ID, defaults.Name, defaults.StorePath = props.ID, props.Name, props.StorePath
		defaults.Collections = props.Collections
		props = defaults
	}
	if props.Name == "" {
		props.Name = filepath.Base(opts.DataDir)
	}
	if err := props.Validate(); err != nil {
		return nil, err
	}

	mapper := opts.Mapper
	if mapper == nil {
		var err error
		if mapper, err = analysis.NewMapper(); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	v := &View{
		dataDir:    opts.DataDir,
		logger:     logger,
		mapper:     mapper,
		props:      props.clone(),
		snapshots:  xsync.NewMapOf[txn.ID, *segment.Composite](),
		writes:     xsync.NewMapOf[txn.ID, *writeState](),
		worker:     opts.Worker,
		registerer: opts.Registerer,
		lock:       store.NewFileLock(opts.DataDir),
	}
	slices.Sort(v.props.Collections)
	v.props.Collections = slices.Compact(v.props.Collections)
	v.self = newAsyncSelf(v)
	return v, nil
}

// Open loads the view configuration, opens the stores, drops documents of
// collections that are no longer tracked and registers the view with its
// sync worker.
func (v *View) Open(ctx context.Context) error {
	if err := v.open(ctx); err != nil {
		return err
	}
	// the worker reads its configuration from the view, so it may only
	// start once the view lock is released
	if v.ownWorker {
		v.worker.Start(context.WithoutCancel(ctx))
	}
	return nil
}

func (v *View) open(ctx context.Context) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.opened || v.terminate.Load() {
		return sverrors.ValidationError("view already opened", nil)
	}

	if err := os.MkdirAll(v.dataDir, 0755); err != nil {
		return sverrors.IOError(fmt.Sprintf("create view directory %s", v.dataDir), err)
	}
	acquired, err := v.lock.TryLock()
	if err != nil {
		return sverrors.IOError("lock view directory", err)
	}
	if !acquired {
		return sverrors.New(sverrors.ErrCodeStoreLocked,
			fmt.Sprintf("view directory %s is in use by another process", v.dataDir), nil)
	}
	defer func() {
		if err != nil {
			v.terminate.Store(true)
			_ = v.closeStores()
			_ = v.lock.Unlock()
		}
	}()

	if err := v.loadOrInitProperties(); err != nil {
		return err
	}

	if err := v.openStores(ctx); err != nil {
		return err
	}

	if err := v.pruneUntracked(); err != nil {
		return err
	}

	if err := v.register(); err != nil {
		return err
	}

	v.opened = true
	v.logger.Info("view_opened",
		slog.String("view", v.props.Name),
		slog.String("path", v.persisted.Path()),
		slog.Int("collections", len(v.props.Collections)),
		slog.Int("segments", v.persisted.SegmentCount()),
		slog.Duration("sync_interval", v.props.SyncInterval))
	return nil
}

// loadOrInitProperties must be called with v.mu held.
func (v *View) loadOrInitProperties() error {
	loaded, err := LoadProperties(v.dataDir)
	switch {
	case err == nil:
		if err := loaded.Validate(); err != nil {
			return err
		}
		v.props = loaded
	case sverrors.GetCode(err) == sverrors.ErrCodeConfigNotFound:
		if v.props.StorePath == "" {
			v.props.StorePath = "segments"
		}
		if err := saveProperties(v.dataDir, v.props); err != nil {
			return err
		}
	default:
		return err
	}
	return nil
}

func (v *View) storeBasePath() string {
	if filepath.IsAbs(v.props.StorePath) {
		return v.props.StorePath
	}
	return filepath.Join(v.dataDir, v.props.StorePath)
}

// openStores must be called with v.mu held.
func (v *View) openStores(ctx context.Context) error {
	base := v.storeBasePath()
	backend := v.props.Backend
	if detected := store.DetectBackend(base); detected != "" && string(detected) != backend {
		v.logger.Warn("view_backend_mismatch",
			slog.String("configured", backend),
			slog.String("detected", string(detected)))
		backend = string(detected)
	}

	dir, err := sverrors.RetryWithResult(ctx, sverrors.DefaultRetryConfig(), func() (segment.Directory, error) {
		return store.NewDirectory(base, backend)
	})
	if err != nil {
		return err
	}
	persisted, err := segment.Open(ctx, v.props.Name+"/persisted", dir)
	if err != nil {
		_ = dir.Close()
		return err
	}
	node, err := newStoreNode(v.props.Name+"/persisted", persisted)
	if err != nil {
		_ = persisted.Close()
		return err
	}
	v.persisted = &PersistedStore{StoreNode: node, path: base}

	for i := range v.ring.nodes {
		name := fmt.Sprintf("%s/memory-%d", v.props.Name, i)
		mem, err := segment.Open(ctx, name, store.NewMemoryDirectory(), segment.WithRetainedTombstones())
		if err != nil {
			return err
		}
		if v.ring.nodes[i], err = newStoreNode(name, mem); err != nil {
			return err
		}
	}
	return nil
}

// pruneUntracked removes persisted documents of collections the view no
// longer tracks. Must be called with v.mu held.
func (v *View) pruneUntracked() error {
	props := v.props
	stale := func(k segment.Key) bool { return !props.tracks(k.Collection) }
	if err := v.persisted.removeWhere(stale); err != nil {
		return fmt.Errorf("prune untracked collections: %w", err)
	}
	return nil
}

// register adds the view's stores to the sync worker. Must be called with
// v.mu held.
func (v *View) register() error {
	if v.worker == nil {
		var opts []syncworker.Option
		opts = append(opts, syncworker.WithLogger(v.logger))
		if v.registerer != nil {
			opts = append(opts, syncworker.WithMetrics(syncworker.NewMetrics(v.registerer)))
		}
		v.worker = syncworker.New(v, opts...)
		v.ownWorker = true
	}

	if err := v.worker.Emplace(v.persistedHandle(), v.props.Name+"/persisted", &v.terminate, &v.persisted.mu); err != nil {
		return err
	}
	memory := taskHandle{self: v.self, target: func(v *View) syncworker.Target { return memoryTask{v} }}
	return v.worker.Emplace(memory, v.props.Name+"/memory", &v.terminate, &v.commitMu)
}

func (v *View) persistedHandle() taskHandle {
	return taskHandle{self: v.self, target: func(v *View) syncworker.Target { return persistedTask{v} }}
}

// WorkerConfig implements syncworker.ConfigSource for a view-owned worker.
func (v *View) WorkerConfig() syncworker.Config {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.props.WorkerConfig()
}

// Name returns the view name.
func (v *View) Name() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.props.Name
}

// DataDir returns the view directory.
func (v *View) DataDir() string { return v.dataDir }

// Mapper returns the mapper used to analyze inserted documents.
func (v *View) Mapper() *analysis.Mapper { return v.mapper }

// Properties returns a copy of the current properties.
func (v *View) Properties() Properties {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.props.clone()
}

// UpdateProperties replaces the mutable properties (name, sync parameters,
// consolidation, cache size), persists them and refreshes the worker.
// The id, store path, backend and collections are kept.
func (v *View) UpdateProperties(p Properties) error {
	if err := p.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	if err := v.checkOpenLocked(); err != nil {
		v.mu.Unlock()
		return err
	}
	v.applyLocked(p)
	v.mu.Unlock()

	if err := v.persistProperties(); err != nil {
		return err
	}
	v.worker.Refresh()
	return nil
}

// ReloadProperties re-reads view.yaml and applies its mutable properties.
// It reports whether anything changed.
func (v *View) ReloadProperties() (bool, error) {
	p, err := LoadProperties(v.dataDir)
	if err != nil {
		return false, err
	}
	if err := p.Validate(); err != nil {
		return false, err
	}

	v.mu.Lock()
	if err := v.checkOpenLocked(); err != nil {
		v.mu.Unlock()
		return false, err
	}
	before := v.props
	v.applyLocked(p)
	changed := before.Name != v.props.Name ||
		before.SyncInterval != v.props.SyncInterval ||
		before.CleanupIntervalStep != v.props.CleanupIntervalStep ||
		before.LockWait != v.props.LockWait ||
		before.Consolidation != v.props.Consolidation ||
		before.MatchCacheSize != v.props.MatchCacheSize
	v.mu.Unlock()

	if changed {
		v.worker.Refresh()
		v.logger.Info("view_properties_reloaded",
			slog.String("view", p.Name),
			slog.Duration("sync_interval", p.SyncInterval))
	}
	return changed, nil
}

// applyLocked copies the mutable fields of p. Must be called with v.mu held.
func (v *View) applyLocked(p Properties) {
	v.props.Name = p.Name
	v.props.SyncInterval = p.SyncInterval
	v.props.CleanupIntervalStep = p.CleanupIntervalStep
	v.props.LockWait = p.LockWait
	v.props.Consolidation = p.Consolidation
	v.props.MatchCacheSize = p.MatchCacheSize
	v.rev++
}

// persistProperties writes the newest properties revision unless a newer
// one was already written.
func (v *View) persistProperties() error {
	v.persistMu.Lock()
	defer v.persistMu.Unlock()

	v.mu.RLock()
	rev, props := v.rev, v.props.clone()
	v.mu.RUnlock()

	if rev <= v.savedRev && v.savedRev != 0 {
		return nil
	}
	if err := saveProperties(v.dataDir, props); err != nil {
		return err
	}
	v.savedRev = rev
	return nil
}

// checkOpenLocked must be called with v.mu held.
func (v *View) checkOpenLocked() error {
	if !v.opened || v.terminate.Load() {
		return sverrors.New(sverrors.ErrCodeViewClosed, fmt.Sprintf("view %q is not open", v.props.Name), nil)
	}
	return nil
}

// Close flushes committed data to the persisted store, detaches the view
// from asynchronous work and releases its stores and directory lock.
func (v *View) Close() error {
	var closeErr error
	v.closeOnce.Do(func() {
		v.mu.RLock()
		opened := v.opened
		v.mu.RUnlock()

		// background work must never observe a partially destroyed view
		v.self.invalidate()

		if opened {
			v.commitMu.Lock()
			for range v.ring.nodes {
				if err := v.commitLocked(); err != nil {
					v.logger.Warn("view_final_flush_failed",
						slog.String("view", v.Name()), slog.String("error", err.Error()))
					break
				}
			}
			v.commitMu.Unlock()
		}

		v.terminate.Store(true)
		if v.ownWorker {
			v.worker.Close()
		}

		v.commitMu.Lock()
		v.mu.Lock()
		closeErr = v.closeStores()
		v.opened = false
		v.mu.Unlock()
		v.commitMu.Unlock()

		if err := v.lock.Unlock(); err != nil && closeErr == nil {
			closeErr = err
		}
		v.snapshots.Clear()
		v.logger.Info("view_closed", slog.String("view", v.Name()))
	})
	return closeErr
}

// closeStores closes every node that was opened.
func (v *View) closeStores() error {
	var first error
	nodes := []*StoreNode{v.ring.nodes[0], v.ring.nodes[1]}
	if v.persisted != nil {
		nodes = append(nodes, v.persisted.StoreNode)
	}
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if err := n.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Delete closes the view and removes its directory.
func (v *View) Delete() error {
	v.mu.RLock()
	base := v.storeBasePath()
	v.mu.RUnlock()
	if err := v.Close(); err != nil {
		return err
	}
	if err := store.RemoveFiles(base); err != nil {
		return sverrors.IOError("remove persisted store", err)
	}
	if err := os.RemoveAll(v.dataDir); err != nil {
		return sverrors.IOError(fmt.Sprintf("remove view directory %s", v.dataDir), err)
	}
	return nil
}

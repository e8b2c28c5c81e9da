package view

import (
	"sync"

	"github.com/Aman-CERP/searchview/internal/syncworker"
)

// AsyncSelf lets asynchronous work reach a View that may be destroyed
// concurrently. Callers hold the read lock for as long as they use the
// View; destruction clears the reference under the write lock before any
// member is torn down.
type AsyncSelf struct {
	mu   sync.RWMutex
	view *View
}

func newAsyncSelf(v *View) *AsyncSelf { return &AsyncSelf{view: v} }

// Acquire returns the View and a release func, or nil when the View is gone.
// The View stays valid until release is called.
func (a *AsyncSelf) Acquire() (*View, func()) {
	a.mu.RLock()
	if a.view == nil {
		a.mu.RUnlock()
		return nil, func() {}
	}
	return a.view, a.mu.RUnlock
}

func (a *AsyncSelf) invalidate() {
	a.mu.Lock()
	a.view = nil
	a.mu.Unlock()
}

// taskHandle resolves one of the view's worker targets through AsyncSelf.
type taskHandle struct {
	self   *AsyncSelf
	target func(*View) syncworker.Target
}

var _ syncworker.ConfiguredHandle = taskHandle{}

// Resolve implements syncworker.Handle.
func (h taskHandle) Resolve(fn func(syncworker.Target) error) (bool, error) {
	v, release := h.self.Acquire()
	if v == nil {
		return false, nil
	}
	defer release()
	return true, fn(h.target(v))
}

// TaskConfig implements syncworker.ConfiguredHandle. A shared worker visits
// the view's stores on the view's own sync parameters.
func (h taskHandle) TaskConfig() (syncworker.Config, bool) {
	v, release := h.self.Acquire()
	if v == nil {
		return syncworker.Config{}, false
	}
	defer release()
	return v.WorkerConfig(), true
}

// Package txn provides the transaction layer views hook into: transactions
// with an identity, an outcome, and end-of-transaction callbacks that fire
// exactly once.
package txn

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	sverrors "github.com/Aman-CERP/searchview/internal/errors"
)

// ID identifies a transaction.
type ID string

// Status is the lifecycle state of a transaction.
type Status int32

const (
	StatusRunning Status = iota
	StatusCommitted
	StatusAborted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCommitted:
		return "committed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Transaction is a unit of work whose outcome is reported to registered
// callbacks.
type Transaction struct {
	id      ID
	started time.Time
	mgr     *Manager

	mu        sync.Mutex
	status    Status
	callbacks []func(Status)
}

// ID returns the transaction identity.
func (t *Transaction) ID() ID { return t.id }

// Started returns when the transaction began.
func (t *Transaction) Started() time.Time { return t.started }

// Status returns the current status.
func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// OnEnd registers cb to run once with the outcome when the transaction
// commits or aborts. Callbacks run in registration order. Registering on a
// finished transaction fails with ErrTransactionFinished.
func (t *Transaction) OnEnd(cb func(Status)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning {
		return t.finishedError()
	}
	t.callbacks = append(t.callbacks, cb)
	return nil
}

// Commit ends the transaction successfully.
func (t *Transaction) Commit() error { return t.finish(StatusCommitted) }

// Abort ends the transaction, discarding its effects.
func (t *Transaction) Abort() error { return t.finish(StatusAborted) }

func (t *Transaction) finish(outcome Status) error {
	t.mu.Lock()
	if t.status != StatusRunning {
		err := t.finishedError()
		t.mu.Unlock()
		return err
	}
	t.status = outcome
	callbacks := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	// callbacks may call back into the transaction, so run them unlocked
	for _, cb := range callbacks {
		cb(outcome)
	}
	if t.mgr != nil {
		t.mgr.end(t, outcome)
	}
	return nil
}

// finishedError must be called with t.mu held.
func (t *Transaction) finishedError() error {
	return sverrors.New(sverrors.ErrCodeTransactionFinished,
		fmt.Sprintf("transaction %s already %s", t.id, t.status), nil)
}

// Manager creates transactions and tracks the running ones.
type Manager struct {
	active *xsync.MapOf[ID, *Transaction]
	logger *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates an empty manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		active: xsync.NewMapOf[ID, *Transaction](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a transaction.
func (m *Manager) Begin() *Transaction {
	t := &Transaction{
		id:      ID(uuid.Must(uuid.NewV7()).String()),
		started: time.Now(),
		mgr:     m,
	}
	m.active.Store(t.id, t)
	return t
}

// Lookup returns a running transaction by id.
func (m *Manager) Lookup(id ID) (*Transaction, bool) {
	return m.active.Load(id)
}

// Active returns the number of running transactions.
func (m *Manager) Active() int { return m.active.Size() }

func (m *Manager) end(t *Transaction, outcome Status) {
	m.active.Delete(t.id)
	m.logger.Debug("transaction_ended",
		slog.String("txn", string(t.id)),
		slog.String("status", outcome.String()),
		slog.Duration("duration", time.Since(t.started)))
}

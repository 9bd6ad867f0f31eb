package rollback

import (
	"sync"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery/checkpoint"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

// DefaultMaxLogSize is the transaction log window when none is configured.
const DefaultMaxLogSize = 1000

// CheckpointStore is the subset of checkpoint.Manager used for rollback.
type CheckpointStore interface {
	Get(id string) (*checkpoint.Checkpoint, error)
	LatestID() (string, bool)
	Apply(cp *checkpoint.Checkpoint) error
}

// LogEntry is the pre-transaction state recorded for one transaction.
type LogEntry struct {
	TransactionID string
	Before        domain.SystemState
}

// Manager restores checkpoints on demand and keeps a bounded log of
// recorded transactions.
//
// Rollback always targets a checkpoint; the logged pre-states are kept
// for inspection and are discarded once a rollback succeeds.
type Manager struct {
	checkpoints CheckpointStore

	// rollbackMu serializes rollbacks.
	rollbackMu sync.Mutex

	mu          sync.Mutex
	log         []LogEntry
	lastTrigger *Trigger

	maxLogSize int
	logger     logger.Logger
	metrics    *metric.Registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxLogSize sets the transaction log window. Values below 1 are ignored.
func WithMaxLogSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxLogSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metric.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// New creates a rollback manager over checkpoints.
func New(checkpoints CheckpointStore, opts ...Option) *Manager {
	m := &Manager{
		checkpoints: checkpoints,
		maxLogSize:  DefaultMaxLogSize,
		logger:      logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "rollback")
	return m
}

// MaxLogSize returns the transaction log window.
func (m *Manager) MaxLogSize() int {
	return m.maxLogSize
}

// RecordTransaction appends a clone of before to the log, dropping the
// oldest entries beyond MaxLogSize.
func (m *Manager) RecordTransaction(txID string, before domain.SystemState) {
	entry := LogEntry{TransactionID: txID, Before: before.Clone()}

	m.mu.Lock()
	m.log = append(m.log, entry)
	trimmed := 0
	if excess := len(m.log) - m.maxLogSize; excess > 0 {
		// Copy so the dropped prefix can be collected.
		m.log = append([]LogEntry(nil), m.log[excess:]...)
		trimmed = excess
	}
	m.mu.Unlock()

	m.logger.Debug("transaction recorded", "tx_id", txID)
	if trimmed > 0 {
		m.logger.Debug("transaction log trimmed", "dropped", trimmed, "max", m.maxLogSize)
	}
}

// TriggerRollback records trigger and rolls back to the latest checkpoint.
func (m *Manager) TriggerRollback(trigger Trigger) error {
	m.mu.Lock()
	t := trigger
	m.lastTrigger = &t
	m.mu.Unlock()

	m.logger.Warn("rollback triggered", "trigger", trigger.Kind.String(), "detail", trigger.Detail)

	id, ok := m.checkpoints.LatestID()
	if !ok {
		err := domain.ErrRollbackFailed.WithCause(domain.ErrNoCheckpoints)
		m.metrics.RollbackDone(trigger.Kind.String(), err)
		m.logger.Error("rollback failed", "error", err)
		return err
	}

	err := m.rollbackTo(id)
	m.metrics.RollbackDone(trigger.Kind.String(), err)
	return err
}

// RollbackToCheckpoint restores checkpoint id and clears the transaction
// log on success.
func (m *Manager) RollbackToCheckpoint(id string) error {
	err := m.rollbackTo(id)
	m.metrics.RollbackDone("direct", err)
	return err
}

func (m *Manager) rollbackTo(id string) error {
	m.rollbackMu.Lock()
	defer m.rollbackMu.Unlock()

	m.logger.Info("rolling back", "checkpoint_id", id)

	cp, err := m.checkpoints.Get(id)
	if err != nil {
		err = domain.ErrRollbackFailed.WithDetails("get checkpoint").WithCause(err)
		m.logger.Error("rollback failed", "checkpoint_id", id, "error", err)
		return err
	}
	if err := m.checkpoints.Apply(cp); err != nil {
		err = domain.ErrRollbackFailed.WithDetails("apply checkpoint").WithCause(err)
		m.logger.Error("rollback failed", "checkpoint_id", id, "error", err)
		return err
	}

	m.ClearTransactionLog()
	m.logger.Info("rolled back", "checkpoint_id", id)
	return nil
}

// LastTrigger returns the most recent trigger passed to TriggerRollback.
func (m *Manager) LastTrigger() (Trigger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastTrigger == nil {
		return Trigger{}, false
	}
	return *m.lastTrigger, true
}

// TransactionLog returns a copy of the log, oldest first.
func (m *Manager) TransactionLog() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LogEntry, len(m.log))
	for i, e := range m.log {
		out[i] = LogEntry{TransactionID: e.TransactionID, Before: e.Before.Clone()}
	}
	return out
}

// LogLen returns the number of logged transactions.
func (m *Manager) LogLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

// ClearTransactionLog drops every logged transaction.
func (m *Manager) ClearTransactionLog() {
	m.mu.Lock()
	m.log = nil
	m.mu.Unlock()
	m.logger.Info("transaction log cleared")
}

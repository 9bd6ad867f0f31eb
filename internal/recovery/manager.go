package recovery

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery/checkpoint"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

// Status is the outcome class of a recovery.
type Status uint8

const (
	StatusSuccess Status = iota + 1
	StatusPartial
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports a recovery. Warnings lists advisory transactions that
// could not be replayed; Err is set only when Status is StatusFailed.
type Result struct {
	Status   Status
	Warnings []string
	Err      error
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Err: err}
}

// CheckpointSource looks up checkpoints.
type CheckpointSource interface {
	Get(id string) (*checkpoint.Checkpoint, error)
	LatestID() (string, bool)
}

// Rollbacker rolls live state back to a checkpoint.
type Rollbacker interface {
	RollbackToCheckpoint(id string) error
}

// StateTarget receives the recovered state.
type StateTarget interface {
	Replace(state domain.SystemState) error
}

// ReplayFunc reapplies one transaction to state in place.
type ReplayFunc func(state domain.SystemState) error

// Listener observes successful and partial recoveries.
type Listener func(Result)

type pendingTx struct {
	id       string
	apply    ReplayFunc
	critical bool
}

// Manager drives checkpoint recovery.
type Manager struct {
	checkpoints CheckpointSource
	rollbacker  Rollbacker
	target      StateTarget

	// recoverMu serializes recoveries.
	recoverMu sync.Mutex

	mu        sync.Mutex
	pending   []pendingTx
	listeners []Listener

	limiter *rate.Limiter
	logger  logger.Logger
	metrics *metric.Registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithAutoRecoverLimiter bounds how often AutoRecover may run.
func WithAutoRecoverLimiter(l *rate.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metric.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager creates a recovery manager.
func NewManager(checkpoints CheckpointSource, rollbacker Rollbacker, target StateTarget, opts ...Option) *Manager {
	m := &Manager{
		checkpoints: checkpoints,
		rollbacker:  rollbacker,
		target:      target,
		logger:      logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "recovery")
	return m
}

// RegisterTransaction queues a transaction to replay after the next
// recovery. A failing critical transaction fails the recovery.
func (m *Manager) RegisterTransaction(id string, apply ReplayFunc, critical bool) error {
	if apply == nil {
		return domain.ErrInvalidArgument.WithDetails("nil replay func")
	}

	m.mu.Lock()
	m.pending = append(m.pending, pendingTx{id: id, apply: apply, critical: critical})
	m.mu.Unlock()

	m.logger.Info("transaction registered", "tx_id", id, "critical", critical)
	return nil
}

// AddListener registers fn to be called after each successful or
// partial recovery.
func (m *Manager) AddListener(fn Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// ClearPending drops every registered transaction.
func (m *Manager) ClearPending() {
	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	m.logger.Info("pending transactions cleared")
}

// PendingLen returns the number of registered transactions.
func (m *Manager) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// RecoverFromCheckpoint rolls back to checkpoint id, replays pending
// transactions on its state and hands the result to the target.
func (m *Manager) RecoverFromCheckpoint(id string) Result {
	m.recoverMu.Lock()
	defer m.recoverMu.Unlock()

	res := m.recover(id)
	m.metrics.RecoveryDone(res.Status.String())
	if res.Status != StatusFailed {
		m.notify(res)
	}
	return res
}

func (m *Manager) recover(id string) Result {
	log := m.logger.With("checkpoint_id", id)
	log.Info("recovery started")

	cp, err := m.checkpoints.Get(id)
	if err != nil {
		log.Error("recovery failed", "step", "get checkpoint", "error", err)
		return failed(domain.ErrRecoveryFailed.WithDetails("get checkpoint").WithCause(err))
	}

	if err := m.rollbacker.RollbackToCheckpoint(cp.ID); err != nil {
		log.Error("recovery failed", "step", "rollback", "error", err)
		return failed(domain.ErrRecoveryFailed.WithDetails("rollback").WithCause(err))
	}

	m.mu.Lock()
	pending := append([]pendingTx(nil), m.pending...)
	m.mu.Unlock()

	state := cp.State.Clone()
	var warnings []string
	for _, tx := range pending {
		if err := replay(tx.apply, state); err != nil {
			msg := fmt.Sprintf("replay transaction %s: %v", tx.id, err)
			if tx.critical {
				log.Error("critical transaction failed, recovery aborted", "tx_id", tx.id, "error", err)
				return failed(domain.ErrRecoveryFailed.WithDetails(msg))
			}
			log.Warn("transaction replay failed", "tx_id", tx.id, "error", err)
			warnings = append(warnings, msg)
			continue
		}
		log.Debug("transaction replayed", "tx_id", tx.id)
	}

	if len(pending) > 0 {
		if err := m.target.Replace(state); err != nil {
			log.Error("recovery failed", "step", "replace state", "error", err)
			return failed(domain.ErrRecoveryFailed.WithDetails("replace state").WithCause(err))
		}
	}

	if len(warnings) > 0 {
		log.Warn("recovery completed with warnings", "warnings", len(warnings))
		return Result{Status: StatusPartial, Warnings: warnings}
	}
	log.Info("recovery completed", "replayed", len(pending))
	return Result{Status: StatusSuccess}
}

// AutoRecover recovers from the latest checkpoint. With a limiter set,
// calls over the limit fail with ErrRateLimited.
func (m *Manager) AutoRecover() Result {
	if m.limiter != nil && !m.limiter.Allow() {
		m.logger.Warn("auto recovery rate limited")
		return m.fail(domain.ErrRateLimited.WithDetails("auto recovery"))
	}
	return m.recoverLatest()
}

// WaitAutoRecover is AutoRecover that waits for the limiter instead of
// failing.
func (m *Manager) WaitAutoRecover(ctx context.Context) Result {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return m.fail(domain.ErrRateLimited.WithCause(err))
		}
	}
	return m.recoverLatest()
}

func (m *Manager) recoverLatest() Result {
	id, ok := m.checkpoints.LatestID()
	if !ok {
		m.logger.Error("auto recovery failed", "error", domain.ErrNoCheckpoints)
		return m.fail(domain.ErrRecoveryFailed.WithCause(domain.ErrNoCheckpoints))
	}
	return m.RecoverFromCheckpoint(id)
}

func (m *Manager) fail(err error) Result {
	res := failed(err)
	m.metrics.RecoveryDone(res.Status.String())
	return res
}

func (m *Manager) notify(res Result) {
	m.mu.Lock()
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(res)
	}
}

func replay(fn ReplayFunc, state domain.SystemState) (err error) {
	defer domain.RecoverPanic(&err, "replay transaction")
	return fn(state)
}

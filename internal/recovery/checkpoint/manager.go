package checkpoint

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

// DefaultMaxCheckpoints is the retention limit when none is configured.
const DefaultMaxCheckpoints = 10

// Checkpoint is a named full-state image.
type Checkpoint struct {
	ID        string
	Timestamp int64 // Unix nanoseconds
	State     domain.SystemState
}

func (c *Checkpoint) clone() *Checkpoint {
	return &Checkpoint{ID: c.ID, Timestamp: c.Timestamp, State: c.State.Clone()}
}

// ApplyFunc restores a checkpoint into the live system.
//
// It runs while the manager is fenced against Create and Delete, so it
// must not call either; Get, LatestID and List are safe.
type ApplyFunc func(*Checkpoint) error

// Manager keeps up to MaxCheckpoints checkpoints, evicting the oldest.
type Manager struct {
	// fence serializes structural changes against Apply.
	fence sync.Mutex

	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	lastTS      int64

	max     int
	apply   ApplyFunc
	now     func() time.Time
	logger  logger.Logger
	metrics *metric.Registry
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxCheckpoints sets the retention limit. Values below 1 are ignored.
func WithMaxCheckpoints(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.max = n
		}
	}
}

// WithApplyFunc registers the restoration callback.
func WithApplyFunc(fn ApplyFunc) Option {
	return func(m *Manager) { m.apply = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metric.Registry) Option {
	return func(m *Manager) { m.metrics = r }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		checkpoints: make(map[string]*Checkpoint),
		max:         DefaultMaxCheckpoints,
		now:         time.Now,
		logger:      logger.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "checkpoint")
	return m
}

// SetApplyFunc replaces the restoration callback. It waits for any
// in-flight Apply to finish.
func (m *Manager) SetApplyFunc(fn ApplyFunc) {
	m.fence.Lock()
	defer m.fence.Unlock()
	m.apply = fn
}

// MaxCheckpoints returns the retention limit.
func (m *Manager) MaxCheckpoints() int {
	return m.max
}

// Create stores a clone of state as a new checkpoint and evicts the
// oldest ones beyond the retention limit. Timestamps are strictly
// increasing per manager, so ids never collide even when the clock does
// not advance between calls.
func (m *Manager) Create(state domain.SystemState) (*Checkpoint, error) {
	m.fence.Lock()
	defer m.fence.Unlock()

	m.mu.Lock()
	ts := m.now().UnixNano()
	if ts <= m.lastTS {
		ts = m.lastTS + 1
	}
	m.lastTS = ts

	cp := &Checkpoint{
		ID:        fmt.Sprintf("checkpoint-%d", ts),
		Timestamp: ts,
		State:     state.Clone(),
	}
	m.checkpoints[cp.ID] = cp
	evicted := m.evictLocked()
	m.mu.Unlock()

	m.logger.Info("checkpoint created", "checkpoint_id", cp.ID, "keys", len(cp.State))
	m.metrics.CheckpointCreated()
	for _, id := range evicted {
		m.logger.Info("checkpoint evicted", "checkpoint_id", id, "max", m.max)
		m.metrics.CheckpointEvicted()
	}
	return cp.clone(), nil
}

func (m *Manager) evictLocked() []string {
	excess := len(m.checkpoints) - m.max
	if excess <= 0 {
		return nil
	}
	ordered := m.sortedLocked()
	evicted := make([]string, 0, excess)
	for _, cp := range ordered[:excess] {
		delete(m.checkpoints, cp.ID)
		evicted = append(evicted, cp.ID)
	}
	return evicted
}

func (m *Manager) sortedLocked() []*Checkpoint {
	out := make([]*Checkpoint, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Get returns a deep copy of the checkpoint with the given id.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[id]
	if !ok {
		return nil, domain.ErrCheckpointNotFound.WithDetails(id)
	}
	return cp.clone(), nil
}

// LatestID returns the id with the greatest timestamp.
func (m *Manager) LatestID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Checkpoint
	for _, cp := range m.checkpoints {
		if latest == nil || cp.Timestamp > latest.Timestamp {
			latest = cp
		}
	}
	if latest == nil {
		return "", false
	}
	return latest.ID, true
}

// Delete removes a checkpoint.
func (m *Manager) Delete(id string) error {
	m.fence.Lock()
	defer m.fence.Unlock()

	m.mu.Lock()
	_, ok := m.checkpoints[id]
	delete(m.checkpoints, id)
	m.mu.Unlock()

	if !ok {
		return domain.ErrCheckpointNotFound.WithDetails(id)
	}
	m.logger.Info("checkpoint deleted", "checkpoint_id", id)
	return nil
}

// Apply hands cp to the registered ApplyFunc. Without one it only logs a
// warning and returns nil; nothing is restored in that case.
func (m *Manager) Apply(cp *Checkpoint) (err error) {
	if cp == nil {
		return domain.ErrInvalidArgument.WithDetails("nil checkpoint")
	}

	m.fence.Lock()
	defer m.fence.Unlock()

	m.logger.Info("applying checkpoint", "checkpoint_id", cp.ID)
	if m.apply == nil {
		m.logger.Warn("no apply func registered, checkpoint state not restored", "checkpoint_id", cp.ID)
		return nil
	}

	defer func() {
		m.metrics.CheckpointApplied(err)
		if err != nil {
			m.logger.Error("apply checkpoint failed", "checkpoint_id", cp.ID, "error", err)
		}
	}()
	defer domain.RecoverPanic(&err, "apply checkpoint")

	return m.apply(cp)
}

// List returns checkpoint ids ordered oldest first.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ordered := m.sortedLocked()
	ids := make([]string, len(ordered))
	for i, cp := range ordered {
		ids[i] = cp.ID
	}
	return ids
}

// Len returns the number of stored checkpoints.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.checkpoints)
}

// Import stores an externally decoded checkpoint under its original id,
// subject to the same retention limit. It fails if the id exists.
func (m *Manager) Import(cp *Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return domain.ErrInvalidArgument.WithDetails("checkpoint without id")
	}

	m.fence.Lock()
	defer m.fence.Unlock()

	m.mu.Lock()
	if _, ok := m.checkpoints[cp.ID]; ok {
		m.mu.Unlock()
		return domain.ErrInvalidArgument.WithDetailsf("checkpoint %s already exists", cp.ID)
	}
	m.checkpoints[cp.ID] = cp.clone()
	if cp.Timestamp > m.lastTS {
		m.lastTS = cp.Timestamp
	}
	evicted := m.evictLocked()
	m.mu.Unlock()

	m.logger.Info("checkpoint imported", "checkpoint_id", cp.ID)
	for _, id := range evicted {
		m.logger.Info("checkpoint evicted", "checkpoint_id", id, "max", m.max)
		m.metrics.CheckpointEvicted()
	}
	return nil
}

package snapshot

import (
	"sort"
	"sync"

	"github.com/yndnr/vmstate-go/internal/core/domain"
)

// DefaultRetention is the number of snapshots kept by Cleanup when the
// caller passes a negative limit. A limit of zero keeps nothing.
const DefaultRetention = 5

// Snapshot is one captured state.
type Snapshot[T any] struct {
	ID    uint32
	State T
}

// Manager stores snapshots of T under sequential ids starting at 1.
//
// States are cloned on the way in and out, so callers can never alias
// stored data. One mutex guards the whole collection.
type Manager[T any] struct {
	mu        sync.Mutex
	snapshots map[uint32]T
	nextID    uint32
	retention int
	clone     func(T) T
}

// NewManager creates a manager that keeps at most retention snapshots
// after Cleanup. clone must return a deep copy of its argument.
func NewManager[T any](retention int, clone func(T) T) *Manager[T] {
	if retention < 0 {
		retention = DefaultRetention
	}
	return &Manager[T]{
		snapshots: make(map[uint32]T),
		nextID:    1,
		retention: retention,
		clone:     clone,
	}
}

// Retention returns the configured limit.
func (m *Manager[T]) Retention() int {
	return m.retention
}

// Capture stores a clone of state and returns its id.
func (m *Manager[T]) Capture(state T) (id uint32, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer domain.RecoverPanic(&err, "snapshot capture")

	cp := m.clone(state)
	id = m.nextID
	m.nextID++
	m.snapshots[id] = cp
	return id, nil
}

// Restore returns a clone of the snapshot with the given id.
func (m *Manager[T]) Restore(id uint32) (state T, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer domain.RecoverPanic(&err, "snapshot restore")

	s, ok := m.snapshots[id]
	if !ok {
		return state, domain.ErrSnapshotNotFound.WithDetailsf("id %d", id)
	}
	return m.clone(s), nil
}

// Get returns the snapshot record with a cloned state.
func (m *Manager[T]) Get(id uint32) (Snapshot[T], error) {
	state, err := m.Restore(id)
	if err != nil {
		return Snapshot[T]{}, err
	}
	return Snapshot[T]{ID: id, State: state}, nil
}

// Cleanup removes the lowest ids until at most Retention snapshots remain
// and returns how many were removed.
func (m *Manager[T]) Cleanup() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	excess := len(m.snapshots) - m.retention
	if excess <= 0 {
		return 0, nil
	}
	ids := m.sortedIDs()
	for _, id := range ids[:excess] {
		delete(m.snapshots, id)
	}
	return excess, nil
}

// Len returns the number of stored snapshots.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// IDs returns stored ids in ascending order.
func (m *Manager[T]) IDs() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedIDs()
}

func (m *Manager[T]) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

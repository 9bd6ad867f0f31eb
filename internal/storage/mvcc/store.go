package mvcc

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
	"github.com/yndnr/vmstate-go/pkg/cmap"
)

// VersionedValue is one entry in a key's history.
//
// Invariant: when Deleted is set, DeletedAt > CreatedAt.
type VersionedValue struct {
	Value     []byte
	CreatedAt domain.Version
	DeletedAt domain.Version
	Deleted   bool
}

// VisibleAt reports whether the entry is visible to a reader at v.
func (vv VersionedValue) VisibleAt(v domain.Version) bool {
	return vv.CreatedAt <= v && (!vv.Deleted || vv.DeletedAt > v)
}

// OpKind identifies a write operation.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// WriteOp is a single operation inside a transaction.
type WriteOp struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Put returns a put operation.
func Put(key, value []byte) WriteOp {
	return WriteOp{Kind: OpPut, Key: key, Value: value}
}

// Delete returns a delete operation.
func Delete(key []byte) WriteOp {
	return WriteOp{Kind: OpDelete, Key: key}
}

// Stats describes the store's history footprint.
type Stats struct {
	Keys       int
	Entries    int
	Tombstones int
	Version    domain.Version
}

// Store is an in-memory multi-version key-value store.
//
// Writers are serialized by writeMu. Each key's history slice is never
// mutated after it is published to the map: a transaction builds a new
// slice and swaps it in, so readers scan an immutable view without
// taking writeMu. The current version is published after all of a
// transaction's histories are swapped, and reads clamp their version to
// the published one, so in-flight entries are never visible.
//
// History is never compacted. Superseded and tombstoned entries stay in
// memory for the life of the store; Stats exposes the growth.
type Store struct {
	writeMu sync.Mutex
	version atomic.Uint64
	history *cmap.Map[string, []VersionedValue]

	logger  logger.Logger
	metrics *metric.Registry
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates an empty store at version 0.
func New(opts ...Option) *Store {
	s := &Store{
		history: cmap.New[string, []VersionedValue](),
		logger:  logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mvcc")
	return s
}

// CurrentVersion returns the latest committed version.
func (s *Store) CurrentVersion() domain.Version {
	return domain.Version(s.version.Load())
}

// Read returns the value of key visible at version v. Versions past the
// current one read as the current version.
func (s *Store) Read(key []byte, v domain.Version) ([]byte, bool) {
	v = s.clamp(v)
	entries, ok := s.history.Get(string(key))
	if !ok {
		return nil, false
	}
	return visible(entries, v)
}

// ReadLatest returns the value of key at the current version.
func (s *Store) ReadLatest(key []byte) ([]byte, bool) {
	return s.Read(key, s.CurrentVersion())
}

func visible(entries []VersionedValue, v domain.Version) ([]byte, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].VisibleAt(v) {
			return bytes.Clone(entries[i].Value), true
		}
	}
	return nil, false
}

// Transaction applies ops atomically and returns the committed version.
// An empty op list still commits a new version.
func (s *Store) Transaction(ops []WriteOp) (version domain.Version, err error) {
	for i, op := range ops {
		if op.Kind != OpPut && op.Kind != OpDelete {
			err := domain.ErrInvalidArgument.WithDetailsf("op %d: unknown kind %d", i, op.Kind)
			s.metrics.ObserveTransaction(0, err)
			return 0, err
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	defer func() {
		if err != nil {
			s.logger.Error("transaction aborted", "error", err)
		}
		s.metrics.ObserveTransaction(uint64(version), err)
	}()
	defer domain.RecoverPanic(&err, "transaction")

	next := s.CurrentVersion() + 1

	// Stage new histories first so a panic leaves the store untouched.
	staged := make(map[string][]VersionedValue, len(ops))
	for _, op := range ops {
		key := string(op.Key)
		cur, ok := staged[key]
		if !ok {
			cur, _ = s.history.Get(key)
		}
		switch op.Kind {
		case OpPut:
			cur = appendEntry(cur, VersionedValue{
				Value:     bytes.Clone(op.Value),
				CreatedAt: next,
			})
		case OpDelete:
			cur = tombstone(cur, next)
		}
		staged[key] = cur
	}

	for key, entries := range staged {
		if len(entries) > 0 {
			s.history.Set(key, entries)
		}
	}
	s.version.Store(uint64(next))

	s.logger.Debug("transaction committed", "version", uint64(next), "ops", len(ops))
	return next, nil
}

// appendEntry returns a new slice; the input may be shared with readers.
func appendEntry(entries []VersionedValue, vv VersionedValue) []VersionedValue {
	out := make([]VersionedValue, len(entries), len(entries)+1)
	copy(out, entries)
	return append(out, vv)
}

// tombstone marks every live entry deleted at v. Older live entries are
// shadowed by newer ones, so readers observe only the newest going away;
// closing them all keeps an older value from reappearing once the newest
// is gone. Entries created at v by the same transaction are dropped
// instead, preserving DeletedAt > CreatedAt. Returns entries unchanged
// when nothing is live.
func tombstone(entries []VersionedValue, v domain.Version) []VersionedValue {
	live := false
	for _, e := range entries {
		if !e.Deleted {
			live = true
			break
		}
	}
	if !live {
		return entries
	}

	out := make([]VersionedValue, 0, len(entries))
	for _, e := range entries {
		if !e.Deleted {
			if e.CreatedAt == v {
				continue
			}
			e.Deleted = true
			e.DeletedAt = v
		}
		out = append(out, e)
	}
	return out
}

// Put writes a single key in its own transaction.
func (s *Store) Put(key, value []byte) (domain.Version, error) {
	return s.Transaction([]WriteOp{Put(key, value)})
}

// Delete removes a single key in its own transaction. Deleting a key
// with no live entry still commits a version.
func (s *Store) Delete(key []byte) (domain.Version, error) {
	return s.Transaction([]WriteOp{Delete(key)})
}

// StateAt returns every key visible at v.
func (s *Store) StateAt(v domain.Version) domain.SystemState {
	v = s.clamp(v)
	state := make(domain.SystemState)
	s.history.Range(func(key string, entries []VersionedValue) bool {
		if val, ok := visible(entries, v); ok {
			state[key] = val
		}
		return true
	})
	return state
}

func (s *Store) clamp(v domain.Version) domain.Version {
	return min(v, s.CurrentVersion())
}

// LatestState returns every key visible at the current version.
func (s *Store) LatestState() domain.SystemState {
	return s.StateAt(s.CurrentVersion())
}

// History returns a copy of key's entries, oldest first.
func (s *Store) History(key []byte) []VersionedValue {
	entries, _ := s.history.Get(string(key))
	out := make([]VersionedValue, len(entries))
	for i, e := range entries {
		e.Value = bytes.Clone(e.Value)
		out[i] = e
	}
	return out
}

// Stats walks all histories.
func (s *Store) Stats() Stats {
	st := Stats{Version: s.CurrentVersion()}
	s.history.Range(func(_ string, entries []VersionedValue) bool {
		st.Keys++
		st.Entries += len(entries)
		for _, e := range entries {
			if e.Deleted {
				st.Tombstones++
			}
		}
		return true
	})
	return st
}

// MetricStats adapts Stats for metric.NewStoreCollector.
func (s *Store) MetricStats() metric.StoreStats {
	st := s.Stats()
	return metric.StoreStats{
		Keys:       st.Keys,
		Entries:    st.Entries,
		Tombstones: st.Tombstones,
		Version:    uint64(st.Version),
	}
}

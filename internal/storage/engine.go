package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery"
	"github.com/yndnr/vmstate-go/internal/recovery/checkpoint"
	"github.com/yndnr/vmstate-go/internal/recovery/rollback"
	"github.com/yndnr/vmstate-go/internal/recovery/verify"
	"github.com/yndnr/vmstate-go/internal/storage/merkle"
	"github.com/yndnr/vmstate-go/internal/storage/mvcc"
	"github.com/yndnr/vmstate-go/internal/storage/snapshot"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

// Config configures the engine.
type Config struct {
	// MaxCheckpoints bounds retained checkpoints.
	MaxCheckpoints int

	// SnapshotRetention bounds retained snapshots after each capture.
	SnapshotRetention int

	// MaxTransactionLog bounds the rollback transaction log.
	MaxTransactionLog int

	// HashAlgorithm selects the Merkle node hash.
	HashAlgorithm merkle.Algorithm

	// RecordTransactions logs the pre-state of every Execute.
	RecordTransactions bool

	// CheckpointInterval enables periodic checkpoints when positive.
	CheckpointInterval time.Duration

	// AutoRecoverEvery and AutoRecoverBurst rate limit AutoRecover.
	// Zero disables the limit.
	AutoRecoverEvery time.Duration
	AutoRecoverBurst int

	// RequiredKeys registers a critical consistency check.
	RequiredKeys []string

	Logger  logger.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxCheckpoints:     checkpoint.DefaultMaxCheckpoints,
		SnapshotRetention:  snapshot.DefaultRetention,
		MaxTransactionLog:  rollback.DefaultMaxLogSize,
		HashAlgorithm:      merkle.SHA256,
		RecordTransactions: true,
	}
}

// Image is the snapshot payload: a full state and its commitment.
type Image struct {
	Version     domain.Version
	RootHash    merkle.Hash
	HasRoot     bool
	State       domain.SystemState
	CreatedAt   time.Time
	Description string
}

func cloneImage(im Image) Image {
	im.State = im.State.Clone()
	return im
}

// SnapshotInfo describes a captured snapshot.
type SnapshotInfo struct {
	ID          uint32
	Version     domain.Version
	RootHash    string
	CreatedAt   time.Time
	Description string
	Keys        int
}

func newSnapshotInfo(id uint32, im Image) SnapshotInfo {
	info := SnapshotInfo{
		ID:          id,
		Version:     im.Version,
		CreatedAt:   im.CreatedAt,
		Description: im.Description,
		Keys:        len(im.State),
	}
	if im.HasRoot {
		info.RootHash = im.RootHash.String()
	}
	return info
}

// Stats summarizes engine state.
type Stats struct {
	Store          mvcc.Stats
	Snapshots      int
	Checkpoints    int
	TransactionLog int
	PendingReplays int
}

// Engine is the versioned state engine.
type Engine struct {
	cfg Config

	store       *mvcc.Store
	snapshots   *snapshot.Manager[Image]
	checkpoints *checkpoint.Manager
	rollbacks   *rollback.Manager
	verifier    *verify.Verifier
	recovery    *recovery.Manager

	// execMu keeps the recorded pre-state and the commit together.
	execMu sync.Mutex

	logger  logger.Logger
	metrics *metric.Registry

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// New creates an engine and starts periodic checkpointing if configured.
func New(cfg Config) (*Engine, error) {
	alg, err := merkle.ParseAlgorithm(string(cfg.HashAlgorithm))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	cfg.HashAlgorithm = alg

	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	log := cfg.Logger

	e := &Engine{
		cfg:     cfg,
		logger:  log.With("component", "engine"),
		metrics: cfg.Metrics,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	e.store = mvcc.New(mvcc.WithLogger(log), mvcc.WithMetrics(cfg.Metrics))
	e.snapshots = snapshot.NewManager(cfg.SnapshotRetention, cloneImage)
	e.checkpoints = checkpoint.NewManager(
		checkpoint.WithMaxCheckpoints(cfg.MaxCheckpoints),
		checkpoint.WithApplyFunc(func(cp *checkpoint.Checkpoint) error {
			return e.Replace(cp.State)
		}),
		checkpoint.WithLogger(log),
		checkpoint.WithMetrics(cfg.Metrics),
	)
	e.rollbacks = rollback.New(e.checkpoints,
		rollback.WithMaxLogSize(cfg.MaxTransactionLog),
		rollback.WithLogger(log),
		rollback.WithMetrics(cfg.Metrics),
	)
	e.verifier = verify.New(verify.WithLogger(log))

	recoveryOpts := []recovery.Option{
		recovery.WithLogger(log),
		recovery.WithMetrics(cfg.Metrics),
	}
	if cfg.AutoRecoverEvery > 0 {
		burst := cfg.AutoRecoverBurst
		if burst <= 0 {
			burst = 1
		}
		recoveryOpts = append(recoveryOpts,
			recovery.WithAutoRecoverLimiter(rate.NewLimiter(rate.Every(cfg.AutoRecoverEvery), burst)))
	}
	e.recovery = recovery.NewManager(e.checkpoints, e.rollbacks, e, recoveryOpts...)

	if len(cfg.RequiredKeys) > 0 {
		if err := e.verifier.AddCheck("required-keys", verify.RequiredKeysCheck(cfg.RequiredKeys...), true); err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
	}

	if cfg.Metrics != nil {
		if err := cfg.Metrics.Register(metric.NewStoreCollector(e.store.MetricStats)); err != nil {
			e.logger.Warn("store collector not registered", "error", err)
		}
	}

	if cfg.CheckpointInterval > 0 {
		go e.backgroundLoop()
	} else {
		close(e.doneCh)
	}

	return e, nil
}

// Execute commits ops as one transaction under a fresh transaction id.
func (e *Engine) Execute(ctx context.Context, ops []mvcc.WriteOp) (domain.Version, error) {
	txID := ulid.Make().String()
	log := e.logger.WithContext(logger.WithTransactionID(ctx, txID))

	e.execMu.Lock()
	defer e.execMu.Unlock()

	var before domain.SystemState
	if e.cfg.RecordTransactions {
		before = e.store.LatestState()
	}

	version, err := e.store.Transaction(ops)
	if err != nil {
		log.Error("execute failed", "error", err)
		return 0, err
	}

	if e.cfg.RecordTransactions {
		e.rollbacks.RecordTransaction(txID, before)
	}
	log.Debug("executed", "version", uint64(version), "ops", len(ops))
	return version, nil
}

// Replace commits state as the full live state in one transaction:
// keys absent from state are deleted and every key in state is put.
func (e *Engine) Replace(state domain.SystemState) error {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	current := e.store.LatestState()
	ops := make([]mvcc.WriteOp, 0, len(current)+len(state))
	for _, k := range current.SortedKeys() {
		if _, ok := state[k]; !ok {
			ops = append(ops, mvcc.Delete([]byte(k)))
		}
	}
	for _, k := range state.SortedKeys() {
		ops = append(ops, mvcc.Put([]byte(k), state[k]))
	}

	version, err := e.store.Transaction(ops)
	if err != nil {
		return err
	}
	e.logger.Info("state replaced", "version", uint64(version), "keys", len(state))
	return nil
}

// Read returns key as of version v.
func (e *Engine) Read(key []byte, v domain.Version) ([]byte, bool) {
	return e.store.Read(key, v)
}

// ReadLatest returns key as of the current version.
func (e *Engine) ReadLatest(key []byte) ([]byte, bool) {
	return e.store.ReadLatest(key)
}

// CurrentVersion returns the latest committed version.
func (e *Engine) CurrentVersion() domain.Version {
	return e.store.CurrentVersion()
}

// StateAt returns the full state visible at v.
func (e *Engine) StateAt(v domain.Version) domain.SystemState {
	return e.store.StateAt(v)
}

// LatestState returns the full state at the current version.
func (e *Engine) LatestState() domain.SystemState {
	return e.store.LatestState()
}

// History returns every version of key.
func (e *Engine) History(key []byte) []mvcc.VersionedValue {
	return e.store.History(key)
}

// StateRoot returns the Merkle root of the state at v.
func (e *Engine) StateRoot(v domain.Version) (merkle.Hash, error) {
	if v > e.store.CurrentVersion() {
		return merkle.Hash{}, domain.ErrInvalidArgument.WithDetailsf("version %d not committed", v)
	}
	root, ok := merkle.RootOf(e.store.StateAt(v), e.treeOpts()...)
	if !ok {
		return merkle.Hash{}, domain.ErrEmptyTree.WithDetailsf("version %d", v)
	}
	return root, nil
}

// Prove returns an inclusion proof for key against the current state
// together with the root it verifies against.
func (e *Engine) Prove(key []byte) (*merkle.Proof, merkle.Hash, error) {
	tree := merkle.Build(e.store.LatestState(), e.treeOpts()...)
	root, ok := tree.Root()
	if !ok {
		return nil, merkle.Hash{}, domain.ErrEmptyTree
	}
	proof, err := tree.GenerateProof(key)
	if err != nil {
		return nil, merkle.Hash{}, err
	}
	return proof, root, nil
}

func (e *Engine) treeOpts() []merkle.Option {
	return []merkle.Option{merkle.WithAlgorithm(e.cfg.HashAlgorithm), merkle.WithMetrics(e.metrics)}
}

// CaptureSnapshot records the current state and prunes old snapshots.
func (e *Engine) CaptureSnapshot(description string) (SnapshotInfo, error) {
	v := e.store.CurrentVersion()
	state := e.store.StateAt(v)
	root, hasRoot := merkle.RootOf(state, e.treeOpts()...)

	im := Image{
		Version:     v,
		RootHash:    root,
		HasRoot:     hasRoot,
		State:       state,
		CreatedAt:   time.Now(),
		Description: description,
	}
	id, err := e.snapshots.Capture(im)
	if err != nil {
		return SnapshotInfo{}, err
	}
	e.metrics.SnapshotCaptured()

	pruned, err := e.snapshots.Cleanup()
	if err != nil {
		e.logger.Warn("snapshot cleanup failed", "error", err)
	} else if pruned > 0 {
		e.metrics.SnapshotPruned(pruned)
	}

	info := newSnapshotInfo(id, im)
	e.logger.Info("snapshot captured",
		"id", id,
		"version", uint64(v),
		"keys", info.Keys,
		"pruned", pruned)
	return info, nil
}

// Snapshot returns the description of snapshot id.
func (e *Engine) Snapshot(id uint32) (SnapshotInfo, error) {
	s, err := e.snapshots.Get(id)
	if err != nil {
		return SnapshotInfo{}, err
	}
	return newSnapshotInfo(s.ID, s.State), nil
}

// Snapshots lists retained snapshots in id order.
func (e *Engine) Snapshots() []SnapshotInfo {
	ids := e.snapshots.IDs()
	out := make([]SnapshotInfo, 0, len(ids))
	for _, id := range ids {
		if info, err := e.Snapshot(id); err == nil {
			out = append(out, info)
		}
	}
	return out
}

// RestoreSnapshot commits the state of snapshot id as a new version.
func (e *Engine) RestoreSnapshot(id uint32) (domain.Version, error) {
	im, err := e.snapshots.Restore(id)
	if err != nil {
		return 0, err
	}
	if err := e.Replace(im.State); err != nil {
		return 0, err
	}
	v := e.store.CurrentVersion()
	e.logger.Info("snapshot restored", "id", id, "from_version", uint64(im.Version), "version", uint64(v))
	return v, nil
}

// Checkpoint creates a checkpoint of the current state.
func (e *Engine) Checkpoint() (*checkpoint.Checkpoint, error) {
	return e.checkpoints.Create(e.store.LatestState())
}

// Checkpoints returns the checkpoint manager.
func (e *Engine) Checkpoints() *checkpoint.Manager {
	return e.checkpoints
}

// Rollback restores the latest checkpoint.
func (e *Engine) Rollback(trigger rollback.Trigger) error {
	return e.rollbacks.TriggerRollback(trigger)
}

// RollbackTo restores checkpoint id.
func (e *Engine) RollbackTo(id string) error {
	return e.rollbacks.RollbackToCheckpoint(id)
}

// TransactionLog returns the recorded pre-states, oldest first.
func (e *Engine) TransactionLog() []rollback.LogEntry {
	return e.rollbacks.TransactionLog()
}

// Verifier returns the consistency verifier.
func (e *Engine) Verifier() *verify.Verifier {
	return e.verifier
}

// CheckConsistency verifies the current state and rolls back to the
// latest checkpoint when it is invalid. The returned error is the
// rollback error, if any.
func (e *Engine) CheckConsistency() (verify.Result, error) {
	res := e.verifier.Verify(e.store.LatestState())
	if res.Valid {
		return res, nil
	}
	e.logger.Warn("state inconsistent", "reason", res.Reason)
	return res, e.rollbacks.TriggerRollback(rollback.InconsistencyDetected(res.Reason))
}

// ValidateVersion checks that every key at v proves against the root of
// v, and that the root matches any snapshot taken at v.
func (e *Engine) ValidateVersion(v domain.Version) error {
	if v > e.store.CurrentVersion() {
		return domain.ErrInvalidArgument.WithDetailsf("version %d not committed", v)
	}
	state := e.store.StateAt(v)
	tree := merkle.Build(state, e.treeOpts()...)
	root, ok := tree.Root()
	if !ok {
		return nil
	}

	for _, k := range state.SortedKeys() {
		proof, err := tree.GenerateProof([]byte(k))
		if err != nil {
			return domain.ErrVerificationFailed.WithDetailsf("version %d key %q", v, k).WithCause(err)
		}
		if !proof.Verify(root) {
			return domain.ErrVerificationFailed.WithDetailsf("version %d: proof for %q does not verify", v, k)
		}
	}

	for _, id := range e.snapshots.IDs() {
		s, err := e.snapshots.Get(id)
		if err != nil || s.State.Version != v || !s.State.HasRoot {
			continue
		}
		if s.State.RootHash != root {
			return domain.ErrVerificationFailed.WithDetailsf(
				"version %d: root %s differs from snapshot %d root %s", v, root, id, s.State.RootHash)
		}
	}
	return nil
}

// Recovery returns the recovery manager.
func (e *Engine) Recovery() *recovery.Manager {
	return e.recovery
}

// Recover rolls back to checkpoint id and replays registered transactions.
func (e *Engine) Recover(id string) recovery.Result {
	return e.recovery.RecoverFromCheckpoint(id)
}

// AutoRecover recovers from the latest checkpoint.
func (e *Engine) AutoRecover() recovery.Result {
	return e.recovery.AutoRecover()
}

// Stats returns component sizes.
func (e *Engine) Stats() Stats {
	return Stats{
		Store:          e.store.Stats(),
		Snapshots:      e.snapshots.Len(),
		Checkpoints:    e.checkpoints.Len(),
		TransactionLog: e.rollbacks.LogLen(),
		PendingReplays: e.recovery.PendingLen(),
	}
}

// CheckpointIDs lists checkpoint ids, oldest first.
func (e *Engine) CheckpointIDs() []string {
	return e.checkpoints.List()
}

// backgroundLoop creates checkpoints every CheckpointInterval.
func (e *Engine) backgroundLoop() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := e.Checkpoint(); err != nil {
				e.logger.Error("auto checkpoint failed", "error", err)
			}
		case <-e.stopCh:
			return
		}
	}
}

// Close stops periodic checkpointing.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.logger.Info("shutting down engine")
		close(e.stopCh)
		<-e.doneCh
	})
	return nil
}

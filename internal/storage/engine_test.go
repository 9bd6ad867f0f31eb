package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/recovery"
	"github.com/yndnr/vmstate-go/internal/recovery/rollback"
	"github.com/yndnr/vmstate-go/internal/storage/merkle"
	"github.com/yndnr/vmstate-go/internal/storage/mvcc"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

func newTestEngine(t *testing.T, mutate ...func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = logger.Discard()
	for _, fn := range mutate {
		fn(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func put(t *testing.T, e *Engine, kv ...string) domain.Version {
	t.Helper()
	ops := make([]mvcc.WriteOp, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		ops = append(ops, mvcc.Put([]byte(kv[i]), []byte(kv[i+1])))
	}
	v, err := e.Execute(context.Background(), ops)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	return v
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxCheckpoints != 10 {
		t.Errorf("MaxCheckpoints = %d, want 10", cfg.MaxCheckpoints)
	}
	if cfg.SnapshotRetention != 5 {
		t.Errorf("SnapshotRetention = %d, want 5", cfg.SnapshotRetention)
	}
	if cfg.MaxTransactionLog != 1000 {
		t.Errorf("MaxTransactionLog = %d, want 1000", cfg.MaxTransactionLog)
	}
	if cfg.HashAlgorithm != merkle.SHA256 {
		t.Errorf("HashAlgorithm = %s, want sha256", cfg.HashAlgorithm)
	}
}

func TestNew_InvalidAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = logger.Discard()
	cfg.HashAlgorithm = "md5"
	if _, err := New(cfg); err == nil {
		t.Error("New() with unknown algorithm should fail")
	}
}

func TestEngine_ExecuteAndRead(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	v1 := put(t, e, "a", "1")
	v2 := put(t, e, "b", "2")
	v3, err := e.Execute(ctx, []mvcc.WriteOp{mvcc.Delete([]byte("a"))})
	if err != nil {
		t.Fatalf("Execute(delete) error = %v", err)
	}

	if v1 != 1 || v2 != 2 || v3 != 3 {
		t.Fatalf("versions = %d,%d,%d, want 1,2,3", v1, v2, v3)
	}
	if got, ok := e.Read([]byte("a"), v2); !ok || string(got) != "1" {
		t.Errorf("Read(a, 2) = %q, %v", got, ok)
	}
	if _, ok := e.ReadLatest([]byte("a")); ok {
		t.Error("ReadLatest(a) should miss after delete")
	}
	if got := e.StateAt(v2); len(got) != 2 {
		t.Errorf("StateAt(2) = %v", got)
	}
	if log := e.TransactionLog(); len(log) != 3 {
		t.Errorf("len(TransactionLog()) = %d, want 3", len(log))
	} else if len(log[1].Before) != 1 {
		t.Errorf("pre-state of tx 2 = %v, want {a}", log[1].Before)
	}
}

func TestEngine_ExecuteWithoutRecording(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.RecordTransactions = false })
	put(t, e, "a", "1")
	if n := e.Stats().TransactionLog; n != 0 {
		t.Errorf("TransactionLog = %d, want 0", n)
	}
}

func TestEngine_ExecuteInvalidOp(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Execute(context.Background(), []mvcc.WriteOp{{Kind: mvcc.OpKind(99), Key: []byte("x")}})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	if e.CurrentVersion() != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", e.CurrentVersion())
	}
	if e.Stats().TransactionLog != 0 {
		t.Error("failed transaction must not be logged")
	}
}

func TestEngine_StateRootAndProve(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.StateRoot(0); !errors.Is(err, domain.ErrEmptyTree) {
		t.Errorf("StateRoot(0) error = %v, want ErrEmptyTree", err)
	}
	if _, err := e.StateRoot(5); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("StateRoot(5) error = %v, want ErrInvalidArgument", err)
	}

	v1 := put(t, e, "a", "1", "b", "2")
	root1, err := e.StateRoot(v1)
	if err != nil {
		t.Fatalf("StateRoot() error = %v", err)
	}
	want, _ := merkle.RootOf(domain.SystemState{"a": []byte("1"), "b": []byte("2")})
	if root1 != want {
		t.Errorf("StateRoot() = %s, want %s", root1, want)
	}

	proof, root, err := e.Prove([]byte("b"))
	if err != nil {
		t.Fatalf("Prove() error = %v", err)
	}
	if root != root1 || !proof.Verify(root) {
		t.Error("proof does not verify against current root")
	}
	if _, _, err := e.Prove([]byte("zz")); !errors.Is(err, domain.ErrKeyNotInTree) {
		t.Errorf("Prove(missing) error = %v, want ErrKeyNotInTree", err)
	}

	put(t, e, "a", "changed")
	if root2, _ := e.StateRoot(e.CurrentVersion()); root2 == root1 {
		t.Error("root should change after a write")
	}
	if again, _ := e.StateRoot(v1); again != root1 {
		t.Error("root of an old version must be stable")
	}
}

func TestEngine_BLAKE2s(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.HashAlgorithm = merkle.BLAKE2s })
	v := put(t, e, "a", "1")

	got, err := e.StateRoot(v)
	if err != nil {
		t.Fatalf("StateRoot() error = %v", err)
	}
	want, _ := merkle.RootOf(domain.SystemState{"a": []byte("1")}, merkle.WithAlgorithm(merkle.BLAKE2s))
	if got != want {
		t.Errorf("StateRoot() = %s, want blake2s root %s", got, want)
	}
}

func TestEngine_Snapshots(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.SnapshotRetention = 2 })

	put(t, e, "a", "1")
	first, err := e.CaptureSnapshot("first")
	if err != nil {
		t.Fatalf("CaptureSnapshot() error = %v", err)
	}
	if first.ID != 1 || first.Version != 1 || first.Keys != 1 || first.RootHash == "" {
		t.Errorf("first = %+v", first)
	}

	put(t, e, "a", "2", "b", "3")
	if _, err := e.CaptureSnapshot("second"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CaptureSnapshot("third"); err != nil {
		t.Fatal(err)
	}

	infos := e.Snapshots()
	if len(infos) != 2 || infos[0].ID != 2 || infos[1].ID != 3 {
		t.Fatalf("Snapshots() = %+v, want ids 2,3", infos)
	}
	if _, err := e.Snapshot(1); !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("Snapshot(1) error = %v, want ErrSnapshotNotFound", err)
	}

	put(t, e, "c", "4")
	before := e.CurrentVersion()
	v, err := e.RestoreSnapshot(2)
	if err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if v != before+1 {
		t.Errorf("restore version = %d, want %d", v, before+1)
	}
	want := domain.SystemState{"a": []byte("2"), "b": []byte("3")}
	if got := e.LatestState(); !got.Equal(want) {
		t.Errorf("LatestState() = %v, want %v", got, want)
	}
	if _, ok := e.Read([]byte("c"), before); !ok {
		t.Error("pre-restore version must still see c")
	}
}

func TestEngine_CheckpointRollback(t *testing.T) {
	e := newTestEngine(t)

	put(t, e, "balance", "100")
	cp, err := e.Checkpoint()
	if err != nil {
		t.Fatalf("Checkpoint() error = %v", err)
	}
	put(t, e, "balance", "-5", "junk", "x")

	if err := e.Rollback(rollback.ErrorDetected("negative balance")); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	want := domain.SystemState{"balance": []byte("100")}
	if got := e.LatestState(); !got.Equal(want) {
		t.Errorf("LatestState() = %v, want %v", got, want)
	}
	if e.CurrentVersion() != 3 {
		t.Errorf("CurrentVersion() = %d, want 3", e.CurrentVersion())
	}
	if n := e.Stats().TransactionLog; n != 0 {
		t.Errorf("TransactionLog = %d after rollback, want 0", n)
	}

	put(t, e, "balance", "7")
	if err := e.RollbackTo(cp.ID); err != nil {
		t.Fatalf("RollbackTo() error = %v", err)
	}
	if got, _ := e.ReadLatest([]byte("balance")); string(got) != "100" {
		t.Errorf("balance = %s, want 100", got)
	}
}

func TestEngine_RollbackWithoutCheckpoint(t *testing.T) {
	e := newTestEngine(t)
	put(t, e, "a", "1")

	err := e.Rollback(rollback.ManualIntervention())
	if !errors.Is(err, domain.ErrRollbackFailed) || !errors.Is(err, domain.ErrNoCheckpoints) {
		t.Errorf("err = %v, want ErrRollbackFailed wrapping ErrNoCheckpoints", err)
	}
}

func TestEngine_CheckConsistency(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.RequiredKeys = []string{"config"} })

	put(t, e, "config", "v1")
	if _, err := e.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	res, err := e.CheckConsistency()
	if err != nil || !res.Valid {
		t.Fatalf("CheckConsistency() = %v, %v", res, err)
	}

	if _, err := e.Execute(context.Background(), []mvcc.WriteOp{mvcc.Delete([]byte("config"))}); err != nil {
		t.Fatal(err)
	}
	res, err = e.CheckConsistency()
	if err != nil {
		t.Fatalf("CheckConsistency() rollback error = %v", err)
	}
	if res.Valid {
		t.Fatal("CheckConsistency() should report invalid state")
	}
	if got, ok := e.ReadLatest([]byte("config")); !ok || string(got) != "v1" {
		t.Errorf("config = %q, %v; want rolled back to v1", got, ok)
	}
}

func TestEngine_ValidateVersion(t *testing.T) {
	e := newTestEngine(t)

	if err := e.ValidateVersion(0); err != nil {
		t.Errorf("ValidateVersion(0) error = %v", err)
	}
	if err := e.ValidateVersion(3); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("ValidateVersion(3) error = %v, want ErrInvalidArgument", err)
	}

	put(t, e, "a", "1", "b", "2", "c", "")
	if _, err := e.CaptureSnapshot("v1"); err != nil {
		t.Fatal(err)
	}
	put(t, e, "d", "4")

	for v := domain.Version(1); v <= e.CurrentVersion(); v++ {
		if err := e.ValidateVersion(v); err != nil {
			t.Errorf("ValidateVersion(%d) error = %v", v, err)
		}
	}
}

func TestEngine_Recover(t *testing.T) {
	e := newTestEngine(t)

	put(t, e, "a", "1")
	cp, err := e.Checkpoint()
	if err != nil {
		t.Fatal(err)
	}
	put(t, e, "a", "broken")

	_ = e.Recovery().RegisterTransaction("replay-b", func(s domain.SystemState) error {
		s["b"] = []byte("2")
		return nil
	}, true)

	res := e.Recover(cp.ID)
	if res.Status != recovery.StatusSuccess {
		t.Fatalf("Recover() = %+v", res)
	}
	want := domain.SystemState{"a": []byte("1"), "b": []byte("2")}
	if got := e.LatestState(); !got.Equal(want) {
		t.Errorf("LatestState() = %v, want %v", got, want)
	}

	if res := e.AutoRecover(); res.Status != recovery.StatusSuccess {
		t.Errorf("AutoRecover() = %+v", res)
	}
}

func TestEngine_AutoRecoverRateLimit(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.AutoRecoverEvery = time.Hour })
	put(t, e, "a", "1")
	if _, err := e.Checkpoint(); err != nil {
		t.Fatal(err)
	}

	if res := e.AutoRecover(); res.Status != recovery.StatusSuccess {
		t.Fatalf("first AutoRecover() = %+v", res)
	}
	if res := e.AutoRecover(); !errors.Is(res.Err, domain.ErrRateLimited) {
		t.Errorf("second AutoRecover() = %+v, want rate limited", res)
	}
}

func TestEngine_BackgroundCheckpoint(t *testing.T) {
	e := newTestEngine(t, func(c *Config) { c.CheckpointInterval = 10 * time.Millisecond })
	put(t, e, "a", "1")

	deadline := time.Now().Add(2 * time.Second)
	for e.Stats().Checkpoints == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no checkpoint created by background loop")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestEngine_Metrics(t *testing.T) {
	reg := metric.NewRegistry()
	e := newTestEngine(t, func(c *Config) { c.Metrics = reg })

	put(t, e, "a", "1")
	if _, err := e.CaptureSnapshot(""); err != nil {
		t.Fatal(err)
	}

	families, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{"vmstate_store_keys", "vmstate_snapshot_captured_total"} {
		if !found[name] {
			t.Errorf("metric %s not exported", name)
		}
	}
}

package mvcc

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
	"github.com/yndnr/vmstate-go/internal/telemetry/metric"
)

func newTestStore() *Store {
	return New(WithLogger(logger.Discard()))
}

func mustRead(t *testing.T, s *Store, key string, v domain.Version) string {
	t.Helper()
	val, ok := s.Read([]byte(key), v)
	if !ok {
		t.Fatalf("Read(%q, %d) = absent, want present", key, v)
	}
	return string(val)
}

func TestPut_ReadAtVersions(t *testing.T) {
	s := newTestStore()

	r1, err := s.Put([]byte("k"), []byte("v1"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	r2, err := s.Put([]byte("k"), []byte("v2"))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if r2 != r1+1 {
		t.Fatalf("versions = %d, %d; want consecutive", r1, r2)
	}
	if got := mustRead(t, s, "k", r1); got != "v1" {
		t.Errorf("Read(k, r1) = %q, want v1", got)
	}
	if got := mustRead(t, s, "k", r2); got != "v2" {
		t.Errorf("Read(k, r2) = %q, want v2", got)
	}
	if got, _ := s.ReadLatest([]byte("k")); string(got) != "v2" {
		t.Errorf("ReadLatest(k) = %q, want v2", got)
	}
	if _, ok := s.Read([]byte("k"), 0); ok {
		t.Error("Read(k, 0) should be absent")
	}
}

func TestDelete_Visibility(t *testing.T) {
	s := newTestStore()

	v1, _ := s.Put([]byte("k"), []byte("v"))
	v2, _ := s.Delete([]byte("k"))

	if got := mustRead(t, s, "k", v1); got != "v" {
		t.Errorf("Read(k, v1) = %q, want v", got)
	}
	if _, ok := s.Read([]byte("k"), v2); ok {
		t.Error("Read(k, v2) should be absent after delete")
	}
}

func TestDelete_DoesNotResurrectOlderValue(t *testing.T) {
	s := newTestStore()

	v1, _ := s.Put([]byte("k"), []byte("old"))
	v2, _ := s.Put([]byte("k"), []byte("new"))
	v3, _ := s.Delete([]byte("k"))

	if _, ok := s.Read([]byte("k"), v3); ok {
		t.Fatal("Read(k, v3) should be absent after delete")
	}
	if got := mustRead(t, s, "k", v1); got != "old" {
		t.Errorf("Read(k, v1) = %q, want old", got)
	}
	if got := mustRead(t, s, "k", v2); got != "new" {
		t.Errorf("Read(k, v2) = %q, want new", got)
	}

	for _, e := range s.History([]byte("k")) {
		if e.Deleted && e.DeletedAt <= e.CreatedAt {
			t.Errorf("entry %+v violates DeletedAt > CreatedAt", e)
		}
	}
}

func TestRead_FutureVersionClampsToCurrent(t *testing.T) {
	s := newTestStore()
	v1, _ := s.Put([]byte("k"), []byte("v1"))

	if got := mustRead(t, s, "k", v1+10); got != "v1" {
		t.Errorf("Read(k, %d) = %q, want v1", v1+10, got)
	}
	if got := s.StateAt(v1 + 10); len(got) != 1 || string(got["k"]) != "v1" {
		t.Errorf("StateAt(%d) = %v, want {k=v1}", v1+10, got)
	}

	if _, err := s.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := s.Read([]byte("k"), v1+10); ok {
		t.Error("Read past current version saw deleted key")
	}
}

func TestDelete_MissingKeyIsNoop(t *testing.T) {
	s := newTestStore()

	v, err := s.Delete([]byte("missing"))
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if v != 1 {
		t.Errorf("Delete() version = %d, want 1", v)
	}
	if st := s.Stats(); st.Keys != 0 {
		t.Errorf("Stats().Keys = %d, want 0", st.Keys)
	}
}

func TestTransaction_Scenario(t *testing.T) {
	s := newTestStore()

	v1, err := s.Transaction([]WriteOp{
		Put([]byte("a"), []byte("1")),
		Put([]byte("b"), []byte("2")),
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}
	if v1 != 1 {
		t.Fatalf("Transaction() = %d, want 1", v1)
	}

	want1 := domain.SystemState{"a": []byte("1"), "b": []byte("2")}
	if got := s.StateAt(1); !got.Equal(want1) {
		t.Fatalf("StateAt(1) = %v, want %v", got, want1)
	}

	v2, _ := s.Delete([]byte("a"))
	if v2 != 2 {
		t.Fatalf("Delete() = %d, want 2", v2)
	}
	if got := s.StateAt(1); !got.Equal(want1) {
		t.Errorf("StateAt(1) after delete = %v, want %v", got, want1)
	}
	want2 := domain.SystemState{"b": []byte("2")}
	if got := s.StateAt(2); !got.Equal(want2) {
		t.Errorf("StateAt(2) = %v, want %v", got, want2)
	}
	if got := s.LatestState(); !got.Equal(want2) {
		t.Errorf("LatestState() = %v, want %v", got, want2)
	}
}

func TestTransaction_VersionsIncreaseByOne(t *testing.T) {
	s := newTestStore()
	if s.CurrentVersion() != 0 {
		t.Fatalf("CurrentVersion() = %d, want 0", s.CurrentVersion())
	}

	for i := 1; i <= 5; i++ {
		v, err := s.Transaction(nil)
		if err != nil {
			t.Fatalf("Transaction() error = %v", err)
		}
		if v != domain.Version(i) {
			t.Fatalf("Transaction() = %d, want %d", v, i)
		}
	}
}

func TestTransaction_PutThenDeleteSameTx(t *testing.T) {
	s := newTestStore()

	v, _ := s.Transaction([]WriteOp{
		Put([]byte("k"), []byte("x")),
		Delete([]byte("k")),
	})
	if _, ok := s.Read([]byte("k"), v); ok {
		t.Error("key put and deleted in one transaction should be absent")
	}
	if h := s.History([]byte("k")); len(h) != 0 {
		t.Errorf("History() = %+v, want empty", h)
	}
}

func TestTransaction_UnknownOp(t *testing.T) {
	s := newTestStore()

	_, err := s.Transaction([]WriteOp{
		Put([]byte("a"), []byte("1")),
		{Kind: OpKind(9), Key: []byte("b")},
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if s.CurrentVersion() != 0 {
		t.Errorf("CurrentVersion() = %d, want 0", s.CurrentVersion())
	}
	if _, ok := s.ReadLatest([]byte("a")); ok {
		t.Error("rejected transaction must not write")
	}
}

func TestRead_ReturnsCopy(t *testing.T) {
	s := newTestStore()
	in := []byte("value")
	v, _ := s.Put([]byte("k"), in)
	in[0] = 'X'

	got, _ := s.Read([]byte("k"), v)
	if string(got) != "value" {
		t.Fatalf("Read() = %q, want value", got)
	}
	got[0] = 'Y'
	if again, _ := s.Read([]byte("k"), v); string(again) != "value" {
		t.Errorf("stored value mutated through returned slice: %q", again)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore()
	s.Put([]byte("a"), []byte("1"))
	s.Put([]byte("a"), []byte("2"))
	s.Put([]byte("b"), []byte("1"))
	s.Delete([]byte("b"))

	st := s.Stats()
	if st.Keys != 2 || st.Entries != 3 || st.Tombstones != 1 || st.Version != 4 {
		t.Errorf("Stats() = %+v, want {Keys:2 Entries:3 Tombstones:1 Version:4}", st)
	}
	if ms := s.MetricStats(); ms.Entries != 3 || ms.Version != 4 {
		t.Errorf("MetricStats() = %+v", ms)
	}
}

func TestMetricsRecorded(t *testing.T) {
	reg := metric.NewRegistry()
	s := New(WithLogger(logger.Discard()), WithMetrics(reg))
	s.Put([]byte("a"), []byte("1"))

	mfs, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "vmstate_store_version" {
			found = mf.GetMetric()[0].GetGauge().GetValue() == 1
		}
	}
	if !found {
		t.Error("vmstate_store_version gauge not set to 1")
	}
}

// Readers at a fixed version must see the same state no matter how many
// writers commit concurrently.
func TestConcurrentReadersSeeStableVersion(t *testing.T) {
	s := newTestStore()
	base, _ := s.Transaction([]WriteOp{
		Put([]byte("a"), []byte("0")),
		Put([]byte("b"), []byte("0")),
	})
	want := s.StateAt(base)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				val := []byte(fmt.Sprintf("%d-%d", w, i))
				s.Transaction([]WriteOp{Put([]byte("a"), val), Delete([]byte("b"))})
			}
		}(w)
	}

	errs := make(chan string, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if got := s.StateAt(base); !got.Equal(want) {
					errs <- fmt.Sprintf("StateAt(%d) = %v, want %v", base, got, want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	if got := s.CurrentVersion(); got != base+800 {
		t.Errorf("CurrentVersion() = %d, want %d", got, base+800)
	}
}

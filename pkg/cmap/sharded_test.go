package cmap

import (
	"fmt"
	"strconv"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},  // invalid → default
		{-1, DefaultShardCount}, // invalid → default
		{3, DefaultShardCount},  // not power of 2 → default
		{1, 1},
		{8, 8},
		{32, 32},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := NewWithShards[string, int](tt.input)
			if len(m.shards) != tt.expected {
				t.Errorf("NewWithShards(%d) shard count = %d, want %d",
					tt.input, len(m.shards), tt.expected)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[string, int]()

	m.Set("key1", 100)
	m.Set("key2", 200)
	m.Set("key1", 150)

	if val, ok := m.Get("key1"); !ok || val != 150 {
		t.Errorf("Get(key1) = (%d, %v), want (150, true)", val, ok)
	}
	if !m.Has("key2") {
		t.Error("Has(key2) should return true")
	}

	m.Delete("key1")
	m.Delete("nonexistent")
	if _, ok := m.Get("key1"); ok {
		t.Error("key1 should not exist after deletion")
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear() = %d, want 0", m.Count())
	}
}

func TestShardIndexStable(t *testing.T) {
	m := NewWithShards[string, int](8)
	for i := 0; i < 100; i++ {
		key := "key-" + strconv.Itoa(i)
		a, b := m.ShardIndex(key), m.ShardIndex(key)
		if a != b {
			t.Fatalf("ShardIndex(%q) not stable: %d vs %d", key, a, b)
		}
		if a < 0 || a >= 8 {
			t.Fatalf("ShardIndex(%q) = %d, out of range", key, a)
		}
	}
}

func TestStatsDistribution(t *testing.T) {
	m := NewWithShards[string, int](4)
	for i := 0; i < 400; i++ {
		m.Set("k"+strconv.Itoa(i), i)
	}

	stats := m.Stats()
	if len(stats) != 4 {
		t.Fatalf("Stats() length = %d, want 4", len(stats))
	}
	total := 0
	for _, s := range stats {
		if s.Count == 0 {
			t.Errorf("shard %d is empty", s.Index)
		}
		total += s.Count
	}
	if total != 400 {
		t.Errorf("total = %d, want 400", total)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[string, int]()
	var wg sync.WaitGroup
	numGoroutines := 50
	numOps := 200

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < numOps; j++ {
				key := strconv.Itoa(base*numOps + j)
				m.Set(key, j)
				m.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if m.Count() != numGoroutines*numOps {
		t.Errorf("Count() = %d, want %d", m.Count(), numGoroutines*numOps)
	}
}

package cmap

import (
	"sort"
	"testing"
)

func TestRange(t *testing.T) {
	m := New[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("c", 3)

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	if sum != 6 {
		t.Errorf("sum = %d, want 6", sum)
	}
}

func TestRangeEarlyStop(t *testing.T) {
	m := New[string, int]()
	for _, k := range []string{"a", "b", "c", "d"} {
		m.Set(k, 1)
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Errorf("visited = %d, want 2", visited)
	}
}

func TestKeys(t *testing.T) {
	m := New[string, int]()
	m.Set("y", 1)
	m.Set("x", 2)

	keys := m.Keys()
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Errorf("Keys() = %v, want [x y]", keys)
	}
}

func TestUpdate(t *testing.T) {
	m := New[string, []int]()

	appendOne := func(v []int, exists bool) []int {
		if !exists {
			return []int{1}
		}
		return append(v, len(v)+1)
	}
	m.Update("k", appendOne)
	got := m.Update("k", appendOne)

	if len(got) != 2 || got[1] != 2 {
		t.Errorf("Update() = %v, want [1 2]", got)
	}
}

// Package cmap provides a sharded concurrent map.
//
// Keys are distributed across shards with murmur3 so that readers of
// unrelated keys rarely contend:
//
//	m := cmap.New[string, []byte]()
//	m.Set("key", value)
//	val, ok := m.Get("key")
//
// All operations are thread-safe. Read operations (Get, Has, Range) use
// RLock, write operations (Set, Delete, Update) use Lock.
package cmap

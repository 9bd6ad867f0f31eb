// Package mvcc implements the versioned key-value store.
//
// Every committed transaction produces exactly one new version. Each key
// keeps an append-only history of VersionedValue entries, and a reader
// at version V sees the newest entry with CreatedAt <= V that was not
// deleted at or before V. Delete tombstones every live entry of a key,
// not only the newest one, so an older value can never resurface after
// a delete. Reads never block on writers; writers are
// serialized by a single lock.
//
// Usage:
//
//	s := mvcc.New()
//	v1, _ := s.Transaction([]mvcc.WriteOp{
//		mvcc.Put([]byte("a"), []byte("1")),
//		mvcc.Put([]byte("b"), []byte("2")),
//	})
//	val, ok := s.Read([]byte("a"), v1)
package mvcc

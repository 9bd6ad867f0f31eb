// Package snapshot provides an in-memory snapshot manager generic over
// the captured state type.
//
// Snapshots are identified by sequential uint32 ids starting at 1 and
// pruned oldest-first by Cleanup:
//
//	m := snapshot.NewManager(5, func(s domain.SystemState) domain.SystemState {
//		return s.Clone()
//	})
//	id, _ := m.Capture(state)
//	restored, _ := m.Restore(id)
//
// Persisting snapshots is left to callers.
package snapshot

// Package storage provides the versioned state engine.
//
// The engine ties together the components that live in the subpackages:
//
//   - mvcc: multi-version key-value history with snapshot reads
//   - merkle: state commitments and inclusion proofs
//   - snapshot: in-memory images of state at a version
//
// and the recovery side in internal/recovery: checkpoints, rollback,
// consistency verification and replay-based recovery.
//
// Every write goes through Execute or Replace and commits one new
// version. Rollback and snapshot restore never rewind the version
// counter; they commit the restored state as a new version, so readers
// holding an older version keep a stable view.
package storage

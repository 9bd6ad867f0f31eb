// Package recovery restores state from a checkpoint and replays
// registered transactions on top of it.
//
// Subpackages hold the building blocks: checkpoint (point-in-time copies
// and the archive format), rollback (trigger handling and the transaction
// log) and verify (consistency checks).
package recovery

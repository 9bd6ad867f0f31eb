// Package checkpoint manages named full-state checkpoints used as
// rollback targets.
//
// Checkpoint ids have the form "checkpoint-<unix-nanos>". The manager
// retains at most MaxCheckpoints, evicting by smallest timestamp.
// Restoring a checkpoint is delegated to a caller-registered ApplyFunc,
// which runs fenced against concurrent Create and Delete.
//
// The package also provides a self-verifying archive encoding
// (Encode/Decode) for handing checkpoints to external storage, with
// optional passphrase-based sealing.
package checkpoint

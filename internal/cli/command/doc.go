// Package command provides CLI command definitions for vmstate-cli.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, configuration and logger setup
//   - demo.go: Guided tour of versioning, proofs, checkpoints and rollback
//   - merkle.go: Merkle subcommand group (root, prove, verify)
//   - workload.go: Synthetic workload with fault injection and metrics
//   - archive.go: Checkpoint archive subcommand group (encode, decode)
//   - shell.go: Interactive shell (see package repl)
//   - config.go: Configuration and version commands
//
// Commands follow a consistent pattern of parsing flags, driving an
// in-process engine, and formatting output.
package command

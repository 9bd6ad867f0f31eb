// Package main provides the entry point for vmstate-cli.
//
// The CLI drives an in-process versioned state engine:
//
//   - Guided demo of versions, proofs, snapshots, checkpoints and rollback
//   - Merkle roots and inclusion proofs for ad-hoc states
//   - Synthetic workloads with fault injection and Prometheus metrics
//   - Checkpoint archives, optionally sealed with a passphrase
//
// Usage:
//
//	vmstate-cli [command] [flags]
//	vmstate-cli demo
//	vmstate-cli -o json merkle prove --key b a=1 b=2
//	vmstate-cli workload -n 5000 --metrics-addr :9090 --hold
package main

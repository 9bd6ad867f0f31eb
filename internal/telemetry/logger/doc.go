// Package logger provides structured logging for vmstate.
//
//   - logger.go: slog backend, dynamic level, package-level helpers
//   - hclog.go: hashicorp/go-hclog backend
//   - context.go: context propagation of loggers and transaction IDs
//   - redact.go: sensitive attribute redaction
package logger

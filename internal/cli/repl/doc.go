// Package repl provides the interactive shell for vmstate-cli.
//
// The shell drives an in-process engine one line at a time:
//
//   - repl.go: Main loop and command dispatch
//   - completer.go: Command name completion, used by help
//   - history.go: Command history persistence
package repl

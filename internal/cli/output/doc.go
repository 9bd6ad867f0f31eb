// Package output renders command results for vmstate-cli.
//
// Results are plain structs or slices of structs. The table formatter
// derives columns from json tags and honors `table:"-"` (never shown)
// and `table:"wide"` (shown with --wide). JSON and YAML print the value
// as is. ProgressBar and Spinner report long-running work on stderr.
package output

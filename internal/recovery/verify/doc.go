// Package verify runs named consistency checks against a system state.
//
// Checks are either critical or advisory. A failing critical check ends
// verification at once; advisory failures are collected and reported
// together.
package verify

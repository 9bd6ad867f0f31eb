package repl

import (
	"testing"
)

func TestCompleter_Complete(t *testing.T) {
	c := NewCompleter()

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"checkpoint prefix", "checkpoint", []string{"checkpoint", "checkpoints"}},
		{"r prefix", "r", []string{"root", "restore", "rollback", "recover"}},
		{"exact", "stats", []string{"stats"}},
		{"no match", "xyz", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Complete(tt.prefix)
			if len(got) != len(tt.want) {
				t.Fatalf("Complete(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Complete(%q)[%d] = %q, want %q", tt.prefix, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCompleter_EmptyPrefix(t *testing.T) {
	c := NewCompleter()
	if got := c.Complete(""); len(got) != len(c.commands) {
		t.Errorf("Complete(\"\") returned %d commands, want %d", len(got), len(c.commands))
	}
}

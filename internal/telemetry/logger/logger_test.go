package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v (%s)", err, buf.String())
	}
	return entry
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", "console"} {
		var buf bytes.Buffer
		l, err := New(Config{Level: "info", Format: format, Output: &buf})
		if err != nil {
			t.Fatalf("New(%s) error = %v", format, err)
		}
		l.Info("checkpoint created", "checkpoint_id", "checkpoint-1")

		out := buf.String()
		if format == "json" {
			if !strings.HasPrefix(out, "{") {
				t.Errorf("json output = %q", out)
			}
			continue
		}
		if !strings.Contains(out, "checkpoint_id=checkpoint-1") {
			t.Errorf("%s output = %q, want checkpoint_id=checkpoint-1", format, out)
		}
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	if _, err := New(Config{Backend: "zap"}); err == nil {
		t.Fatal("New() with unknown backend should fail")
	}
}

func TestLogger_WithAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.With("component", "engine").Info("archive sealed", "passphrase", "hunter2", "version", 7)

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "archive sealed" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["component"] != "engine" {
		t.Errorf("component = %v, want engine", entry["component"])
	}
	if entry["passphrase"] != redactedValue {
		t.Errorf("passphrase = %v, want %s", entry["passphrase"], redactedValue)
	}
	if entry["version"] != float64(7) {
		t.Errorf("version = %v, want 7", entry["version"])
	}
}

func TestSetLevel_AppliesToExistingLoggers(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("transaction committed")
	if buf.Len() > 0 {
		t.Fatalf("info written at warn level: %s", buf.String())
	}

	SetLevel("debug")
	l.Debug("transaction committed")
	if buf.Len() == 0 {
		t.Error("debug not written after SetLevel(debug)")
	}
}

func TestSetLevel_Parsing(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	tests := []struct {
		input string
		want  string
	}{
		{"DEBUG", "debug"},
		{"warning", "warn"},
		{"error", "error"},
		{"trace", "info"},
		{"", "info"},
	}
	for _, tt := range tests {
		SetLevel(tt.input)
		if got := GetLevel(); got != tt.want {
			t.Errorf("SetLevel(%q); GetLevel() = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSetDefault_PackageFunctions(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	SetDefault(l)
	t.Cleanup(func() { SetLevel("info") })

	for name, fn := range map[string]func(string, ...any){
		"Debug": Debug, "Info": Info, "Warn": Warn, "Error": Error,
	} {
		buf.Reset()
		fn("rollback triggered")
		if buf.Len() == 0 {
			t.Errorf("%s() produced no output", name)
		}
	}
}

func TestLogger_WithContext_TransactionID(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := WithTransactionID(context.Background(), "01HTX")
	l.WithContext(ctx).Info("committed")

	if got := decodeEntry(t, &buf)["tx_id"]; got != "01HTX" {
		t.Errorf("tx_id = %v, want 01HTX", got)
	}
}

func TestHCLogBackend(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Backend: BackendHCLog, Name: "test", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Debug("hidden")
	if buf.Len() > 0 {
		t.Fatalf("debug entry written at info level: %s", buf.String())
	}

	l.With("component", "checkpoint").Info("created", "passphrase", "hunter2")

	entry := decodeEntry(t, &buf)
	if got := entry["@message"]; got != "created" {
		t.Errorf("@message = %v, want created", got)
	}
	if got := entry["component"]; got != "checkpoint" {
		t.Errorf("component = %v, want checkpoint", got)
	}
	if got := entry["passphrase"]; got != redactedValue {
		t.Errorf("passphrase = %v, want %s", got, redactedValue)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.With("a", 1).WithContext(context.Background()).Error("dropped")
}

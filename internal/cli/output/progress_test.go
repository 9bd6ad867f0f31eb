package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "workload", "tx", 100)

	bar.Increment(25)
	bar.Increment(25)
	if bar.Current() != 50 {
		t.Errorf("Current() = %d, want 50", bar.Current())
	}
	out := buf.String()
	if !strings.Contains(out, "workload") || !strings.Contains(out, "50%") || !strings.Contains(out, "50/100 tx") {
		t.Errorf("output = %q", out)
	}

	bar.Finish()
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("Finish() should end the line")
	}
}

func TestProgressBar_NoTotal(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "replay", "tx", 0)
	bar.Increment(3)
	if !strings.Contains(buf.String(), "replay 3 tx") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestProgressBar_Overflow(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, "x", "tx", 2)
	bar.Increment(5)
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("output = %q, want capped at 100%%", buf.String())
	}
}

func TestSpinner(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "deriving key")
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop(nil)
	s.Stop(errors.New("ignored"))

	out := buf.String()
	if !strings.Contains(out, "✓ deriving key") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "ignored") {
		t.Error("second Stop should do nothing")
	}
}

func TestSpinner_Fail(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "sealing")
	s.Start()
	s.Stop(errors.New("bad passphrase"))
	if !strings.Contains(buf.String(), "✗ sealing: bad passphrase") {
		t.Errorf("output = %q", buf.String())
	}
}

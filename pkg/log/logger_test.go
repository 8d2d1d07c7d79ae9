package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelWarn, &buf)

	l.Debug("hidden")
	l.Info("also hidden")
	l.Warn("visible %d", 1)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug/info to be suppressed, got: %q", out)
	}
	if !strings.Contains(out, "visible 1") {
		t.Fatalf("expected warn message, got: %q", out)
	}
	if !strings.Contains(out, "[WARN]") {
		t.Fatalf("expected WARN level tag, got: %q", out)
	}
}

func TestWithFieldsAccumulates(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelInfo, &buf)

	child := l.WithField("iter", 3).WithFields(map[string]interface{}{"tree": 5})
	child.Info("boosting")

	out := buf.String()
	if !strings.Contains(out, "iter=3") || !strings.Contains(out, "tree=5") {
		t.Fatalf("expected both fields present, got: %q", out)
	}

	// Parent logger must remain unaffected.
	buf.Reset()
	l.Info("parent")
	if strings.Contains(buf.String(), "iter=") {
		t.Fatalf("parent logger mutated by child WithField: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNullLogger(t *testing.T) {
	var l Logger = NullLogger{}
	l.Debug("noop")
	l = l.WithField("k", "v")
	l.Info("still noop")
}

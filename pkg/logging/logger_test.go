package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestLogger() (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	formatter := NewTextFormatter()
	formatter.DisableTimestamp = true
	return New(buf, formatter), buf
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newTestLogger()

	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected debug suppressed at info level, got %q", buf.String())
	}

	logger.SetLevel(DebugLevel)
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected debug logged after SetLevel, got %q", buf.String())
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestFieldsRendered(t *testing.T) {
	logger, buf := newTestLogger()

	logger.Info("connected",
		String("server", "svc"),
		Int("attempt", 2),
		Duration("elapsed", 150*time.Millisecond),
		Bool("reused", true),
	)

	line := buf.String()
	for _, want := range []string{
		"[INFO] connected",
		"attempt=2",
		"elapsed=150ms",
		"reused=true",
		"server=svc",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

func TestFieldsSorted(t *testing.T) {
	logger, buf := newTestLogger()

	logger.Info("m", String("zebra", "z"), String("alpha", "a"))

	line := buf.String()
	if strings.Index(line, "alpha=") > strings.Index(line, "zebra=") {
		t.Errorf("expected sorted fields, got %q", line)
	}
}

func TestWithFields(t *testing.T) {
	logger, buf := newTestLogger()

	scoped := logger.WithFields(String("component", "pool"))
	scoped.Warn("saturated", Int("in_use", 10))

	line := buf.String()
	if !strings.Contains(line, "component=pool") {
		t.Errorf("expected attached field in %q", line)
	}
	if !strings.Contains(line, "in_use=10") {
		t.Errorf("expected call-site field in %q", line)
	}

	buf.Reset()
	logger.Warn("plain")
	if strings.Contains(buf.String(), "component=") {
		t.Errorf("expected the parent logger unaffected, got %q", buf.String())
	}
}

func TestErrorField(t *testing.T) {
	logger, buf := newTestLogger()

	logger.Error("dial failed", ErrorField(errors.New("refused")))
	if !strings.Contains(buf.String(), "error=refused") {
		t.Errorf("expected error field in %q", buf.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info("discarded")
	logger.SetLevel(DebugLevel)
	if scoped := logger.WithFields(String("k", "v")); scoped == nil {
		t.Error("expected WithFields to return a logger")
	}
}

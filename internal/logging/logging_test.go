package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTraditionalHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo))

	logger.With("worker", 2).Info("solve started", "id", "j1")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] solve started [worker=2 id=j1]") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("expected debug record to be filtered, got %q", out)
	}
}

func TestTraditionalHandlerGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug)).WithGroup("solver")
	logger.Debug("attempt", "year", 2020)
	if !strings.Contains(buf.String(), "[DEBUG] attempt [solver.year=2020]") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestLogPartitionIsWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "warn", "json")
	LogPartition(logger, 2019, 12, errors.New("singular"))
	LogSolveStart(logger, "j", "K19X01A", "cli", 3)

	out := buf.String()
	if !strings.Contains(out, `"year":2019`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("expected warn record with year, got %q", out)
	}
	if strings.Contains(out, "solve started") {
		t.Fatalf("expected info record filtered at warn level")
	}
}

func TestLogSolveHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, "info", "text")
	LogSolveComplete(logger, "j1", 1500*time.Millisecond, map[string]any{"attempts": 4})
	LogSolveError(logger, "j2", time.Second, errors.New("no convergent orbit"), nil)

	out := buf.String()
	if !strings.Contains(out, "duration_ms=1500") || !strings.Contains(out, `error="no convergent orbit"`) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARNING": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q): expected %v, got %v", in, want, got)
		}
	}
}

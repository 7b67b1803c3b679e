package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"ERROR": slog.LevelError,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "INFO", "json")
	logger = WithDatasetID(WithExecutionID(logger, "exec-1"), "ds-1")
	logger.Info("started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if entry["execution_id"] != "exec-1" || entry["dataset_id"] != "ds-1" {
		t.Errorf("missing context fields: %v", entry)
	}
}

func TestNewLogger_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "WARN", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info must be filtered at WARN: %q", out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text output, got %q", out)
	}
}

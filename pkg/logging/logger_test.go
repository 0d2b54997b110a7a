package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse JSON output %q: %v", buf.String(), err)
	}
	return out
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("expected default level info, got %s", cfg.Level)
	}
	if cfg.Format != FormatAuto {
		t.Errorf("expected auto format, got %s", cfg.Format)
	}
	if cfg.Component != "calinsight" {
		t.Errorf("expected component calinsight, got %s", cfg.Component)
	}
}

func TestNewLogger_NilConfig(t *testing.T) {
	if NewLogger(nil) == nil {
		t.Error("expected non-nil logger with nil config")
	}
}

func TestLogger_JSONFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelDebug, Component: "sync", Format: FormatJSON, Output: buf})

	log.Info("chunk written", F("inserted", 12), F("user", "ana@example.com"))

	out := decodeLine(t, buf)
	if out["message"] != "chunk written" {
		t.Errorf("unexpected message %v", out["message"])
	}
	if out["component"] != "sync" {
		t.Errorf("expected component sync, got %v", out["component"])
	}
	if out["inserted"] != float64(12) {
		t.Errorf("expected inserted 12, got %v", out["inserted"])
	}
	if out["level"] != "info" {
		t.Errorf("expected level info, got %v", out["level"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Level: LevelWarn, Format: FormatJSON, Output: buf})

	log.Debug("hidden")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn entry, got %q", buf.String())
	}
}

func TestLogger_ErrorField(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Format: FormatJSON, Output: buf})

	log.Error("batch failed", Err(errors.New("deadlock detected")))

	out := decodeLine(t, buf)
	if out["error"] != "deadlock detected" {
		t.Errorf("expected error field, got %v", out["error"])
	}
}

func TestLogger_WithAndContext(t *testing.T) {
	buf := &bytes.Buffer{}
	base := NewLogger(&Config{Format: FormatJSON, Output: buf})

	ctx := ContextWithRunID(context.Background(), "run-123")
	base.With(F("mode", "incremental")).WithContext(ctx).Info("started")

	out := decodeLine(t, buf)
	if out["mode"] != "incremental" {
		t.Errorf("expected mode field, got %v", out["mode"])
	}
	if out["run_id"] != "run-123" {
		t.Errorf("expected run_id field, got %v", out["run_id"])
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewLogger(&Config{Format: FormatConsole, Output: buf})
	log.Info("hello console")

	if !strings.Contains(buf.String(), "hello console") {
		t.Errorf("expected console output, got %q", buf.String())
	}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected non-JSON console output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	log.Info("discarded", F("k", "v"))
	if log.With(F("a", 1)) == nil {
		t.Error("expected nop logger from With")
	}
}

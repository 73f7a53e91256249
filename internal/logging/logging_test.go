package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"WARNING", zapcore.WarnLevel},
		{" error ", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tt.in, tt.want, got)
		}
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNew_WritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rfd.log")

	logger, closeFn, err := New("info", path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("run finished", zap.String("run_id", "r1"))
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line above debug level, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["msg"] != "run finished" || entry["run_id"] != "r1" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, _, err := New("chatty", ""); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestNew_WithoutConsoleKeepsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rfd.log")

	logger, closeFn, err := New("info", path, WithoutConsole())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("quiet run")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "quiet run") {
		t.Errorf("expected entry in log file, got %q", data)
	}

	// With no file and no console the logger discards everything.
	nop, closeNop, err := New("debug", "", WithoutConsole())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closeNop()
	if nop.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("expected a logger with no outputs to be disabled")
	}
}

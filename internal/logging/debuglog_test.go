package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDebugLogWritesJSONLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, err := OpenDebugLog(dir)
	if err != nil {
		t.Fatalf("OpenDebugLog: %v", err)
	}
	defer log.Close()

	stamp := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return stamp }

	log.Debugf("engine", "turn started", "model", "claude", "attempt", 1)
	log.Errorf("provider", "stream failed")

	matches, err := filepath.Glob(filepath.Join(dir, "debug-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one dated log file, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line not valid JSON: %v", err)
	}
	if first["namespace"] != "engine" || first["level"] != "debug" || first["message"] != "turn started" {
		t.Errorf("unexpected record: %v", first)
	}
	if _, err := time.Parse(time.RFC3339Nano, first["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}
	args, ok := first["args"].(map[string]any)
	if !ok || args["model"] != "claude" {
		t.Errorf("args not carried: %v", first["args"])
	}

	var second map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("second line not valid JSON: %v", err)
	}
	if second["level"] != "error" {
		t.Errorf("level = %v, want error", second["level"])
	}
	if _, present := second["args"]; present {
		t.Error("empty args should be omitted")
	}
}

func TestDebugLogDirPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "private")
	log, err := OpenDebugLog(dir)
	if err != nil {
		t.Fatalf("OpenDebugLog: %v", err)
	}
	defer log.Close()

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("dir perm = %o, want 0700", perm)
	}
}

func TestDebugLogUnserializableArgs(t *testing.T) {
	dir := t.TempDir()
	log, err := OpenDebugLog(dir)
	if err != nil {
		t.Fatalf("OpenDebugLog: %v", err)
	}
	defer log.Close()

	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	log.Debugf("store", "cyclic params", "params", cyclic)

	matches, _ := filepath.Glob(filepath.Join(dir, "debug-*.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one log file, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("record must degrade to valid JSON: %v", err)
	}
	if record["message"] != "cyclic params" {
		t.Errorf("record lost: %v", record)
	}
}

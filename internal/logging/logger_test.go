package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, LogFileName)); os.IsNotExist(err) {
			t.Errorf("log file was not created")
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		if logger.closer != nil {
			t.Error("expected no closer when writing to stderr")
		}
		if err := logger.Close(); err != nil {
			t.Errorf("Close() = %v, want nil", err)
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelWarn)

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines at WARN, got %d: %q", len(lines), buf.String())
	}
}

func TestContextPropagation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.WithSession("sess-1").WithRound(4).WithRequest(2).Info("attempt completed", "latency_ms", 120)
	logger.Info("plain")
	_ = logger.Close()

	entries := readEntries(t, filepath.Join(dir, LogFileName))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first["session_id"] != "sess-1" {
		t.Errorf("session_id = %v, want sess-1", first["session_id"])
	}
	if first["round"] != float64(4) {
		t.Errorf("round = %v, want 4", first["round"])
	}
	if first["request_id"] != float64(2) {
		t.Errorf("request_id = %v, want 2", first["request_id"])
	}
	if first["latency_ms"] != float64(120) {
		t.Errorf("latency_ms = %v, want 120", first["latency_ms"])
	}

	if _, ok := entries[1]["session_id"]; ok {
		t.Error("parent logger should not inherit child attributes")
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, LevelInfo)

	if logger.With() != logger {
		t.Error("With() without args should return the same logger")
	}

	logger.With("target", "cat", 42, "skipped").Info("round started")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse entry: %v", err)
	}
	if entry["target"] != "cat" {
		t.Errorf("target = %v, want cat", entry["target"])
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	logger.WithRound(1).Error("also discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"Warn":    LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConcurrentWrites(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				logger.WithRound(uint64(n)).Info("tick", "j", j)
			}
		}(i)
	}
	wg.Wait()
	_ = logger.Close()

	if got := len(readEntries(t, filepath.Join(dir, LogFileName))); got != 200 {
		t.Errorf("expected 200 entries, got %d", got)
	}
}

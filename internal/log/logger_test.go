package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndReadAll(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	if err := logger.Append(LogEvent{Event: EventLockAcquired, SessionID: "A", Path: "/src/Main.gren"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := logger.Append(LogEvent{Event: EventLockReleased, SessionID: "A", Path: "/src/Main.gren"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	events, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Event != EventLockAcquired || events[1].Event != EventLockReleased {
		t.Errorf("unexpected event order: %q, %q", events[0].Event, events[1].Event)
	}
	for i, e := range events {
		if e.ID == "" {
			t.Errorf("event %d has no id", i)
		}
		if e.Time.IsZero() {
			t.Errorf("event %d has no time", i)
		}
	}
}

func TestReadAllMissingFile(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	events, err := logger.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestReadSessionKeepsLastEntries(t *testing.T) {
	logger, err := NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = logger.Append(LogEvent{Event: EventLockAcquired, SessionID: "A", Count: i})
		_ = logger.Append(LogEvent{Event: EventLockAcquired, SessionID: "B", Count: i})
	}

	events, err := logger.ReadSession("A", 3)
	if err != nil {
		t.Fatalf("ReadSession failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, e := range events {
		if e.SessionID != "A" {
			t.Errorf("event %d belongs to %q", i, e.SessionID)
		}
		if e.Count != i+2 {
			t.Errorf("event %d: got count %d, want %d", i, e.Count, i+2)
		}
	}
}

func TestReadAllRejectsCorruptLine(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".agentlock", "log.jsonl"), []byte("{not json}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := logger.ReadAll(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewDiagnosticMirrors(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	logger, closer, err := NewDiagnostic(dir, "debug", &buf)
	if err != nil {
		t.Fatalf("NewDiagnostic failed: %v", err)
	}
	logger.Debug("lock acquired", "path", "/src/Main.gren")
	_ = closer.Close()

	if !strings.Contains(buf.String(), "lock acquired") {
		t.Errorf("mirror did not receive record: %q", buf.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, ".agentlock", "hooks.log"))
	if err != nil {
		t.Fatalf("read hooks.log: %v", err)
	}
	if !strings.Contains(string(data), "/src/Main.gren") {
		t.Errorf("hooks.log missing record: %q", string(data))
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

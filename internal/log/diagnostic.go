package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewDiagnostic returns a JSON slog.Logger appending to .agentlock/hooks.log
// inside dir. When mirror is non-nil, records are also written to it.
// The returned io.Closer closes the log file.
func NewDiagnostic(dir, level string, mirror io.Writer) (*slog.Logger, io.Closer, error) {
	stateDir := filepath.Join(dir, ".agentlock")
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create .agentlock directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Join(stateDir, "hooks.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open diagnostic log: %w", err)
	}

	var w io.Writer = file
	if mirror != nil {
		w = io.MultiWriter(file, mirror)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler).With("component", "agentlock", "pid", os.Getpid())
	return logger, file, nil
}

// ParseLevel maps a config level name to a slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

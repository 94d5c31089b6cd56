// Package telemetry wraps log/slog, the standard library's structured
// logger, gating verbose output behind a debug flag.
//
// Grounded on rpcpool-yellowstone-faithful/preindex/preindex.go, which logs
// through slog.Info with structured key-value attributes rather than a
// Printf-style message.
package telemetry

import (
	"log/slog"
	"os"
)

// Logger wraps a *slog.Logger so debug-level output can be toggled by a
// single flag instead of a handler option threaded through every call site.
type Logger struct {
	*slog.Logger
	Debug bool
}

// New returns a Logger at slog.LevelInfo, or slog.LevelDebug when debug is
// true.
func New(debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{Logger: slog.New(handler), Debug: debug}
}

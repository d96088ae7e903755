// Package rlog provides the structured logging wrapper shared by every
// engine subsystem, matching the verbose flag exposed through engine
// configuration to a log/slog level.
package rlog

import (
	"log/slog"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	current = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Configure installs the process-wide logger used by every subsystem that
// doesn't have its own injected *slog.Logger. verbose raises the level to
// debug, matching the "verbose" engine configuration option.
func Configure(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	mu.Lock()
	current = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	mu.Unlock()
}

// L returns the current logger.
func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return current
}

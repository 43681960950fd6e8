package laketesting

import (
	"log/slog"
	"os"
	"testing"
)

// NewLogger returns a logger that only surfaces errors unless DEBUG is set.
func NewLogger(t testing.TB) *slog.Logger {
	level := slog.LevelError
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

package logger

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the root structured logger for the daemon. level and format are
// case-insensitive and fall back to info/text on anything unrecognized.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseSlogLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseSlogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

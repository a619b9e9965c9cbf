package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the JSON stdout logger used by every command.
func NewLogger() *slog.Logger {
	return New(os.Stdout, "info", "json")
}

// New builds a logger writing to w. Unknown levels fall back to info and
// unknown formats to json.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := new(slog.LevelVar)
	lvl.Set(parseLevel(level))

	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
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

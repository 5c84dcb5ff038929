package runtime

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON logger tagged with the service name. LOG_LEVEL selects
// debug, info, warn or error (default info).
func NewLogger(service string) *slog.Logger {
	return newLogger(os.Stdout, service, os.Getenv("LOG_LEVEL"))
}

func newLogger(w io.Writer, service, level string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(h).With("service", service)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

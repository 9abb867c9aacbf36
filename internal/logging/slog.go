// Package logging adapts log/slog to the types.Logger interface.
package logging

import (
	"log/slog"
	"os"

	"forewarn/internal/types"
)

type slogLogger struct {
	l *slog.Logger
}

// New creates a JSON-emitting types.Logger at the given level. Unknown
// levels fall back to info.
func New(level string) types.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &slogLogger{l: slog.New(handler)}
}

// Wrap adapts an existing slog.Logger.
func Wrap(l *slog.Logger) types.Logger {
	return &slogLogger{l: l}
}

func (s *slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s *slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s *slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

func (s *slogLogger) With(args ...any) types.Logger {
	return &slogLogger{l: s.l.With(args...)}
}

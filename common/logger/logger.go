// Package logger is the process-wide structured logging setup. Every
// component receives a *Logger by injection; nothing writes through the
// slog default.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with the field helpers used across the
// codebase.
type Logger struct {
	*slog.Logger
}

// New builds a logger writing to stdout. Format "json" emits one object
// per line for log shippers; anything else gets a colored console
// handler for local runs. Source locations are attached only at debug
// level.
func New(level, format string) *Logger {
	lv := parseLevel(level)
	addSource := lv <= slog.LevelDebug

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     lv,
			AddSource: addSource,
		})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lv,
			TimeFormat: time.TimeOnly,
			AddSource:  addSource,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// Named tags every record with the owning component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.With("component", component)}
}

// WithFields returns a child logger carrying the given fields on every
// record. Run-scoped loggers use this for execution_id and thread_id.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/journal"
)

var (
	once   sync.Once
	logger *slog.Logger

	journalEnabled = journal.Enabled
)

// Setup initializes the global logger.
// logic: default to INFO and JSON. If level or format is invalid, fall back to the default.
// "journal" writes to systemd-journald and falls back to JSON when no journal socket exists.
func Setup(level string, format ...string) {
	once.Do(func() {
		f := "json"
		if len(format) > 0 {
			f = format[0]
		}
		logger = newLogger(os.Stdout, level, f)
		slog.SetDefault(logger)
	})
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	switch {
	case strings.EqualFold(format, "text"):
		handler = slog.NewTextHandler(w, opts)
	case strings.EqualFold(format, "journal") && journalEnabled():
		handler = newJournalHandler(opts.Level)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithServer returns a logger with the server field set.
func WithServer(name string) *slog.Logger {
	return Get().With(slog.String("server", name))
}

// WithRequest returns a logger with the request_id field set.
func WithRequest(id string) *slog.Logger {
	return Get().With(slog.String("request_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}

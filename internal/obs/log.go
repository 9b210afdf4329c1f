package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = newJSONLogger(os.Stdout, slog.LevelInfo)
)

func newJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}))
}

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// ConfigureLogger replaces the shared logger with a JSON logger writing to w
// at the named level (debug, info, warn, error). It returns a function that
// restores the previous logger.
func ConfigureLogger(w io.Writer, level string) func() {
	next := newJSONLogger(w, ParseLevel(level))
	loggerMu.Lock()
	prev := logger
	logger = next
	loggerMu.Unlock()
	slog.SetDefault(next)
	return func() {
		loggerMu.Lock()
		logger = prev
		loggerMu.Unlock()
		slog.SetDefault(prev)
	}
}

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

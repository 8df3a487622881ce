// Package logger configures the process-wide slog logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar slog.LevelVar
	mu       sync.RWMutex
	base     *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	base = newLogger(os.Stderr, false)
}

func newLogger(w io.Writer, json bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if json {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init sets the level and format, installs the logger as the slog default
// and returns it tagged with service.
func Init(service, level, format string, w io.Writer) *slog.Logger {
	SetLevel(level)
	l := newLogger(w, strings.EqualFold(format, "json")).With(slog.String("service", service))
	mu.Lock()
	base = l
	mu.Unlock()
	slog.SetDefault(l)
	return l
}

func SetLevel(level string) {
	levelVar.Set(ParseLevel(level))
}

// ParseLevel maps debug/info/warn/error to a slog level; anything else is info.
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

// L returns the current logger.
func L() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns the current logger with a component attribute.
func Component(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Discard is a logger that drops everything; tests use it.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

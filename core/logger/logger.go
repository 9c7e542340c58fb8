// Package logger provides the structured logging stack shared by all
// components: a slog base logger, per-component children, and context
// carriers for request correlation across the polling loop, handlers,
// and the outbound sender.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	initOnce sync.Once
	levelVar slog.LevelVar

	// L is the base logger. Component children below are derived from it.
	L *slog.Logger

	// TG logs Telegram transport events.
	TG *slog.Logger
	// DB logs database events.
	DB *slog.Logger
	// MIG logs migration events.
	MIG *slog.Logger
	// SND logs outbound delivery events.
	SND *slog.Logger
	// WZ logs wizard engine events.
	WZ *slog.Logger
	// WF logs ticket workflow events.
	WF *slog.Logger
	// EVT logs domain event dispatch.
	EVT *slog.Logger
)

func init() {
	// Usable before Init for early startup failures; Init replaces it.
	wire(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// Options selects output level and format.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

// Init configures the global logger once. Subsequent calls are no-ops.
func Init(opts Options) {
	initOnce.Do(func() {
		levelVar.Set(parseLevel(opts.Level))
		hopts := &slog.HandlerOptions{Level: &levelVar}

		var handler slog.Handler
		if strings.EqualFold(opts.Format, "json") {
			handler = slog.NewJSONHandler(os.Stderr, hopts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, hopts)
		}
		logger := slog.New(handler)
		slog.SetDefault(logger)
		wire(logger)
	})
}

func wire(l *slog.Logger) {
	L = l
	TG = l.With("component", "tg")
	DB = l.With("component", "db")
	MIG = l.With("component", "db.migrate")
	SND = l.With("component", "tg.sender")
	WZ = l.With("component", "wizard")
	WF = l.With("component", "workflow")
	EVT = l.With("component", "events")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Debug logs at debug level on the given component logger with context attrs.
func Debug(ctx context.Context, log *slog.Logger, event string, attrs ...slog.Attr) {
	logAt(ctx, log, slog.LevelDebug, event, attrs...)
}

// Info logs at info level on the given component logger with context attrs.
func Info(ctx context.Context, log *slog.Logger, event string, attrs ...slog.Attr) {
	logAt(ctx, log, slog.LevelInfo, event, attrs...)
}

// Warn logs at warn level on the given component logger with context attrs.
func Warn(ctx context.Context, log *slog.Logger, event string, attrs ...slog.Attr) {
	logAt(ctx, log, slog.LevelWarn, event, attrs...)
}

// Error logs at error level on the given component logger with context attrs.
func Error(ctx context.Context, log *slog.Logger, event string, attrs ...slog.Attr) {
	logAt(ctx, log, slog.LevelError, event, attrs...)
}

func logAt(ctx context.Context, log *slog.Logger, level slog.Level, event string, attrs ...slog.Attr) {
	if log == nil {
		log = L
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rid := RIDFrom(ctx); rid != "" {
		attrs = append(attrs, slog.String("rid", rid))
	}
	log.LogAttrs(ctx, level, event, attrs...)
}

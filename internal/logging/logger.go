package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloudeng.io/logging/ctxlog"
)

type Options struct {
	Level     string
	Writer    io.Writer
	Component string
	// Text switches to the human readable handler; JSON is the default.
	Text bool
}

func NewLogger(opts Options) *slog.Logger {
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if opts.Text {
		h = slog.NewTextHandler(writer, handlerOpts)
	} else {
		h = slog.NewJSONHandler(writer, handlerOpts)
	}
	lg := slog.New(h)
	if c := strings.TrimSpace(opts.Component); c != "" {
		lg = lg.With("component", c)
	}
	return lg
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
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

type hasLogger struct{}

// WithContext stores lg in ctx so request scoped code can pick it up with
// FromContext.
func WithContext(ctx context.Context, lg *slog.Logger) context.Context {
	if lg == nil {
		return ctx
	}
	return context.WithValue(ctxlog.WithLogger(ctx, lg), hasLogger{}, true)
}

// FromContext returns the logger stored in ctx, or fallback when none was
// stored. A nil fallback yields a discarding logger.
func FromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if ctx != nil && ctx.Value(hasLogger{}) != nil {
		return ctxlog.Logger(ctx)
	}
	if fallback != nil {
		return fallback
	}
	return Discard()
}

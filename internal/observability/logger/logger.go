package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/trace"
)

// Config holds logger configuration
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json, text
	ServiceName string
}

// InitLogger installs the process-wide slog logger. Records go to stdout
// and, via the otelslog bridge, to the OTLP log pipeline when one is
// configured. Trace and span ids are stamped onto every record carrying
// an active span.
func InitLogger(cfg Config) {
	slog.SetDefault(slog.New(newRootHandler(os.Stdout, cfg)))
}

func newRootHandler(w io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var local slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		local = slog.NewTextHandler(w, opts)
	default:
		local = slog.NewJSONHandler(w, opts)
	}

	return tee{
		spanStamper{inner: local},
		otelslog.NewHandler(cfg.ServiceName),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// spanStamper decorates records with the ids of the active span so log
// lines can be joined against traces.
type spanStamper struct {
	inner slog.Handler
}

func (s spanStamper) Enabled(ctx context.Context, level slog.Level) bool {
	return s.inner.Enabled(ctx, level)
}

func (s spanStamper) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return s.inner.Handle(ctx, r)
}

func (s spanStamper) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanStamper{inner: s.inner.WithAttrs(attrs)}
}

func (s spanStamper) WithGroup(name string) slog.Handler {
	return spanStamper{inner: s.inner.WithGroup(name)}
}

// tee forwards each record to every member. A member's failure must not
// starve the others, so errors are swallowed per member.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

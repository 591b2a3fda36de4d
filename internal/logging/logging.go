// Package logging initializes the process-wide zerolog logger: JSON to
// stdout (and optionally a log file), level from config, timestamps
// RFC3339Nano.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

func traceLogger(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	if ctx == nil || base == nil {
		return base
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	l := base.With().Str("trace_id", sc.TraceID().String())
	if sc.HasSpanID() {
		l = l.Str("span_id", sc.SpanID().String())
	}
	out := l.Logger()
	return &out
}

// Init configures the global zerolog logger. If logPath is non-empty, logs
// are written there in addition to stdout.
func Init(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = zerolog.MultiLevelWriter(os.Stdout, f)
		} else {
			_, _ = fmt.Fprintf(os.Stderr, "logging: failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	lvl := zerolog.InfoLevel
	if level = strings.ToLower(strings.TrimSpace(level)); level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)
}

// Fields is the structured-field map every ambient Logger interface in this
// module accepts.
type Fields map[string]any

// Logger is the narrow logging interface components depend on so tests can
// inject a recording fake instead of the real zerolog sink.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
}

// Zerolog adapts the global zerolog logger (or one enriched with trace
// context via WithTrace) to the Logger interface.
type Zerolog struct {
	L *zerolog.Logger
}

// Default returns a Zerolog logger backed by the global logger.
func Default() Zerolog { return Zerolog{L: &log.Logger} }

// WithTrace enriches the logger with trace_id/span_id from ctx.
func (z Zerolog) WithTrace(ctx context.Context) Zerolog {
	l := traceLogger(ctx, z.L)
	return Zerolog{L: l}
}

func (z Zerolog) event(level zerolog.Level, msg string, fields Fields) {
	e := z.L.WithLevel(level)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func (z Zerolog) Debug(msg string, fields Fields) { z.event(zerolog.DebugLevel, msg, fields) }
func (z Zerolog) Info(msg string, fields Fields)  { z.event(zerolog.InfoLevel, msg, fields) }
func (z Zerolog) Warn(msg string, fields Fields)  { z.event(zerolog.WarnLevel, msg, fields) }
func (z Zerolog) Error(msg string, fields Fields) { z.event(zerolog.ErrorLevel, msg, fields) }

// Noop discards every call; useful for tests that don't care about log output.
type Noop struct{}

func (Noop) Debug(string, Fields) {}
func (Noop) Info(string, Fields)  {}
func (Noop) Warn(string, Fields)  {}
func (Noop) Error(string, Fields) {}

// Package logging provides structured, context-aware logging for the HTTP
// layer. Trace ID, user ID and role travel on the request context and are
// attached to every event emitted through WithContext.
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// TraceIDKey carries the request trace ID on the context.
	TraceIDKey contextKey = "trace_id"
	// UserIDKey carries the authenticated user ID on the context.
	UserIDKey contextKey = "user_id"
	// RoleKey carries the authenticated user role on the context.
	RoleKey contextKey = "role"
)

// Logger wraps zerolog with context propagation helpers.
type Logger struct {
	zl zerolog.Logger
}

// New creates a named logger. format is "json" or "console"; level is a
// zerolog level name and defaults to info when unrecognized.
func New(name, level, format string) *Logger {
	var out io.Writer = os.Stdout
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(out).Level(lvl).With().
		Timestamp().
		Str("service", name).
		Logger()

	return &Logger{zl: zl}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// Event is a partially built log event carrying accumulated fields.
type Event struct {
	zl zerolog.Logger
}

// WithContext returns an event pre-populated with the trace ID, user ID and
// role found on ctx.
func (l *Logger) WithContext(ctx context.Context) *Event {
	zc := l.zl.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		zc = zc.Str("trace_id", traceID)
	}
	if userID := GetUserID(ctx); userID != "" {
		zc = zc.Str("user_id", userID)
	}
	if role := GetRole(ctx); role != "" {
		zc = zc.Str("role", role)
	}
	return &Event{zl: zc.Logger()}
}

// WithError attaches an error to the event.
func (e *Event) WithError(err error) *Event {
	return &Event{zl: e.zl.With().Err(err).Logger()}
}

// WithFields attaches arbitrary fields to the event.
func (e *Event) WithFields(fields map[string]interface{}) *Event {
	return &Event{zl: e.zl.With().Fields(fields).Logger()}
}

func (e *Event) Debug(msg string) { e.zl.Debug().Msg(msg) }
func (e *Event) Info(msg string)  { e.zl.Info().Msg(msg) }
func (e *Event) Warn(msg string)  { e.zl.Warn().Msg(msg) }
func (e *Event) Error(msg string) { e.zl.Error().Msg(msg) }

// LogRequest emits the canonical access-log line for a completed request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).zl.Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", duration).
		Msg("request completed")
}

// LogSecurityEvent emits an auth or abuse related event at warn level.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).zl.Warn().
		Str("security_event", event).
		Fields(fields).
		Msg("security event")
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from the context, if any.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

// WithUserID stores the authenticated user ID on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the authenticated user ID from the context, if any.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// WithRole stores the authenticated role on the context.
func WithRole(ctx context.Context, role string) context.Context {
	if role == "" {
		return ctx
	}
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole extracts the authenticated role from the context, if any.
func GetRole(ctx context.Context) string {
	v, _ := ctx.Value(RoleKey).(string)
	return v
}

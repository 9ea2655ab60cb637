// Package logger provides structured logging using slog with request context support.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for the inbound request ID.
	RequestIDKey contextKey = "request_id"
	// ToolKey is the context key for the tool being dispatched.
	ToolKey contextKey = "tool"
	// ProvenanceKey is the context key for the resolved credential provenance.
	// Only the provenance label travels through the context, never the
	// credential value itself.
	ProvenanceKey contextKey = "provenance"
)

// Logger wraps slog.Logger with additional context-aware methods.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger writing to stdout with the specified level and format.
func New(level slog.Level, json bool) *Logger {
	return NewWriter(os.Stdout, level, json)
}

// NewWriter creates a new Logger writing to w. The stdio transport owns
// stdout for protocol frames, so its diagnostics are routed to stderr via
// this constructor.
func NewWriter(w io.Writer, level slog.Level, json bool) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
	}
}

// Default creates a logger with default settings (INFO level, JSON format).
func Default() *Logger {
	return New(slog.LevelInfo, true)
}

// WithContext returns a new Logger with fields extracted from the context.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger = logger.With("request_id", requestID)
	}

	if tool, ok := ctx.Value(ToolKey).(string); ok && tool != "" {
		logger = logger.With("tool", tool)
	}

	if provenance, ok := ctx.Value(ProvenanceKey).(string); ok && provenance != "" {
		logger = logger.With("provenance", provenance)
	}

	return &Logger{Logger: logger}
}

// WithRequestID returns a new Logger with the request ID field.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("request_id", requestID),
	}
}

// WithComponent returns a new Logger with the component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
	}
}

// WithTool returns a new Logger with the tool field.
func (l *Logger) WithTool(tool string) *Logger {
	return &Logger{
		Logger: l.Logger.With("tool", tool),
	}
}

// WithError returns a new Logger with the error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
	}
}

// ContextWithRequestID adds a request ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// ContextWithTool adds the dispatched tool name to the context.
func ContextWithTool(ctx context.Context, tool string) context.Context {
	return context.WithValue(ctx, ToolKey, tool)
}

// ContextWithProvenance adds the resolved credential provenance to the context.
func ContextWithProvenance(ctx context.Context, provenance string) context.Context {
	return context.WithValue(ctx, ProvenanceKey, provenance)
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// ProvenanceFromContext extracts the credential provenance from context.
func ProvenanceFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(ProvenanceKey).(string); ok {
		return p
	}
	return ""
}

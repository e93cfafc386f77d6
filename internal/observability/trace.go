package observability

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	workspaceIDKey
)

// WithTraceID returns a context carrying a generated trace id, used to
// correlate every log line and span emitted during one solve/tool call.
func WithTraceID(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(ctx, traceIDKey, id), id
}

// WithWorkspaceID attaches the active workspace id to the context for logging.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// LoggerWithTrace returns a logger with trace_id/workspace_id fields bound,
// falling back to the global logger when neither is present in ctx.
func LoggerWithTrace(ctx context.Context) zerolog.Logger {
	logger := log.Logger
	if id, ok := ctx.Value(traceIDKey).(string); ok && id != "" {
		logger = logger.With().Str("trace_id", id).Logger()
	}
	if ws, ok := ctx.Value(workspaceIDKey).(string); ok && ws != "" {
		logger = logger.With().Str("workspace_id", ws).Logger()
	}
	return logger
}

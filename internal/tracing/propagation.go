package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	fields := logger.With()
	if tc.TraceID != "" {
		fields = fields.Str("trace_id", tc.TraceID)
	}
	if tc.RequestID != "" {
		fields = fields.Str("request_id", tc.RequestID)
	}
	if tc.GuildID != "" {
		fields = fields.Str("guild_id", tc.GuildID)
	}
	if tc.UserID != "" {
		fields = fields.Str("user_id", tc.UserID)
	}
	if tc.SessionKey != "" {
		fields = fields.Str("session_key", tc.SessionKey)
	}

	return fields.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}

// MergeContext copies tracing values from source into target where target has none.
// Used when work started under one request continues on a background context.
func MergeContext(target, source context.Context) context.Context {
	tc := FromContext(source)

	if tc.TraceID != "" && GetTraceID(target) == "" {
		target = WithTraceID(target, tc.TraceID)
	}
	if tc.RequestID != "" && GetRequestID(target) == "" {
		target = WithRequestID(target, tc.RequestID)
	}
	if tc.GuildID != "" && GetGuildID(target) == "" {
		target = context.WithValue(target, GuildIDKey, tc.GuildID)
	}
	if tc.UserID != "" && GetUserID(target) == "" {
		target = context.WithValue(target, UserIDKey, tc.UserID)
	}
	if tc.SessionKey != "" && GetSessionKey(target) == "" {
		target = WithSessionKey(target, tc.SessionKey)
	}

	return target
}

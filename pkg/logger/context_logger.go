package logger

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const (
	ctxKeyCallID  ctxKey = "call_id"
	ctxKeyUserID  ctxKey = "user_id"
	ctxKeyTraceID ctxKey = "trace_id"
)

// WithCallID annotates ctx so loggers derived from it carry the call id.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, ctxKeyCallID, callID)
}

// WithUserID annotates ctx with the bound identity.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// FromContext returns log extended with any call/user/trace fields
// present in ctx.
func FromContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	fields := []zapcore.Field{}
	for _, key := range []ctxKey{ctxKeyCallID, ctxKeyUserID, ctxKeyTraceID} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}
	if len(fields) == 0 {
		return log
	}
	return log.With(fields...)
}

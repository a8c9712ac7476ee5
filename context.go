package xrail

import (
	"context"

	"github.com/trickstertwo/xlog"
)

type ctxKey string

const (
	loggerCtxKey     ctxKey = "xrail:logger"
	generationCtxKey ctxKey = "xrail:generation"
	clockCtxKey      ctxKey = "xrail:clock"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext returns the generation logger handlers run under.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectGeneration(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, generationCtxKey, id)
}

// GenerationFromContext returns the id of the generation a handler runs in.
func GenerationFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(generationCtxKey).(string)
	return id, ok && id != ""
}

func injectClock(ctx context.Context, c Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

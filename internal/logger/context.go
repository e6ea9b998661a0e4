package logger

import "context"

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds fields that are attached to every *Ctx log call.
type LogContext struct {
	AppName    string // compute application the shuffle belongs to
	ExecutorID string // executor (or CLI invocation) issuing transfers
	TraceID    string
	SpanID     string
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone == nil {
		clone = &LogContext{}
	}
	clone.TraceID = traceID
	clone.SpanID = spanID
	return clone
}

package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds call-scoped logging fields. The daemon creates one per
// connection and derives a copy per dispatched call.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	ConnID    string    // Connection identifier (uuid)
	Peer      string    // Remote address of the connection
	Action    string    // Action name (stat, upload, ...)
	Serial    uint32    // Call serial number
	StartTime time.Time // For duration calculation
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

// NewLogContext creates a connection-level LogContext.
func NewLogContext(connID, peer string) *LogContext {
	return &LogContext{
		ConnID:    connID,
		Peer:      peer,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// ForCall returns a copy scoped to one call. StartTime is reset so
// DurationMs measures the call, not the connection.
func (lc *LogContext) ForCall(action string, serial uint32) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{}
	}
	c.Action = action
	c.Serial = serial
	c.StartTime = time.Now()
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c != nil {
		c.TraceID = traceID
		c.SpanID = spanID
	}
	return c
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return Duration(lc.StartTime)
}

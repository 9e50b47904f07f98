package tracing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ContextKey represents keys used for context values
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	TraceIDKey   ContextKey = "trace_id"
	SpanIDKey    ContextKey = "span_id"
	StartTimeKey ContextKey = "start_time"
	OrgIDKey     ContextKey = "org_id"
)

// RequestInfo contains tracing information for a request
type RequestInfo struct {
	RequestID string    `json:"request_id"`
	TraceID   string    `json:"trace_id"`
	SpanID    string    `json:"span_id"`
	OrgID     string    `json:"org_id,omitempty"`
	StartTime time.Time `json:"start_time"`
}

// GenerateRequestID returns a request id of the form req_<uuid>
func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

// GenerateTraceID returns 16 random bytes in hex, the W3C trace id width
func GenerateTraceID() string {
	return randomHex(16)
}

// GenerateSpanID returns 8 random bytes in hex
func GenerateSpanID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// uuid falls back to its own entropy pool
		id := uuid.New()
		copy(b, id[:])
	}
	return hex.EncodeToString(b)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

func WithStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, StartTimeKey, startTime)
}

// WithOrgID tags the request with the organization named in its route
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }

func GetTraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

func GetSpanID(ctx context.Context) string { return stringValue(ctx, SpanIDKey) }

func GetOrgID(ctx context.Context) string { return stringValue(ctx, OrgIDKey) }

// GetStartTime returns the zero time when no start time was recorded
func GetStartTime(ctx context.Context) time.Time {
	if startTime, ok := ctx.Value(StartTimeKey).(time.Time); ok {
		return startTime
	}
	return time.Time{}
}

// GetRequestInfo extracts all tracing information from context
func GetRequestInfo(ctx context.Context) *RequestInfo {
	return &RequestInfo{
		RequestID: GetRequestID(ctx),
		TraceID:   GetTraceID(ctx),
		SpanID:    GetSpanID(ctx),
		OrgID:     GetOrgID(ctx),
		StartTime: GetStartTime(ctx),
	}
}

// WithFullTracing seeds fresh request, trace and span ids plus the start time.
// Background jobs use it where no inbound request exists.
func WithFullTracing(ctx context.Context) context.Context {
	ctx = WithRequestID(ctx, GenerateRequestID())
	ctx = WithTraceID(ctx, GenerateTraceID())
	ctx = WithSpanID(ctx, GenerateSpanID())
	return WithStartTime(ctx, time.Now())
}

// Duration calculates the duration since the start time in context
func Duration(ctx context.Context) time.Duration {
	startTime := GetStartTime(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}

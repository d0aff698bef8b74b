package shared

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/tasktrack/internal/domain"
)

// Key type for context values
type ContextKey string

// Context keys for various values
const (
	// PrincipalContextKey is the context key for the authenticated domain.Principal
	PrincipalContextKey ContextKey = "principal"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of bytes used to generate the trace ID
	TraceIDLength = 16 // 32 hex characters
)

// SetTraceID adds a trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	traceID := generateTraceID()
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// WithPrincipal stores the authenticated caller in the context.
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFromContext returns the caller stored by WithPrincipal. The
// boolean is false when no principal with a user ID is present.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(domain.Principal)
	if !ok || p.Validate() != nil {
		return domain.Principal{}, false
	}
	return p, true
}

// generateTraceID returns a random UUID as 32 hex characters, or a
// time-based ID if the random source fails.
func generateTraceID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		slog.Error("failed to generate random trace ID, using time-based fallback",
			slog.String("error", err.Error()))
		return generateFallbackTraceID()
	}
	return hex.EncodeToString(id[:])
}

var fallbackSeq atomic.Uint64

// generateFallbackTraceID combines the current time with a process-wide
// sequence number, so IDs stay unique within the process.
func generateFallbackTraceID() string {
	b := make([]byte, TraceIDLength)
	binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixNano()))
	binary.BigEndian.PutUint64(b[8:], fallbackSeq.Add(1))
	return hex.EncodeToString(b)
}

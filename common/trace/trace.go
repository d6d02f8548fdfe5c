// Package trace provides trace ID generation and context propagation so that
// every log line produced while handling one webhook delivery can be
// correlated, from the HTTP handler down to the ledger writes.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// traceKey is the unexported context key under which the trace ID is stored.
type traceKey struct{}

// GenerateID returns a fresh trace ID for one inbound delivery.
func GenerateID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand should never fail; fall back to a timestamp ID.
		return fmt.Sprintf("wh_%d", time.Now().UnixNano())
	}
	return "wh_" + hex.EncodeToString(bytes)
}

// WithTraceID returns a child context carrying the given trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

// FromContext extracts the trace ID from ctx, returning "" when absent.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

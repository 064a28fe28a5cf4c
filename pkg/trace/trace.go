// Package trace propagates a request trace id through context.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New mints a fresh trace id.
func New() string { return uuid.NewString() }

// WithID returns a context carrying the given trace id, minting one if empty.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = New()
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace id and whether one was set.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

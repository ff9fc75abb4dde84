package report

import (
	"context"

	"github.com/rzbill/relay/pkg/deferred"
)

// ItemRef names a started item. The UUID may already be known (StaticRef) or
// may still be pending the round-trip of the owning start request
// (PendingRef). Records referencing a pending UUID keep their submission
// order; substitution happens at send time.
type ItemRef interface {
	// UUID blocks until the identifier is available or ctx is done.
	UUID(ctx context.Context) (string, error)
	// TryUUID returns the identifier without blocking when already resolved.
	TryUUID() (string, bool)
}

// StaticRef is an ItemRef whose UUID is known up front.
type StaticRef string

func (r StaticRef) UUID(context.Context) (string, error) { return string(r), nil }
func (r StaticRef) TryUUID() (string, bool)              { return string(r), true }

// PendingRef is an ItemRef backed by a deferred identifier.
type PendingRef struct {
	D *deferred.Deferred[string]
}

func (r PendingRef) UUID(ctx context.Context) (string, error) {
	return r.D.AwaitContext(ctx)
}

func (r PendingRef) TryUUID() (string, bool) {
	v, err, ok := r.D.Peek()
	if !ok || err != nil {
		return "", false
	}
	return v, true
}

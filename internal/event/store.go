package event

import "context"

// Store persists and retrieves the per-scope event journal.
type Store interface {
	// Append persists one or more events atomically.
	Append(ctx context.Context, events ...Event) error
	// Load returns the events of a scope with Sequence > after, ordered by sequence.
	Load(ctx context.Context, scope string, after int64) ([]Event, error)
	// LastSequence returns the highest sequence stored for scope, or 0.
	LastSequence(ctx context.Context, scope string) (int64, error)
}

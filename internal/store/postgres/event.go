package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/event"
)

// EventStore implements event.Store backed by Postgres.
type EventStore struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewEventStore returns a new EventStore.
func NewEventStore(db sqlx.ExtContext, clk clock.Clock) *EventStore {
	return &EventStore{db: db, clock: clk}
}

func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	now := s.clock.Now().UTC()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (id, scope, sequence, type, data, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.Scope, e.Sequence, e.Type, []byte(e.Data), e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting event (scope=%s, sequence=%d): %w", e.Scope, e.Sequence, err)
		}
	}
	return nil
}

func (s *EventStore) Load(ctx context.Context, scope string, after int64) ([]event.Event, error) {
	var events []event.Event
	err := sqlx.SelectContext(ctx, s.db, &events,
		`SELECT id, scope, sequence, type, data, created_at
		 FROM events WHERE scope = $1 AND sequence > $2 ORDER BY sequence ASC`, scope, after)
	if err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return events, nil
}

func (s *EventStore) LastSequence(ctx context.Context, scope string) (int64, error) {
	var seq int64
	err := sqlx.GetContext(ctx, s.db, &seq,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE scope = $1`, scope)
	if err != nil {
		return 0, fmt.Errorf("loading last sequence: %w", err)
	}
	return seq, nil
}

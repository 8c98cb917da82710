package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// BidRepo implements store.BidRepository with sqlx.
type BidRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewBidRepo returns a new BidRepo.
func NewBidRepo(db sqlx.ExtContext, clk clock.Clock) *BidRepo {
	return &BidRepo{db: db, clock: clk}
}

func (r *BidRepo) Append(ctx context.Context, b *store.Bid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.clock.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bids (id, scope, player_id, bidder_id, amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.Scope, b.PlayerID, b.BidderID, b.Amount, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bid: %w", err)
	}
	return nil
}

func (r *BidRepo) ListByPlayer(ctx context.Context, playerID string) ([]store.Bid, error) {
	var bids []store.Bid
	err := sqlx.SelectContext(ctx, r.db, &bids,
		`SELECT id, scope, player_id, bidder_id, amount, created_at
		 FROM bids WHERE player_id = $1 ORDER BY created_at ASC, amount ASC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing bids: %w", err)
	}
	return bids, nil
}

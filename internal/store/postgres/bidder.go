package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

const bidderColumns = `id, scope, external_id, name, team_name, budget, created_at, updated_at`

// BidderRepo implements store.BidderRepository with sqlx. A bidder's won
// players are derived from players.sold_to.
type BidderRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewBidderRepo returns a new BidderRepo.
func NewBidderRepo(db sqlx.ExtContext, clk clock.Clock) *BidderRepo {
	return &BidderRepo{db: db, clock: clk}
}

func (r *BidderRepo) Create(ctx context.Context, b *store.Bidder) error {
	now := r.clock.Now().UTC()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bidders (`+bidderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.Scope, b.ExternalID, b.Name, b.TeamName, b.Budget, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting bidder: %w", err)
	}
	return nil
}

func (r *BidderRepo) Get(ctx context.Context, id string) (*store.Bidder, error) {
	var b store.Bidder
	err := sqlx.GetContext(ctx, r.db, &b, `SELECT `+bidderColumns+` FROM bidders WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting bidder %s: %w", id, notFound(err))
	}
	return r.withPlayers(ctx, &b)
}

func (r *BidderRepo) GetByExternalID(ctx context.Context, scope, externalID string) (*store.Bidder, error) {
	var b store.Bidder
	err := sqlx.GetContext(ctx, r.db, &b,
		`SELECT `+bidderColumns+` FROM bidders WHERE scope = $1 AND external_id = $2`, scope, externalID)
	if err != nil {
		return nil, fmt.Errorf("getting bidder by external id %s: %w", externalID, notFound(err))
	}
	return r.withPlayers(ctx, &b)
}

func (r *BidderRepo) Save(ctx context.Context, b *store.Bidder) error {
	b.UpdatedAt = r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE bidders SET name = $1, team_name = $2, budget = $3, updated_at = $4 WHERE id = $5`,
		b.Name, b.TeamName, b.Budget, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return fmt.Errorf("saving bidder %s: %w", b.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("saving bidder %s: %w", b.ID, store.ErrNotFound)
	}
	return nil
}

func (r *BidderRepo) List(ctx context.Context, scope string) ([]store.Bidder, error) {
	var bidders []store.Bidder
	err := sqlx.SelectContext(ctx, r.db, &bidders,
		`SELECT `+bidderColumns+` FROM bidders WHERE scope = $1 ORDER BY name ASC`, scope)
	if err != nil {
		return nil, fmt.Errorf("listing bidders: %w", err)
	}
	for i := range bidders {
		if _, err := r.withPlayers(ctx, &bidders[i]); err != nil {
			return nil, err
		}
	}
	return bidders, nil
}

func (r *BidderRepo) withPlayers(ctx context.Context, b *store.Bidder) (*store.Bidder, error) {
	b.Players = nil
	err := sqlx.SelectContext(ctx, r.db, &b.Players,
		`SELECT id FROM players WHERE sold_to = $1 ORDER BY updated_at ASC, id ASC`, b.ID)
	if err != nil {
		return nil, fmt.Errorf("listing players won by %s: %w", b.ID, err)
	}
	return b, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

const playerColumns = `id, scope, name, position, image_url, base_price, current_price,
	status, current_bidder, sold_to, sold_price, created_at, updated_at`

// PlayerRepo implements store.PlayerRepository with sqlx.
type PlayerRepo struct {
	db    sqlx.ExtContext
	clock clock.Clock
}

// NewPlayerRepo returns a new PlayerRepo.
func NewPlayerRepo(db sqlx.ExtContext, clk clock.Clock) *PlayerRepo {
	return &PlayerRepo{db: db, clock: clk}
}

func (r *PlayerRepo) Create(ctx context.Context, p *store.Player) error {
	now := r.clock.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO players (`+playerColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.Scope, p.Name, p.Position, p.ImageURL, p.BasePrice, p.CurrentPrice,
		p.Status, p.CurrentBidder, p.SoldTo, p.SoldPrice, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting player: %w", err)
	}
	return nil
}

func (r *PlayerRepo) Get(ctx context.Context, id string) (*store.Player, error) {
	var p store.Player
	err := sqlx.GetContext(ctx, r.db, &p, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting player %s: %w", id, notFound(err))
	}
	return &p, nil
}

func (r *PlayerRepo) Save(ctx context.Context, p *store.Player) error {
	p.UpdatedAt = r.clock.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE players SET name = $1, position = $2, image_url = $3, base_price = $4,
		 current_price = $5, status = $6, current_bidder = $7, sold_to = $8, sold_price = $9,
		 updated_at = $10
		 WHERE id = $11`,
		p.Name, p.Position, p.ImageURL, p.BasePrice, p.CurrentPrice, p.Status,
		p.CurrentBidder, p.SoldTo, p.SoldPrice, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("saving player %s: %w", p.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("saving player %s: %w", p.ID, store.ErrNotFound)
	}
	return nil
}

func (r *PlayerRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM players WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting player %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deleting player %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (r *PlayerRepo) List(ctx context.Context, scope string) ([]store.Player, error) {
	var players []store.Player
	err := sqlx.SelectContext(ctx, r.db, &players,
		`SELECT `+playerColumns+` FROM players WHERE scope = $1 ORDER BY created_at ASC, id ASC`, scope)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}

func (r *PlayerRepo) CountAvailable(ctx context.Context, scope string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.db, &n,
		`SELECT count(*) FROM players WHERE scope = $1 AND status IN ('available', 'unsold')`, scope)
	if err != nil {
		return 0, fmt.Errorf("counting available players: %w", err)
	}
	return n, nil
}

func (r *PlayerRepo) PickRandomAvailableOrUnsold(ctx context.Context, scope string, choose store.Chooser) (*store.Player, error) {
	for _, status := range []store.Status{store.StatusAvailable, store.StatusUnsold} {
		var ids []string
		err := sqlx.SelectContext(ctx, r.db, &ids,
			`SELECT id FROM players WHERE scope = $1 AND status = $2 ORDER BY created_at ASC, id ASC`,
			scope, status)
		if err != nil {
			return nil, fmt.Errorf("listing %s players: %w", status, err)
		}
		if len(ids) == 0 {
			continue
		}
		return r.Get(ctx, ids[choose(len(ids))])
	}
	return nil, fmt.Errorf("picking player in scope %s: %w", scope, store.ErrNotFound)
}

func (r *PlayerRepo) FindInAuction(ctx context.Context, scope string) (*store.Player, error) {
	var p store.Player
	err := sqlx.GetContext(ctx, r.db, &p,
		`SELECT `+playerColumns+` FROM players WHERE scope = $1 AND status = 'in-auction'`, scope)
	if err != nil {
		return nil, fmt.Errorf("finding in-auction player in scope %s: %w", scope, notFound(err))
	}
	return &p, nil
}

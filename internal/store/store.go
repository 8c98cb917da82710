package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jensholdgaard/draft-auction/internal/event"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Status is the auction lifecycle state of a player.
type Status string

const (
	StatusAvailable Status = "available"
	StatusInAuction Status = "in-auction"
	StatusSold      Status = "sold"
	StatusUnsold    Status = "unsold"
)

// Openable reports whether a player in this status may be put up for bidding.
func (s Status) Openable() bool {
	return s == StatusAvailable || s == StatusUnsold
}

// Player is an auction item scoped to a tournament.
type Player struct {
	ID            string    `db:"id"`
	Scope         string    `db:"scope"`
	Name          string    `db:"name"`
	Position      string    `db:"position"`
	ImageURL      string    `db:"image_url"`
	BasePrice     int       `db:"base_price"`
	CurrentPrice  int       `db:"current_price"`
	Status        Status    `db:"status"`
	CurrentBidder *string   `db:"current_bidder"`
	SoldTo        *string   `db:"sold_to"`
	SoldPrice     int       `db:"sold_price"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Leader returns the current leading bidder id, or "" when nobody leads.
func (p *Player) Leader() string {
	if p.CurrentBidder == nil {
		return ""
	}
	return *p.CurrentBidder
}

// Clone returns a deep copy of p.
func (p *Player) Clone() *Player {
	c := *p
	if p.CurrentBidder != nil {
		v := *p.CurrentBidder
		c.CurrentBidder = &v
	}
	if p.SoldTo != nil {
		v := *p.SoldTo
		c.SoldTo = &v
	}
	return &c
}

// Snapshot returns the wire representation of p.
func (p *Player) Snapshot() event.PlayerSnapshot {
	s := event.PlayerSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		Position:  p.Position,
		BasePrice: p.BasePrice,
		Price:     p.CurrentPrice,
		Leader:    p.Leader(),
		Status:    string(p.Status),
		SoldPrice: p.SoldPrice,
	}
	if p.SoldTo != nil {
		s.SoldTo = *p.SoldTo
	}
	return s
}

// Bidder is a participant account holding a budget within a scope.
type Bidder struct {
	ID         string    `db:"id"`
	Scope      string    `db:"scope"`
	ExternalID string    `db:"external_id"`
	Name       string    `db:"name"`
	TeamName   string    `db:"team_name"`
	Budget     int       `db:"budget"`
	Players    []string  `db:"-"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Clone returns a deep copy of b.
func (b *Bidder) Clone() *Bidder {
	c := *b
	c.Players = slices.Clone(b.Players)
	return &c
}

// DisplayName prefers the team name over the account name.
func (b *Bidder) DisplayName() string {
	if b.TeamName != "" {
		return b.TeamName
	}
	return b.Name
}

// Bid is an append-only audit record of an admitted bid.
type Bid struct {
	ID        string    `db:"id"`
	Scope     string    `db:"scope"`
	PlayerID  string    `db:"player_id"`
	BidderID  string    `db:"bidder_id"`
	Amount    int       `db:"amount"`
	CreatedAt time.Time `db:"created_at"`
}

// Chooser returns an index in [0, n). It drives random player selection.
type Chooser func(n int) int

// PlayerRepository defines player persistence operations.
type PlayerRepository interface {
	Create(ctx context.Context, p *Player) error
	Get(ctx context.Context, id string) (*Player, error)
	Save(ctx context.Context, p *Player) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, scope string) ([]Player, error)
	// CountAvailable counts players in the scope that can be opened, i.e.
	// available or unsold.
	CountAvailable(ctx context.Context, scope string) (int, error)
	// PickRandomAvailableOrUnsold picks uniformly among available players,
	// falling back to unsold ones. Returns ErrNotFound if neither exists.
	PickRandomAvailableOrUnsold(ctx context.Context, scope string, choose Chooser) (*Player, error)
	// FindInAuction returns the scope's in-auction player or ErrNotFound.
	FindInAuction(ctx context.Context, scope string) (*Player, error)
}

// BidderRepository defines bidder persistence operations.
type BidderRepository interface {
	Create(ctx context.Context, b *Bidder) error
	Get(ctx context.Context, id string) (*Bidder, error)
	GetByExternalID(ctx context.Context, scope, externalID string) (*Bidder, error)
	Save(ctx context.Context, b *Bidder) error
	List(ctx context.Context, scope string) ([]Bidder, error)
}

// BidRepository defines the bid audit log.
type BidRepository interface {
	Append(ctx context.Context, b *Bid) error
	ListByPlayer(ctx context.Context, playerID string) ([]Bid, error)
}

// Unit groups repositories that share one transaction.
type Unit struct {
	Players PlayerRepository
	Bidders BidderRepository
	Bids    BidRepository
	Events  event.Store
}

// Transactor runs fn within a single transaction. If fn returns an error
// nothing fn wrote is persisted.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, u Unit) error) error
}

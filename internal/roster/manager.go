// Package roster manages the players and bidders of a scope outside the
// live auction: adding and removing players, registering bidders and
// overriding budgets. Writes run through the auction engine's scope queue so
// they are ordered with bids and journaled in the same event stream.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

var (
	// ErrPlayerLocked is returned when removing a player that is in auction or sold.
	ErrPlayerLocked = errors.New("player is in auction or sold")
	// ErrDuplicate is returned when a bidder's external id is already registered.
	ErrDuplicate = errors.New("already registered")
)

// Engine runs writes inside a scope's queue.
type Engine interface {
	Exclusive(ctx context.Context, scope string, fn func(ctx context.Context, tx *auction.Tx) error) error
}

// Manager handles roster operations.
type Manager struct {
	engine Engine
	repos  *store.Repositories
	logger *slog.Logger
	tracer trace.Tracer
}

// NewManager returns a new roster Manager. Reads go to repos directly; writes
// go through engine.
func NewManager(engine Engine, repos *store.Repositories, logger *slog.Logger, tp trace.TracerProvider) *Manager {
	return &Manager{
		engine: engine,
		repos:  repos,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/draft-auction/internal/roster"),
	}
}

// NewPlayer describes a player to add.
type NewPlayer struct {
	Name      string
	Position  string
	BasePrice int
	ImageURL  string
}

// AddPlayer adds an available player to scope.
func (m *Manager) AddPlayer(ctx context.Context, scope string, np NewPlayer) (*store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.AddPlayer",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("player.name", np.Name),
			attribute.Int("player.base_price", np.BasePrice),
		),
	)
	defer span.End()

	if np.Name == "" {
		return nil, fmt.Errorf("adding player: name is required: %w", auction.ErrInvalidCommand)
	}
	if np.BasePrice <= 0 {
		return nil, fmt.Errorf("adding player: base price %d: %w", np.BasePrice, auction.ErrInvalidAmount)
	}

	p := &store.Player{
		Scope:        scope,
		Name:         np.Name,
		Position:     np.Position,
		ImageURL:     np.ImageURL,
		BasePrice:    np.BasePrice,
		CurrentPrice: np.BasePrice,
		Status:       store.StatusAvailable,
	}
	err := m.engine.Exclusive(ctx, scope, func(ctx context.Context, tx *auction.Tx) error {
		if err := tx.Players.Create(ctx, p); err != nil {
			return fmt.Errorf("creating player: %w", err)
		}
		tx.Emit(event.PlayersChanged, event.PlayersChangedData{PlayerID: p.ID, Change: "added"})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "player added",
		slog.String("scope", scope),
		slog.String("player_id", p.ID),
		slog.String("name", p.Name),
		slog.Int("base_price", p.BasePrice),
	)
	return p, nil
}

// RemovePlayer deletes an available or unsold player.
func (m *Manager) RemovePlayer(ctx context.Context, scope, playerID string) error {
	ctx, span := m.tracer.Start(ctx, "Manager.RemovePlayer",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("player.id", playerID),
		),
	)
	defer span.End()

	err := m.engine.Exclusive(ctx, scope, func(ctx context.Context, tx *auction.Tx) error {
		p, err := tx.Players.Get(ctx, playerID)
		if err != nil {
			return notFound(err)
		}
		if p.Scope != scope {
			return fmt.Errorf("player %s: %w", playerID, auction.ErrNotFound)
		}
		if !p.Status.Openable() {
			return fmt.Errorf("removing player %s (%s): %w", playerID, p.Status, ErrPlayerLocked)
		}
		if err := tx.Players.Delete(ctx, playerID); err != nil {
			return fmt.Errorf("deleting player: %w", err)
		}
		tx.Emit(event.PlayersChanged, event.PlayersChangedData{PlayerID: playerID, Change: "removed"})
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "player removed",
		slog.String("scope", scope),
		slog.String("player_id", playerID),
	)
	return nil
}

// NewBidder describes a bidder to register.
type NewBidder struct {
	ExternalID string
	Name       string
	TeamName   string
	Budget     int
}

// RegisterBidder registers a bidder with an initial budget.
func (m *Manager) RegisterBidder(ctx context.Context, scope string, nb NewBidder) (*store.Bidder, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.RegisterBidder",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("bidder.external_id", nb.ExternalID),
			attribute.Int("bidder.budget", nb.Budget),
		),
	)
	defer span.End()

	if nb.Name == "" {
		return nil, fmt.Errorf("registering bidder: name is required: %w", auction.ErrInvalidCommand)
	}
	if nb.Budget < 0 {
		return nil, fmt.Errorf("registering bidder: budget %d: %w", nb.Budget, auction.ErrInvalidAmount)
	}

	b := &store.Bidder{
		Scope:      scope,
		ExternalID: nb.ExternalID,
		Name:       nb.Name,
		TeamName:   nb.TeamName,
		Budget:     nb.Budget,
	}
	err := m.engine.Exclusive(ctx, scope, func(ctx context.Context, tx *auction.Tx) error {
		if b.ExternalID != "" {
			_, err := tx.Bidders.GetByExternalID(ctx, scope, b.ExternalID)
			switch {
			case err == nil:
				return fmt.Errorf("bidder %s: %w", b.ExternalID, ErrDuplicate)
			case !errors.Is(err, store.ErrNotFound):
				return fmt.Errorf("checking bidder: %w", err)
			}
		}
		if err := tx.Bidders.Create(ctx, b); err != nil {
			return fmt.Errorf("creating bidder: %w", err)
		}
		tx.Emit(event.BudgetsChanged, event.BudgetsChangedData{BidderID: b.ID, Budget: b.Budget, Change: "registered"})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "bidder registered",
		slog.String("scope", scope),
		slog.String("bidder_id", b.ID),
		slog.String("name", b.Name),
		slog.Int("budget", b.Budget),
	)
	return b, nil
}

// SetBudget overrides a bidder's remaining budget. A leading bid is not
// revalidated; finalizing a sale checks the budget again.
func (m *Manager) SetBudget(ctx context.Context, scope, bidderID string, budget int) (*store.Bidder, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.SetBudget",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("bidder.id", bidderID),
			attribute.Int("bidder.budget", budget),
		),
	)
	defer span.End()

	if budget < 0 {
		return nil, fmt.Errorf("setting budget: %d: %w", budget, auction.ErrInvalidAmount)
	}

	var (
		b        *store.Bidder
		previous int
	)
	err := m.engine.Exclusive(ctx, scope, func(ctx context.Context, tx *auction.Tx) error {
		var err error
		if b, err = tx.Bidders.Get(ctx, bidderID); err != nil {
			return notFound(err)
		}
		if b.Scope != scope {
			return fmt.Errorf("bidder %s: %w", bidderID, auction.ErrNotFound)
		}
		previous = b.Budget
		b.Budget = budget
		if err := tx.Bidders.Save(ctx, b); err != nil {
			return fmt.Errorf("saving bidder: %w", err)
		}
		tx.Emit(event.BudgetsChanged, event.BudgetsChangedData{BidderID: b.ID, Budget: b.Budget, Change: "override"})
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "budget overridden",
		slog.String("scope", scope),
		slog.String("bidder_id", b.ID),
		slog.Int("previous", previous),
		slog.Int("budget", budget),
	)
	return b, nil
}

// ListPlayers returns the players of scope.
func (m *Manager) ListPlayers(ctx context.Context, scope string) ([]store.Player, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListPlayers",
		trace.WithAttributes(attribute.String("auction.scope", scope)),
	)
	defer span.End()

	return m.repos.Players.List(ctx, scope)
}

// Remaining counts the players of scope that can still be opened, available
// or unsold.
func (m *Manager) Remaining(ctx context.Context, scope string) (int, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Remaining",
		trace.WithAttributes(attribute.String("auction.scope", scope)),
	)
	defer span.End()

	return m.repos.Players.CountAvailable(ctx, scope)
}

// ListBidders returns the bidders of scope.
func (m *Manager) ListBidders(ctx context.Context, scope string) ([]store.Bidder, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.ListBidders",
		trace.WithAttributes(attribute.String("auction.scope", scope)),
	)
	defer span.End()

	return m.repos.Bidders.List(ctx, scope)
}

// GetBidder returns a bidder with its remaining budget and won players.
func (m *Manager) GetBidder(ctx context.Context, scope, bidderID string) (*store.Bidder, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetBidder",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("bidder.id", bidderID),
		),
	)
	defer span.End()

	b, err := m.repos.Bidders.Get(ctx, bidderID)
	if err != nil {
		return nil, notFound(err)
	}
	if b.Scope != scope {
		return nil, fmt.Errorf("bidder %s: %w", bidderID, auction.ErrNotFound)
	}
	return b, nil
}

// GetBidderByExternalID resolves a bidder from an outside identity such as a
// chat account id.
func (m *Manager) GetBidderByExternalID(ctx context.Context, scope, externalID string) (*store.Bidder, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.GetBidderByExternalID",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("bidder.external_id", externalID),
		),
	)
	defer span.End()

	b, err := m.repos.Bidders.GetByExternalID(ctx, scope, externalID)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

// BidHistory returns the admitted bids on a player, oldest first.
func (m *Manager) BidHistory(ctx context.Context, scope, playerID string) ([]store.Bid, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.BidHistory",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.String("player.id", playerID),
		),
	)
	defer span.End()

	p, err := m.repos.Players.Get(ctx, playerID)
	if err != nil {
		return nil, notFound(err)
	}
	if p.Scope != scope {
		return nil, fmt.Errorf("player %s: %w", playerID, auction.ErrNotFound)
	}
	return m.repos.Bids.ListByPlayer(ctx, playerID)
}

// Journal returns the scope's events with a sequence greater than since.
func (m *Manager) Journal(ctx context.Context, scope string, since int64) ([]event.Event, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Journal",
		trace.WithAttributes(
			attribute.String("auction.scope", scope),
			attribute.Int64("event.since", since),
		),
	)
	defer span.End()

	return m.repos.Events.Load(ctx, scope, since)
}

// notFound maps a store miss onto the engine's ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", auction.ErrNotFound, err)
	}
	return err
}

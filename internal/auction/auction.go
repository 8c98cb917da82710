// Package auction implements the live auction engine: a per-scope state
// machine that opens one player at a time, admits bids through a single
// serialization point and broadcasts every committed transition in order.
package auction

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// transition is the planned effect of one admitted command. Nothing in it is
// visible until the scope commits it.
type transition struct {
	player *store.Player // saved; the player the command acted on
	active *store.Player // scope's active player after commit, nil when idle
	winner *store.Bidder // saved when a sale debits the budget
	bid    *store.Bid
	events []pending
}

type pending struct {
	typ     event.Type
	payload any
}

// machine decides transitions for one scope. It reads from the store but
// never writes.
type machine struct {
	scope   string
	players store.PlayerRepository
	bidders store.BidderRepository
	choose  store.Chooser
}

func (m machine) decide(ctx context.Context, active *store.Player, cmd Command) (*transition, error) {
	switch c := cmd.(type) {
	case OpenPlayer:
		return m.open(ctx, active, c)
	case OpenRandomPlayer:
		return m.openRandom(ctx, active, c)
	case SetPrice:
		return m.setPrice(active, c)
	case FinalizeSold:
		return m.finalizeSold(ctx, active, c)
	case FinalizeUnsold:
		return m.finalizeUnsold(active, c)
	case SubmitBid:
		return m.admit(ctx, active, c)
	default:
		return nil, fmt.Errorf("unsupported command %T: %w", cmd, ErrInvalidCommand)
	}
}

func (m machine) open(ctx context.Context, active *store.Player, c OpenPlayer) (*transition, error) {
	if active != nil {
		return nil, fmt.Errorf("opening %s while %s is active: %w", c.PlayerID, active.ID, ErrConflict)
	}
	p, err := m.players.Get(ctx, c.PlayerID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.Scope != m.scope) {
		return nil, fmt.Errorf("opening %s: %w", c.PlayerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading player %s: %w", c.PlayerID, err)
	}
	if !p.Status.Openable() {
		return nil, fmt.Errorf("opening %s with status %s: %w", p.ID, p.Status, ErrNotEligible)
	}
	return opened(p, c.Actor, false), nil
}

func (m machine) openRandom(ctx context.Context, active *store.Player, c OpenRandomPlayer) (*transition, error) {
	if active != nil {
		return nil, fmt.Errorf("opening random player while %s is active: %w", active.ID, ErrConflict)
	}
	p, err := m.players.PickRandomAvailableOrUnsold(ctx, m.scope, m.choose)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoPlayersAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("picking random player: %w", err)
	}
	return opened(p, c.Actor, true), nil
}

// opened resets price and leader and moves p into the auction.
func opened(p *store.Player, actor string, random bool) *transition {
	next := p.Clone()
	next.Status = store.StatusInAuction
	next.CurrentPrice = next.BasePrice
	next.CurrentBidder = nil
	return &transition{
		player: next,
		active: next,
		events: []pending{{event.AuctionOpened, event.AuctionOpenedData{
			Player:   next.Snapshot(),
			OpenedBy: actor,
			Random:   random,
		}}},
	}
}

// requireActive fails with ErrNotFound unless playerID is the active player.
func requireActive(active *store.Player, playerID string) error {
	if active == nil {
		return fmt.Errorf("no active player: %w", ErrNotFound)
	}
	if active.ID != playerID {
		return fmt.Errorf("player %s is not active (active is %s): %w", playerID, active.ID, ErrNotFound)
	}
	return nil
}

func (m machine) setPrice(active *store.Player, c SetPrice) (*transition, error) {
	if err := requireActive(active, c.PlayerID); err != nil {
		return nil, err
	}
	if c.Price < active.BasePrice {
		return nil, fmt.Errorf("price %d below base price %d: %w", c.Price, active.BasePrice, ErrInvalidAmount)
	}
	next := active.Clone()
	next.CurrentPrice = c.Price
	next.CurrentBidder = nil
	return &transition{
		player: next,
		active: next,
		events: []pending{{event.AuctionPriceSet, event.PriceSetData{Player: next.Snapshot(), SetBy: c.Actor}}},
	}, nil
}

func (m machine) finalizeSold(ctx context.Context, active *store.Player, c FinalizeSold) (*transition, error) {
	if err := requireActive(active, c.PlayerID); err != nil {
		return nil, err
	}
	leader := active.Leader()
	if leader == "" {
		return nil, fmt.Errorf("selling %s without a leading bid: %w", active.ID, ErrInvalidState)
	}
	winner, err := m.bidders.Get(ctx, leader)
	if err != nil {
		return nil, fmt.Errorf("loading winner %s: %w", leader, err)
	}
	price := active.CurrentPrice
	if winner.Budget < price {
		// Only reachable after a budget override lowered the leader's budget.
		return nil, fmt.Errorf("winner %s has %d, price is %d: %w", winner.ID, winner.Budget, price, ErrInsufficientBudget)
	}

	next := active.Clone()
	next.Status = store.StatusSold
	next.SoldTo = &leader
	next.SoldPrice = price
	next.CurrentBidder = nil

	debited := winner.Clone()
	debited.Budget -= price
	debited.Players = append(debited.Players, next.ID)

	return &transition{
		player: next,
		winner: debited,
		events: []pending{
			{event.AuctionClosed, event.AuctionClosedData{
				Player:   next.Snapshot(),
				Outcome:  event.OutcomeSold,
				WinnerID: leader,
				Amount:   price,
			}},
			{event.BudgetsChanged, event.BudgetsChangedData{
				BidderID: debited.ID,
				Budget:   debited.Budget,
				Change:   "debit",
			}},
		},
	}, nil
}

func (m machine) finalizeUnsold(active *store.Player, c FinalizeUnsold) (*transition, error) {
	if err := requireActive(active, c.PlayerID); err != nil {
		return nil, err
	}
	next := active.Clone()
	next.Status = store.StatusUnsold
	next.CurrentBidder = nil
	next.CurrentPrice = next.BasePrice
	return &transition{
		player: next,
		events: []pending{{event.AuctionClosed, event.AuctionClosedData{
			Player:  next.Snapshot(),
			Outcome: event.OutcomeUnsold,
		}}},
	}, nil
}

// admit validates a bid against the active player and the bidder's budget.
// Checks run in a fixed order and the first failure wins.
func (m machine) admit(ctx context.Context, active *store.Player, c SubmitBid) (*transition, error) {
	if active == nil || active.ID != c.PlayerID {
		return nil, fmt.Errorf("bid for %s: %w", c.PlayerID, ErrAuctionNotActive)
	}
	if c.Amount <= active.CurrentPrice {
		return nil, fmt.Errorf("bid %d, current price %d: %w", c.Amount, active.CurrentPrice, ErrBidTooLow)
	}
	bidder, err := m.bidders.Get(ctx, c.BidderID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && bidder.Scope != m.scope) {
		return nil, fmt.Errorf("bidder %s: %w", c.BidderID, ErrUnknownBidder)
	}
	if err != nil {
		return nil, fmt.Errorf("loading bidder %s: %w", c.BidderID, err)
	}
	if c.Amount > bidder.Budget {
		return nil, fmt.Errorf("bid %d, budget %d: %w", c.Amount, bidder.Budget, ErrInsufficientBudget)
	}

	previous := active.CurrentPrice
	next := active.Clone()
	next.CurrentPrice = c.Amount
	next.CurrentBidder = &bidder.ID

	bid := &store.Bid{
		ID:       uuid.NewString(),
		Scope:    m.scope,
		PlayerID: next.ID,
		BidderID: bidder.ID,
		Amount:   c.Amount,
	}
	return &transition{
		player: next,
		active: next,
		bid:    bid,
		events: []pending{{event.AuctionBidAccepted, event.BidAcceptedData{
			Player:        next.Snapshot(),
			BidID:         bid.ID,
			BidderID:      bidder.ID,
			BidderName:    bidder.DisplayName(),
			Amount:        c.Amount,
			PreviousPrice: previous,
		}}},
	}, nil
}

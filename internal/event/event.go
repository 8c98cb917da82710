package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	AuctionOpened      Type = "auction.opened"
	AuctionBidAccepted Type = "auction.bid_accepted"
	AuctionPriceSet    Type = "auction.price_set"
	AuctionClosed      Type = "auction.closed"

	PlayersChanged Type = "players.changed"
	BudgetsChanged Type = "budgets.changed"

	// Snapshot is sent to a stream subscriber before live events. It is not
	// journaled.
	Snapshot Type = "auction.snapshot"
)

// Outcome is the result carried by an AuctionClosed event.
type Outcome string

const (
	OutcomeSold   Outcome = "sold"
	OutcomeUnsold Outcome = "unsold"
)

// Event is a single notification within a scope. Sequence is assigned by the
// scope's serialization point and is strictly increasing per scope.
type Event struct {
	ID        string          `json:"id" db:"id"`
	Scope     string          `json:"scope" db:"scope"`
	Sequence  int64           `json:"sequence" db:"sequence"`
	Type      Type            `json:"type" db:"type"`
	Data      json.RawMessage `json:"data" db:"data"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// PlayerSnapshot is the full player state carried by auction events so that
// subscribers can render without another round trip.
type PlayerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Position  string `json:"position"`
	BasePrice int    `json:"base_price"`
	Price     int    `json:"price"`
	Leader    string `json:"leader,omitempty"`
	Status    string `json:"status"`
	SoldTo    string `json:"sold_to,omitempty"`
	SoldPrice int    `json:"sold_price,omitempty"`
}

// AuctionOpenedData is the payload for AuctionOpened events.
type AuctionOpenedData struct {
	Player   PlayerSnapshot `json:"player"`
	OpenedBy string         `json:"opened_by"`
	Random   bool           `json:"random"`
}

// BidAcceptedData is the payload for AuctionBidAccepted events.
type BidAcceptedData struct {
	Player        PlayerSnapshot `json:"player"`
	BidID         string         `json:"bid_id"`
	BidderID      string         `json:"bidder_id"`
	BidderName    string         `json:"bidder_name"`
	Amount        int            `json:"amount"`
	PreviousPrice int            `json:"previous_price"`
}

// PriceSetData is the payload for AuctionPriceSet events.
type PriceSetData struct {
	Player PlayerSnapshot `json:"player"`
	SetBy  string         `json:"set_by"`
}

// AuctionClosedData is the payload for AuctionClosed events.
type AuctionClosedData struct {
	Player   PlayerSnapshot `json:"player"`
	Outcome  Outcome        `json:"outcome"`
	WinnerID string         `json:"winner_id,omitempty"`
	Amount   int            `json:"amount,omitempty"`
}

// PlayersChangedData is the payload for PlayersChanged events.
type PlayersChangedData struct {
	PlayerID string `json:"player_id"`
	Change   string `json:"change"` // "added", "removed"
}

// BudgetsChangedData is the payload for BudgetsChanged events.
type BudgetsChangedData struct {
	BidderID string `json:"bidder_id"`
	Budget   int    `json:"budget"`
	Change   string `json:"change"` // "registered", "override", "debit"
}

// SnapshotData is the payload for Snapshot events. Player is nil when no
// auction is active.
type SnapshotData struct {
	Player *PlayerSnapshot `json:"player"`
}

// New builds an unsequenced event for scope with payload marshalled into Data.
func New(scope string, t Type, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshalling %s payload: %w", t, err)
	}
	return Event{Scope: scope, Type: t, Data: data}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("unmarshalling %s payload: %w", e.Type, err)
	}
	return nil
}

// Terminal reports whether the event ends an auction round.
func (e Event) Terminal() bool {
	return e.Type == AuctionClosed
}

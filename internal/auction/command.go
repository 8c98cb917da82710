package auction

import "fmt"

// Command is one of the closed set of operations processed by a scope.
type Command interface {
	// ScopeID returns the scope whose queue processes the command.
	ScopeID() string
	// Validate checks the command's fields before it is queued.
	Validate() error

	kind() string
}

// OpenPlayer puts an available or unsold player up for bidding.
type OpenPlayer struct {
	Scope    string
	PlayerID string
	Actor    string
}

// OpenRandomPlayer opens a random available player, falling back to unsold.
type OpenRandomPlayer struct {
	Scope string
	Actor string
}

// SetPrice overwrites the active player's asking price and clears the leader.
type SetPrice struct {
	Scope    string
	PlayerID string
	Price    int
	Actor    string
}

// FinalizeSold sells the active player to its leader.
type FinalizeSold struct {
	Scope    string
	PlayerID string
	Actor    string
}

// FinalizeUnsold closes the active player's round without a sale.
type FinalizeUnsold struct {
	Scope    string
	PlayerID string
	Actor    string
}

// SubmitBid offers amount for the active player on behalf of a bidder.
type SubmitBid struct {
	Scope    string
	PlayerID string
	BidderID string
	Amount   int
}

func (c OpenPlayer) ScopeID() string       { return c.Scope }
func (c OpenRandomPlayer) ScopeID() string { return c.Scope }
func (c SetPrice) ScopeID() string         { return c.Scope }
func (c FinalizeSold) ScopeID() string     { return c.Scope }
func (c FinalizeUnsold) ScopeID() string   { return c.Scope }
func (c SubmitBid) ScopeID() string        { return c.Scope }

func (OpenPlayer) kind() string       { return "open" }
func (OpenRandomPlayer) kind() string { return "open_random" }
func (SetPrice) kind() string         { return "set_price" }
func (FinalizeSold) kind() string     { return "sold" }
func (FinalizeUnsold) kind() string   { return "unsold" }
func (SubmitBid) kind() string        { return "bid" }

func (c OpenPlayer) Validate() error {
	return required(c.kind(), "scope", c.Scope, "player_id", c.PlayerID)
}

func (c OpenRandomPlayer) Validate() error {
	return required(c.kind(), "scope", c.Scope)
}

func (c SetPrice) Validate() error {
	if err := required(c.kind(), "scope", c.Scope, "player_id", c.PlayerID); err != nil {
		return err
	}
	if c.Price <= 0 {
		return fmt.Errorf("price %d must be positive: %w", c.Price, ErrInvalidAmount)
	}
	return nil
}

func (c FinalizeSold) Validate() error {
	return required(c.kind(), "scope", c.Scope, "player_id", c.PlayerID)
}

func (c FinalizeUnsold) Validate() error {
	return required(c.kind(), "scope", c.Scope, "player_id", c.PlayerID)
}

func (c SubmitBid) Validate() error {
	if err := required(c.kind(), "scope", c.Scope, "player_id", c.PlayerID, "bidder_id", c.BidderID); err != nil {
		return err
	}
	if c.Amount <= 0 {
		return fmt.Errorf("bid amount %d must be positive: %w", c.Amount, ErrInvalidAmount)
	}
	return nil
}

// required takes name/value pairs and fails on the first empty value.
func required(kind string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return fmt.Errorf("%s: %s is required: %w", kind, pairs[i], ErrInvalidCommand)
		}
	}
	return nil
}

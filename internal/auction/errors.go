package auction

import "errors"

// Rejections. They are returned synchronously and never change state.
var (
	ErrAuctionNotActive   = errors.New("player is not the active auction")
	ErrBidTooLow          = errors.New("bid must be higher than the current price")
	ErrInsufficientBudget = errors.New("insufficient budget")
	ErrConflict           = errors.New("another player is already in auction")
	ErrNotFound           = errors.New("player not found")
	ErrInvalidState       = errors.New("invalid auction state")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrUnknownBidder      = errors.New("unknown bidder")
	ErrNotEligible        = errors.New("player is not eligible for auction")
	ErrNoPlayersAvailable = errors.New("no players available for auction")
	ErrScopeClosed        = errors.New("auction engine is shut down")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrAuctionNotActive, "auction_not_active"},
	{ErrBidTooLow, "bid_too_low"},
	{ErrInsufficientBudget, "insufficient_budget"},
	{ErrConflict, "conflict"},
	{ErrNotFound, "not_found"},
	{ErrInvalidState, "invalid_state"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidCommand, "invalid_command"},
	{ErrUnknownBidder, "unknown_bidder"},
	{ErrNotEligible, "not_eligible"},
	{ErrNoPlayersAvailable, "no_players_available"},
	{ErrScopeClosed, "scope_closed"},
}

// Reason returns a stable machine-readable code for err, or "internal" when
// err is not one of the engine's rejections.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

// Rejected reports whether err is an engine rejection rather than a failure.
func Rejected(err error) bool {
	return err != nil && Reason(err) != "internal"
}

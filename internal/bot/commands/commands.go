// Package commands implements the auction's Discord slash commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// Engine is the part of the auction engine the commands drive.
type Engine interface {
	OpenPlayer(ctx context.Context, scope, playerID, actor string) (*auction.Result, error)
	OpenRandomPlayer(ctx context.Context, scope, actor string) (*auction.Result, error)
	SetPrice(ctx context.Context, scope, playerID string, price int, actor string) (*auction.Result, error)
	FinalizeSold(ctx context.Context, scope, playerID, actor string) (*auction.Result, error)
	FinalizeUnsold(ctx context.Context, scope, playerID, actor string) (*auction.Result, error)
	SubmitBid(ctx context.Context, scope, playerID, bidderID string, amount int) (*auction.Result, error)
	Active(ctx context.Context, scope string) (auction.View, error)
}

// Roster resolves players and bidders.
type Roster interface {
	ListPlayers(ctx context.Context, scope string) ([]store.Player, error)
	Remaining(ctx context.Context, scope string) (int, error)
	GetBidderByExternalID(ctx context.Context, scope, externalID string) (*store.Bidder, error)
}

// Handlers process Discord interactions for one scope.
type Handlers struct {
	engine Engine
	roster Roster
	scope  string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandlers creates new command handlers bound to scope.
func NewHandlers(engine Engine, rm Roster, scope string, logger *slog.Logger, tp trace.TracerProvider) *Handlers {
	return &Handlers{
		engine: engine,
		roster: rm,
		scope:  scope,
		logger: logger,
		tracer: tp.Tracer("github.com/jensholdgaard/draft-auction/internal/bot/commands"),
	}
}

// SlashCommands returns the slash command definitions.
func SlashCommands() []*discordgo.ApplicationCommand {
	player := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "player",
		Description: "Player name or id",
		Required:    true,
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:        "auction-open",
			Description: "Put a player up for bidding (admin only)",
			Options:     []*discordgo.ApplicationCommandOption{player},
		},
		{
			Name:        "auction-random",
			Description: "Put a random available player up for bidding (admin only)",
		},
		{
			Name:        "auction-price",
			Description: "Override the current price (admin only)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "price",
					Description: "New price",
					Required:    true,
				},
			},
		},
		{
			Name:        "auction-sold",
			Description: "Sell the active player to the leading bidder (admin only)",
		},
		{
			Name:        "auction-unsold",
			Description: "Close the active player without a sale (admin only)",
		},
		{
			Name:        "bid",
			Description: "Bid on the active player",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "amount",
					Description: "Bid amount",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "player",
					Description: "Player name or id the bid is for; rejected if another player is in auction",
				},
			},
		},
		{
			Name:        "auction-status",
			Description: "Show the player currently in auction",
		},
		{
			Name:        "budget",
			Description: "Show your remaining budget",
		},
	}
}

// Invocation is a slash command reduced to what the handlers need.
type Invocation struct {
	Name    string
	UserID  string
	Admin   bool
	Strings map[string]string
	Ints    map[string]int64
}

// FromInteraction extracts an Invocation from a Discord interaction.
func FromInteraction(i *discordgo.InteractionCreate) Invocation {
	data := i.ApplicationCommandData()
	inv := Invocation{
		Name:    data.Name,
		Strings: make(map[string]string),
		Ints:    make(map[string]int64),
	}
	switch {
	case i.Member != nil:
		inv.UserID = i.Member.User.ID
		inv.Admin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	case i.User != nil:
		inv.UserID = i.User.ID
	}
	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			inv.Strings[opt.Name] = opt.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			inv.Ints[opt.Name] = opt.IntValue()
		}
	}
	return inv
}

// InteractionCreate handles incoming slash command interactions.
func (h *Handlers) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	msg := h.Dispatch(context.Background(), FromInteraction(i))
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: msg},
	}); err != nil {
		h.logger.Error("responding to interaction", slog.Any("error", err))
	}
}

// Dispatch runs inv and returns the reply text.
func (h *Handlers) Dispatch(ctx context.Context, inv Invocation) string {
	ctx, span := h.tracer.Start(ctx, "InteractionCreate",
		trace.WithAttributes(
			attribute.String("command", inv.Name),
			attribute.String("auction.scope", h.scope),
		),
	)
	defer span.End()

	switch inv.Name {
	case "auction-open", "auction-random", "auction-price", "auction-sold", "auction-unsold":
		if !inv.Admin {
			return "Only administrators can run the auction."
		}
	}

	switch inv.Name {
	case "auction-open":
		return h.handleOpen(ctx, inv)
	case "auction-random":
		return h.result(h.engine.OpenRandomPlayer(ctx, h.scope, inv.UserID))
	case "auction-price":
		return h.onActive(ctx, func(p *store.Player) (*auction.Result, error) {
			return h.engine.SetPrice(ctx, h.scope, p.ID, int(inv.Ints["price"]), inv.UserID)
		})
	case "auction-sold":
		return h.onActive(ctx, func(p *store.Player) (*auction.Result, error) {
			return h.engine.FinalizeSold(ctx, h.scope, p.ID, inv.UserID)
		})
	case "auction-unsold":
		return h.onActive(ctx, func(p *store.Player) (*auction.Result, error) {
			return h.engine.FinalizeUnsold(ctx, h.scope, p.ID, inv.UserID)
		})
	case "bid":
		return h.handleBid(ctx, inv)
	case "auction-status":
		return h.handleStatus(ctx)
	case "budget":
		return h.handleBudget(ctx, inv)
	default:
		return "Unknown command"
	}
}

func (h *Handlers) handleOpen(ctx context.Context, inv Invocation) string {
	p, reply := h.resolvePlayer(ctx, inv.Strings["player"])
	if p == nil {
		return reply
	}
	return h.result(h.engine.OpenPlayer(ctx, h.scope, p.ID, inv.UserID))
}

// resolvePlayer finds a player by id or case-insensitive name. When no single
// player matches it returns nil and the reply to send.
func (h *Handlers) resolvePlayer(ctx context.Context, query string) (*store.Player, string) {
	query = strings.TrimSpace(query)
	players, err := h.roster.ListPlayers(ctx, h.scope)
	if err != nil {
		return nil, h.failure(ctx, "listing players", err)
	}
	var matches []store.Player
	for _, p := range players {
		if p.ID == query {
			matches = []store.Player{p}
			break
		}
		if strings.EqualFold(p.Name, query) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Sprintf("No player named **%s**.", query)
	case 1:
		return &matches[0], ""
	default:
		return nil, fmt.Sprintf("%d players are named **%s**; use the player id.", len(matches), query)
	}
}

// handleBid bids on the named player when the player option is set, so a bid
// typed for one player is rejected once another has been opened. Without it
// the bid goes to whichever player is active.
func (h *Handlers) handleBid(ctx context.Context, inv Invocation) string {
	bidder, err := h.roster.GetBidderByExternalID(ctx, h.scope, inv.UserID)
	if errors.Is(err, auction.ErrNotFound) {
		return "You are not registered as a bidder in this auction."
	}
	if err != nil {
		return h.failure(ctx, "resolving bidder", err)
	}
	amount := int(inv.Ints["amount"])
	if query, ok := inv.Strings["player"]; ok && strings.TrimSpace(query) != "" {
		p, reply := h.resolvePlayer(ctx, query)
		if p == nil {
			return reply
		}
		return h.result(h.engine.SubmitBid(ctx, h.scope, p.ID, bidder.ID, amount))
	}
	return h.onActive(ctx, func(p *store.Player) (*auction.Result, error) {
		return h.engine.SubmitBid(ctx, h.scope, p.ID, bidder.ID, amount)
	})
}

func (h *Handlers) handleStatus(ctx context.Context) string {
	view, err := h.engine.Active(ctx, h.scope)
	if err != nil {
		return h.failure(ctx, "reading auction state", err)
	}
	remaining, err := h.roster.Remaining(ctx, h.scope)
	if err != nil {
		return h.failure(ctx, "counting players", err)
	}
	if view.Active == nil {
		return fmt.Sprintf("No player is in auction. %d left to auction.", remaining)
	}
	return fmt.Sprintf("%s\n%d left to auction.", describe(view.Active), remaining)
}

func (h *Handlers) handleBudget(ctx context.Context, inv Invocation) string {
	b, err := h.roster.GetBidderByExternalID(ctx, h.scope, inv.UserID)
	if errors.Is(err, auction.ErrNotFound) {
		return "You are not registered as a bidder in this auction."
	}
	if err != nil {
		return h.failure(ctx, "resolving bidder", err)
	}
	return fmt.Sprintf("**%s**: budget **%d**, players won: %d", b.DisplayName(), b.Budget, len(b.Players))
}

// onActive runs fn against the scope's active player.
func (h *Handlers) onActive(ctx context.Context, fn func(p *store.Player) (*auction.Result, error)) string {
	view, err := h.engine.Active(ctx, h.scope)
	if err != nil {
		return h.failure(ctx, "reading auction state", err)
	}
	if view.Active == nil {
		return "No player is in auction."
	}
	return h.result(fn(view.Active))
}

func (h *Handlers) result(res *auction.Result, err error) string {
	if err != nil {
		if auction.Rejected(err) {
			return rejection(err)
		}
		return h.failure(context.Background(), "running command", err)
	}
	return describe(&res.Player)
}

func (h *Handlers) failure(ctx context.Context, what string, err error) string {
	h.logger.ErrorContext(ctx, "command failed",
		slog.String("scope", h.scope),
		slog.String("step", what),
		slog.Any("error", err),
	)
	return "Something went wrong, try again."
}

func rejection(err error) string {
	switch {
	case errors.Is(err, auction.ErrBidTooLow):
		return "Bid rejected: it must be higher than the current price."
	case errors.Is(err, auction.ErrInsufficientBudget):
		return "Bid rejected: not enough budget."
	case errors.Is(err, auction.ErrAuctionNotActive):
		return "That player is not in auction anymore."
	case errors.Is(err, auction.ErrConflict):
		return "Another player is already in auction."
	case errors.Is(err, auction.ErrNoPlayersAvailable):
		return "No players are left to auction."
	case errors.Is(err, auction.ErrInvalidState):
		return "Nobody has bid on this player."
	default:
		return "Rejected: " + auction.Reason(err) + "."
	}
}

func describe(p *store.Player) string {
	switch p.Status {
	case store.StatusInAuction:
		if p.CurrentBidder == nil {
			return fmt.Sprintf("**%s** (%s) is in auction at **%d**, no bids yet.", p.Name, p.Position, p.CurrentPrice)
		}
		return fmt.Sprintf("**%s** (%s) is in auction at **%d**.", p.Name, p.Position, p.CurrentPrice)
	case store.StatusSold:
		return fmt.Sprintf("**%s** sold for **%d**.", p.Name, p.SoldPrice)
	case store.StatusUnsold:
		return fmt.Sprintf("**%s** went unsold.", p.Name)
	default:
		return fmt.Sprintf("**%s** is %s.", p.Name, p.Status)
	}
}

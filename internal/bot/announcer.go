package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/draft-auction/internal/broadcast"
	"github.com/jensholdgaard/draft-auction/internal/event"
)

// Sender posts a message to a channel. *discordgo.Session implements it.
type Sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts a scope's auction events to a channel.
type Announcer struct {
	hub     *broadcast.Hub
	sender  Sender
	scope   string
	channel string
	buffer  int
	logger  *slog.Logger
}

// NewAnnouncer returns an Announcer for scope.
func NewAnnouncer(hub *broadcast.Hub, sender Sender, scope, channel string, buffer int, logger *slog.Logger) *Announcer {
	return &Announcer{
		hub:     hub,
		sender:  sender,
		scope:   scope,
		channel: channel,
		buffer:  buffer,
		logger:  logger,
	}
}

// Run announces events until ctx is cancelled. If the announcer falls behind
// it resubscribes and carries on from the live stream.
func (a *Announcer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		sub := a.hub.Subscribe(a.scope, a.buffer)
		a.consume(ctx, sub)
		sub.Close()
		if ctx.Err() == nil {
			a.logger.WarnContext(ctx, "announcer fell behind, resubscribing")
		}
	}
}

func (a *Announcer) consume(ctx context.Context, sub *broadcast.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			msg, err := Announcement(e)
			if err != nil {
				a.logger.ErrorContext(ctx, "formatting announcement",
					slog.String("type", string(e.Type)),
					slog.Int64("sequence", e.Sequence),
					slog.Any("error", err),
				)
				continue
			}
			if msg == "" {
				continue
			}
			if _, err := a.sender.ChannelMessageSend(a.channel, msg); err != nil {
				a.logger.ErrorContext(ctx, "posting announcement",
					slog.String("channel", a.channel),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Announcement renders e as a chat message. Events that are not announced
// return "".
func Announcement(e event.Event) (string, error) {
	switch e.Type {
	case event.AuctionOpened:
		var d event.AuctionOpenedData
		if err := e.Decode(&d); err != nil {
			return "", err
		}
		return fmt.Sprintf("🔨 **%s** (%s) is up for auction. Base price **%d**.",
			d.Player.Name, d.Player.Position, d.Player.BasePrice), nil
	case event.AuctionBidAccepted:
		var d event.BidAcceptedData
		if err := e.Decode(&d); err != nil {
			return "", err
		}
		return fmt.Sprintf("**%s** bids **%d** for **%s**.", d.BidderName, d.Amount, d.Player.Name), nil
	case event.AuctionPriceSet:
		var d event.PriceSetData
		if err := e.Decode(&d); err != nil {
			return "", err
		}
		return fmt.Sprintf("Price for **%s** set to **%d**.", d.Player.Name, d.Player.Price), nil
	case event.AuctionClosed:
		var d event.AuctionClosedData
		if err := e.Decode(&d); err != nil {
			return "", err
		}
		if d.Outcome == event.OutcomeSold {
			return fmt.Sprintf("✅ **%s** sold for **%d**.", d.Player.Name, d.Amount), nil
		}
		return fmt.Sprintf("**%s** went unsold.", d.Player.Name), nil
	default:
		return "", nil
	}
}

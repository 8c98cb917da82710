// Package bot runs the Discord surface of the auction: slash commands for
// one guild and an announcer that posts auction events to a channel.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/draft-auction/internal/bot/commands"
	"github.com/jensholdgaard/draft-auction/internal/broadcast"
	"github.com/jensholdgaard/draft-auction/internal/config"
)

// Bot wraps the Discord session and command handlers.
type Bot struct {
	session   *discordgo.Session
	cfg       config.DiscordConfig
	logger    *slog.Logger
	handlers  *commands.Handlers
	announcer *Announcer
	cmds      []*discordgo.ApplicationCommand
}

// New creates a new Bot instance bound to cfg.Scope.
func New(cfg config.DiscordConfig, engine commands.Engine, rm commands.Roster, hub *broadcast.Hub, buffer int, logger *slog.Logger, tp trace.TracerProvider) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	logger = logger.With(slog.String("scope", cfg.Scope))

	b := &Bot{
		session:  session,
		cfg:      cfg,
		logger:   logger,
		handlers: commands.NewHandlers(engine, rm, cfg.Scope, logger, tp),
	}
	if cfg.ChannelID != "" {
		b.announcer = NewAnnouncer(hub, session, cfg.Scope, cfg.ChannelID, buffer, logger)
	}
	return b, nil
}

// Run opens the Discord connection, registers slash commands and announces
// events until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := b.Stop(); err != nil {
			b.logger.Error("stopping bot", slog.Any("error", err))
		}
	}()

	if b.announcer != nil {
		b.announcer.Run(ctx)
		return nil
	}
	<-ctx.Done()
	return nil
}

// Start opens the Discord connection and registers slash commands.
func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.InfoContext(ctx, "bot is ready", slog.String("user", s.State.User.Username))
	})

	b.session.AddHandler(b.handlers.InteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, b.cfg.GuildID, commands.SlashCommands())
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	b.cmds = registered

	b.logger.InfoContext(ctx, "slash commands registered", slog.Int("count", len(registered)))
	return nil
}

// Stop removes the registered commands and closes the Discord connection.
func (b *Bot) Stop() error {
	for _, cmd := range b.cmds {
		if err := b.session.ApplicationCommandDelete(b.session.State.User.ID, b.cfg.GuildID, cmd.ID); err != nil {
			b.logger.Error("failed to delete command", slog.String("command", cmd.Name), slog.Any("error", err))
		}
	}
	return b.session.Close()
}

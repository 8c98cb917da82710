package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/bot"
	"github.com/jensholdgaard/draft-auction/internal/broadcast"
	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/config"
	"github.com/jensholdgaard/draft-auction/internal/health"
	"github.com/jensholdgaard/draft-auction/internal/httpapi"
	"github.com/jensholdgaard/draft-auction/internal/leader"
	"github.com/jensholdgaard/draft-auction/internal/roster"
	"github.com/jensholdgaard/draft-auction/internal/store"
	"github.com/jensholdgaard/draft-auction/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/draft-auction/internal/store/memory"
	_ "github.com/jensholdgaard/draft-auction/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var err error
	switch flag.Arg(0) {
	case "", "serve":
		err = run(*configPath)
	case "token":
		err = issueToken(*configPath, flag.Args()[1:])
	default:
		err = fmt.Errorf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

// issueToken prints a signed bearer token for an operator or bidder.
func issueToken(configPath string, args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "", "subject: bidder id for bidders, operator name for admins")
	role := fs.String("role", httpapi.RoleBidder, "admin or bidder")
	scope := fs.String("scope", "", "scope the token is valid for, or * for all")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sub == "" || *scope == "" {
		return errors.New("token: -sub and -scope are required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(*sub, *role, *scope, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry, os.Stdout)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	hub := broadcast.NewHub(logger)
	sinks, closeSinks, err := openSinks(ctx, cfg.Broadcast, healthHandler)
	if err != nil {
		return err
	}
	defer closeSinks()

	// The health server runs on every replica; readiness follows leadership.
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           healthHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	elector := leader.New(cfg.LeaderElection, logger)
	healthHandler.AddChecker(health.Checker{Name: "leader", Check: elector.Check})
	logger.InfoContext(ctx, "starting draftauction",
		slog.String("version", version),
		slog.String("identity", elector.Identity()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "starting health server", slog.Int("port", cfg.Server.HealthPort))
		return serve(gctx, healthServer, cfg.Server.ShutdownTimeout)
	})

	g.Go(func() error {
		err := elector.Run(gctx, func(ctx context.Context) error {
			return lead(ctx, cfg, repos, hub, sinks, healthHandler, tp, logger, clk)
		})
		if err != nil {
			return fmt.Errorf("leader election: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// lead runs the single-writer part of the service: the auction engine, the
// API, the sink relays and the Discord bot. It returns when ctx is done.
func lead(ctx context.Context, cfg *config.Config, repos *store.Repositories, hub *broadcast.Hub, sinks []broadcast.Sink, hh *health.Handler, tp *telemetry.Provider, logger *slog.Logger, clk clock.Clock) error {
	engine, err := auction.NewManager(repos, hub, logger, tp.TracerProvider, tp.MeterProvider, clk)
	if err != nil {
		return fmt.Errorf("creating auction engine: %w", err)
	}
	defer engine.Close()

	rm := roster.NewManager(engine, repos, logger, tp.TracerProvider)
	auth := httpapi.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	api := httpapi.NewServer(engine, rm, hub, auth, hh, logger, httpapi.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		SubscriberBuffer: cfg.Broadcast.SubscriberBuffer,
	})

	var discordBot *bot.Bot
	if cfg.Discord.Enabled {
		discordBot, err = bot.New(cfg.Discord, engine, rm, hub, cfg.Broadcast.SubscriberBuffer, logger, tp.TracerProvider)
		if err != nil {
			return fmt.Errorf("creating bot: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(api.Handler(), "draftauction.api"),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		// Websocket streams end when leadership or the process ends.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		logger.InfoContext(gctx, "starting api server", slog.Int("port", cfg.Server.Port))
		return serve(gctx, apiServer, cfg.Server.ShutdownTimeout)
	})

	for _, sink := range sinks {
		relay := broadcast.NewRelay(hub, repos.Events, sink, cfg.Broadcast.SubscriberBuffer, logger)
		g.Go(func() error { return relay.Run(gctx) })
	}

	if discordBot != nil {
		g.Go(func() error { return discordBot.Run(gctx) })
	}

	hh.SetReady(true)
	defer hh.SetReady(false)
	logger.InfoContext(ctx, "draftauction is running (leader)", slog.String("version", version))

	return g.Wait()
}

// openSinks connects the configured external sinks and registers their
// readiness checks.
func openSinks(ctx context.Context, cfg config.BroadcastConfig, hh *health.Handler) ([]broadcast.Sink, func(), error) {
	var (
		sinks   []broadcast.Sink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Redis.Enabled {
		rs, err := broadcast.NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, rs)
		closers = append(closers, rs.Close)
		hh.AddChecker(health.Checker{Name: "redis", Check: rs.Ping})
	}
	if cfg.Kafka.Enabled {
		ks, err := broadcast.NewKafkaSink(cfg.Kafka)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, ks)
		closers = append(closers, ks.Close)
	}
	return sinks, closeAll, nil
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, srv *http.Server, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s: %w", srv.Addr, err)
	}
	return nil
}

package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

const instrumentationName = "github.com/jensholdgaard/draft-auction/internal/auction"

// Publisher receives committed events in admission order.
type Publisher interface {
	Publish(e event.Event)
}

// Manager routes commands to one actor per scope. Scopes are independent:
// a slow command in one never delays another.
type Manager struct {
	mu     sync.Mutex
	scopes map[string]*scope
	closed bool
	wg     sync.WaitGroup

	repos     store.Unit
	tx        store.Transactor
	pub       Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics
	clock     clock.Clock
	choose    store.Chooser
	inboxSize int
}

// Option configures a Manager.
type Option func(*Manager)

// WithChooser overrides the random source used by OpenRandomPlayer.
func WithChooser(c store.Chooser) Option {
	return func(m *Manager) { m.choose = c }
}

// WithInboxSize sets how many commands may wait in a scope's queue before
// senders block.
func WithInboxSize(n int) Option {
	return func(m *Manager) { m.inboxSize = n }
}

// NewManager creates a new auction Manager.
func NewManager(repos *store.Repositories, pub Publisher, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, clk clock.Clock, opts ...Option) (*Manager, error) {
	met, err := newMetrics(mp)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		scopes:    make(map[string]*scope),
		repos:     repos.Unit,
		tx:        repos.Tx,
		pub:       pub,
		logger:    logger,
		tracer:    tp.Tracer(instrumentationName),
		metrics:   met,
		clock:     clk,
		choose:    rand.IntN,
		inboxSize: 256,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// OpenPlayer opens playerID for bidding in scope.
func (m *Manager) OpenPlayer(ctx context.Context, scope, playerID, actor string) (*Result, error) {
	return m.Execute(ctx, OpenPlayer{Scope: scope, PlayerID: playerID, Actor: actor})
}

// OpenRandomPlayer opens a random available player, falling back to unsold.
func (m *Manager) OpenRandomPlayer(ctx context.Context, scope, actor string) (*Result, error) {
	return m.Execute(ctx, OpenRandomPlayer{Scope: scope, Actor: actor})
}

// SetPrice overwrites the active player's price and clears its leader.
func (m *Manager) SetPrice(ctx context.Context, scope, playerID string, price int, actor string) (*Result, error) {
	return m.Execute(ctx, SetPrice{Scope: scope, PlayerID: playerID, Price: price, Actor: actor})
}

// FinalizeSold sells the active player to its leader and debits the budget.
func (m *Manager) FinalizeSold(ctx context.Context, scope, playerID, actor string) (*Result, error) {
	return m.Execute(ctx, FinalizeSold{Scope: scope, PlayerID: playerID, Actor: actor})
}

// FinalizeUnsold closes the active player's round without a sale.
func (m *Manager) FinalizeUnsold(ctx context.Context, scope, playerID, actor string) (*Result, error) {
	return m.Execute(ctx, FinalizeUnsold{Scope: scope, PlayerID: playerID, Actor: actor})
}

// SubmitBid offers amount for playerID on behalf of bidderID.
func (m *Manager) SubmitBid(ctx context.Context, scope, playerID, bidderID string, amount int) (*Result, error) {
	return m.Execute(ctx, SubmitBid{Scope: scope, PlayerID: playerID, BidderID: bidderID, Amount: amount})
}

// Execute validates cmd and runs it through its scope's queue.
func (m *Manager) Execute(ctx context.Context, cmd Command) (*Result, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Execute",
		trace.WithAttributes(
			attribute.String("auction.scope", cmd.ScopeID()),
			attribute.String("auction.command", cmd.kind()),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := m.execute(ctx, cmd)
	m.metrics.observe(ctx, cmd.kind(), err, time.Since(start))

	if err != nil {
		span.SetAttributes(attribute.String("auction.reason", Reason(err)))
		if Rejected(err) || errors.Is(err, context.Canceled) {
			m.logger.DebugContext(ctx, "command rejected",
				slog.String("scope", cmd.ScopeID()),
				slog.String("command", cmd.kind()),
				slog.String("reason", Reason(err)),
				slog.Any("error", err),
			)
		} else {
			m.logger.ErrorContext(ctx, "command failed",
				slog.String("scope", cmd.ScopeID()),
				slog.String("command", cmd.kind()),
				slog.Any("error", err),
			)
		}
	}
	return res, err
}

func (m *Manager) execute(ctx context.Context, cmd Command) (*Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	s, err := m.scope(cmd.ScopeID())
	if err != nil {
		return nil, err
	}
	return s.send(ctx, &request{cmd: cmd})
}

// Exclusive runs fn in scope's queue inside one store transaction. Events
// emitted through tx are journaled in that transaction and published after
// it commits. fn must not modify the scope's in-auction player.
func (m *Manager) Exclusive(ctx context.Context, scopeID string, fn func(ctx context.Context, tx *Tx) error) error {
	ctx, span := m.tracer.Start(ctx, "Manager.Exclusive",
		trace.WithAttributes(attribute.String("auction.scope", scopeID)),
	)
	defer span.End()

	if scopeID == "" {
		return fmt.Errorf("exclusive: scope is required: %w", ErrInvalidCommand)
	}
	s, err := m.scope(scopeID)
	if err != nil {
		return err
	}
	_, err = s.send(ctx, &request{fn: fn})
	return err
}

// Active returns the scope's last committed state without entering its
// queue. Scopes that have not processed a command yet are read from the store.
func (m *Manager) Active(ctx context.Context, scopeID string) (View, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.Active",
		trace.WithAttributes(attribute.String("auction.scope", scopeID)),
	)
	defer span.End()

	m.mu.Lock()
	s := m.scopes[scopeID]
	m.mu.Unlock()
	if s != nil {
		if v := s.view.Load(); v != nil {
			return *v, nil
		}
	}

	// Read the sequence before the player: the view may pair a newer player
	// with an older sequence, never the reverse.
	v := View{Scope: scopeID}
	seq, err := m.repos.Events.LastSequence(ctx, scopeID)
	if err != nil {
		return View{}, fmt.Errorf("reading event sequence: %w", err)
	}
	v.Sequence = seq
	active, err := m.repos.Players.FindInAuction(ctx, scopeID)
	switch {
	case err == nil:
		v.Active = active
	case !errors.Is(err, store.ErrNotFound):
		return View{}, fmt.Errorf("reading active player: %w", err)
	}
	return v, nil
}

// Close stops every scope. Queued commands fail with ErrScopeClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	scopes := make([]*scope, 0, len(m.scopes))
	for _, s := range m.scopes {
		scopes = append(scopes, s)
	}
	m.mu.Unlock()

	for _, s := range scopes {
		s.close()
	}
	m.wg.Wait()
	m.logger.Info("auction manager stopped", slog.Int("scopes", len(scopes)))
}

func (m *Manager) scope(id string) (*scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrScopeClosed
	}
	s, ok := m.scopes[id]
	if !ok {
		s = newScope(id, m)
		m.scopes[id] = s
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.run()
		}()
	}
	return s, nil
}

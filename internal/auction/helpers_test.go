package auction_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
	"github.com/jensholdgaard/draft-auction/internal/store/memory"
)

const testScope = "ipl-2026"

var (
	testTP     = noop.NewTracerProvider()
	testMP     = metricnoop.NewMeterProvider()
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

	errStoreDown = errors.New("store unavailable")
)

// recorder is a Publisher that keeps every event it receives.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Publish(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

func (r *recorder) Types() []event.Type {
	var types []event.Type
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}

// faultyTx runs the transaction body and then fails the commit while fail is
// set, so the body's writes are discarded. While lost is set the transaction
// commits but the caller still gets an error, like a commit whose
// acknowledgement never arrived.
type faultyTx struct {
	store.Transactor
	mu   sync.Mutex
	fail bool
	lost bool
}

func (f *faultyTx) SetFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *faultyTx) SetLostAck(v bool) {
	f.mu.Lock()
	f.lost = v
	f.mu.Unlock()
}

func (f *faultyTx) WithinTx(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	f.mu.Lock()
	lost := f.lost
	f.mu.Unlock()
	if lost {
		if err := f.Transactor.WithinTx(ctx, fn); err != nil {
			return err
		}
		return errStoreDown
	}
	return f.Transactor.WithinTx(ctx, func(ctx context.Context, u store.Unit) error {
		if err := fn(ctx, u); err != nil {
			return err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.fail {
			return errStoreDown
		}
		return nil
	})
}

type gateKey struct{}

// gatedTx blocks transactions whose context carries a gate until it closes.
type gatedTx struct {
	store.Transactor
}

func (g gatedTx) WithinTx(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	if gate, ok := ctx.Value(gateKey{}).(chan struct{}); ok {
		<-gate
	}
	return g.Transactor.WithinTx(ctx, fn)
}

type fixture struct {
	m     *auction.Manager
	repos *store.Repositories
	pub   *recorder
	tx    *faultyTx
	clk   *clock.Mock
}

func newFixture(t *testing.T, opts ...auction.Option) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC))
	repos := memory.New(clk).Repositories()
	return newFixtureWith(t, repos, clk, opts...)
}

func newFixtureWith(t *testing.T, repos *store.Repositories, clk *clock.Mock, opts ...auction.Option) *fixture {
	t.Helper()
	tx := &faultyTx{Transactor: gatedTx{repos.Tx}}
	engineRepos := *repos
	engineRepos.Tx = tx

	pub := &recorder{}
	m, err := auction.NewManager(&engineRepos, pub, testLogger, testTP, testMP, clk, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return &fixture{m: m, repos: repos, pub: pub, tx: tx, clk: clk}
}

func (f *fixture) player(t *testing.T, name string, base int) *store.Player {
	t.Helper()
	return f.playerWithStatus(t, name, base, store.StatusAvailable)
}

func (f *fixture) playerWithStatus(t *testing.T, name string, base int, status store.Status) *store.Player {
	t.Helper()
	p := &store.Player{Scope: testScope, Name: name, Position: "batter", BasePrice: base, CurrentPrice: base, Status: status}
	if err := f.repos.Players.Create(context.Background(), p); err != nil {
		t.Fatalf("creating player %s: %v", name, err)
	}
	f.clk.Advance(time.Second)
	return p
}

func (f *fixture) bidder(t *testing.T, name string, budget int) *store.Bidder {
	t.Helper()
	b := &store.Bidder{Scope: testScope, Name: name, Budget: budget}
	if err := f.repos.Bidders.Create(context.Background(), b); err != nil {
		t.Fatalf("creating bidder %s: %v", name, err)
	}
	return b
}

func (f *fixture) storedPlayer(t *testing.T, id string) *store.Player {
	t.Helper()
	p, err := f.repos.Players.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("loading player %s: %v", id, err)
	}
	return p
}

func (f *fixture) storedBidder(t *testing.T, id string) *store.Bidder {
	t.Helper()
	b, err := f.repos.Bidders.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("loading bidder %s: %v", id, err)
	}
	return b
}

// must fails the test when the wrapped call returns an error:
// must(t)(f.m.OpenPlayer(...)).
func must(t *testing.T) func(*auction.Result, error) *auction.Result {
	return func(res *auction.Result, err error) *auction.Result {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return res
	}
}

func wantErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}

// hookedReads runs hook once, right after the first FindInAuction or
// LastSequence read, to slip a commit between two store reads.
type hookedReads struct {
	store.PlayerRepository
	events event.Store
	fired  atomic.Bool
	hook   func()
}

func (h *hookedReads) fire() {
	if h.hook != nil && h.fired.CompareAndSwap(false, true) {
		h.hook()
	}
}

func (h *hookedReads) FindInAuction(ctx context.Context, scope string) (*store.Player, error) {
	p, err := h.PlayerRepository.FindInAuction(ctx, scope)
	h.fire()
	return p, err
}

func (h *hookedReads) Append(ctx context.Context, events ...event.Event) error {
	return h.events.Append(ctx, events...)
}

func (h *hookedReads) Load(ctx context.Context, scope string, after int64) ([]event.Event, error) {
	return h.events.Load(ctx, scope, after)
}

func (h *hookedReads) LastSequence(ctx context.Context, scope string) (int64, error) {
	seq, err := h.events.LastSequence(ctx, scope)
	h.fire()
	return seq, err
}

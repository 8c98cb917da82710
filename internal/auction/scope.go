package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// View is a read-only snapshot of a scope's state.
type View struct {
	Scope    string
	Active   *store.Player // nil when the scope is idle
	Sequence int64         // last committed event sequence
}

// Result describes a committed command.
type Result struct {
	Player store.Player
	Winner *store.Bidder // set by FinalizeSold
	Events []event.Event
}

// Tx is passed to Exclusive callbacks. Writes through the embedded Unit and
// events recorded with Emit commit together.
type Tx struct {
	store.Unit
	Scope string

	pending []pending
}

// Emit records an event to journal and publish once the transaction commits.
func (t *Tx) Emit(typ event.Type, payload any) {
	t.pending = append(t.pending, pending{typ: typ, payload: payload})
}

type request struct {
	ctx   context.Context
	cmd   Command
	fn    func(ctx context.Context, tx *Tx) error
	reply chan response
}

type response struct {
	result *Result
	err    error
}

// scope is the actor that owns one scope's state. Everything below inbox is
// touched only by the run goroutine.
type scope struct {
	id      string
	m       *Manager
	machine machine
	logger  *slog.Logger

	mu     sync.RWMutex // guards closed against concurrent senders
	closed bool
	inbox  chan *request
	quit   chan struct{}
	done   chan struct{}

	view atomic.Pointer[View]

	loaded bool
	active *store.Player
	seq    int64
}

func newScope(id string, m *Manager) *scope {
	return &scope{
		id: id,
		m:  m,
		machine: machine{
			scope:   id,
			players: m.repos.Players,
			bidders: m.repos.Bidders,
			choose:  m.choose,
		},
		logger: m.logger.With(slog.String("scope", id)),
		inbox:  make(chan *request, m.inboxSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// send queues req and waits for the actor's reply. A request whose context
// is cancelled before it is dequeued is skipped without effect.
func (s *scope) send(ctx context.Context, req *request) (*Result, error) {
	req.ctx = ctx
	req.reply = make(chan response, 1)

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrScopeClosed
	}
	select {
	case s.inbox <- req:
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}
	s.mu.RUnlock()

	r := <-req.reply
	return r.result, r.err
}

func (s *scope) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.quit)
	<-s.done
}

func (s *scope) run() {
	defer close(s.done)
	for {
		select {
		case req := <-s.inbox:
			s.handle(req)
		case <-s.quit:
			for {
				select {
				case req := <-s.inbox:
					req.reply <- response{err: ErrScopeClosed}
				default:
					return
				}
			}
		}
	}
}

func (s *scope) handle(req *request) {
	if err := req.ctx.Err(); err != nil {
		req.reply <- response{err: err}
		return
	}
	if err := s.load(req.ctx); err != nil {
		req.reply <- response{err: err}
		return
	}

	var resp response
	if req.cmd != nil {
		resp.result, resp.err = s.apply(req.ctx, req.cmd)
	} else {
		resp.result, resp.err = s.exclusive(req.ctx, req.fn)
	}
	req.reply <- resp
}

// load recovers the active player and the journal position from the store
// the first time the scope is used.
func (s *scope) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	active, err := s.m.repos.Players.FindInAuction(ctx, s.id)
	if errors.Is(err, store.ErrNotFound) {
		active, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("recovering active player: %w", err)
	}
	seq, err := s.m.repos.Events.LastSequence(ctx, s.id)
	if err != nil {
		return fmt.Errorf("recovering event sequence: %w", err)
	}

	s.active, s.seq, s.loaded = active, seq, true
	s.storeView()

	attrs := []any{slog.Int64("sequence", seq)}
	if active != nil {
		attrs = append(attrs, slog.String("active_player", active.ID), slog.Int("price", active.CurrentPrice))
	}
	s.logger.InfoContext(ctx, "scope loaded", attrs...)
	return nil
}

func (s *scope) apply(ctx context.Context, cmd Command) (*Result, error) {
	t, err := s.machine.decide(ctx, s.active, cmd)
	if err != nil {
		return nil, err
	}
	events, err := s.sequence(t.events)
	if err != nil {
		return nil, err
	}

	err = s.m.tx.WithinTx(ctx, func(ctx context.Context, u store.Unit) error {
		if err := u.Players.Save(ctx, t.player); err != nil {
			return err
		}
		if t.winner != nil {
			if err := u.Bidders.Save(ctx, t.winner); err != nil {
				return err
			}
		}
		if t.bid != nil {
			if err := u.Bids.Append(ctx, t.bid); err != nil {
				return err
			}
		}
		return u.Events.Append(ctx, events...)
	})
	if err != nil {
		s.invalidate()
		return nil, fmt.Errorf("committing %s for player %s: %w", cmd.kind(), t.player.ID, err)
	}

	s.active = t.active
	s.commit(events)

	s.logger.InfoContext(ctx, "auction transition",
		slog.String("command", cmd.kind()),
		slog.String("player_id", t.player.ID),
		slog.String("status", string(t.player.Status)),
		slog.Int("price", t.player.CurrentPrice),
		slog.Int64("sequence", s.seq),
	)
	return &Result{Player: *t.player.Clone(), Winner: t.winner, Events: events}, nil
}

func (s *scope) exclusive(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (*Result, error) {
	var events []event.Event
	err := s.m.tx.WithinTx(ctx, func(ctx context.Context, u store.Unit) error {
		tx := &Tx{Unit: u, Scope: s.id}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		var err error
		if events, err = s.sequence(tx.pending); err != nil {
			return err
		}
		return u.Events.Append(ctx, events...)
	})
	if err != nil {
		if !Rejected(err) {
			s.invalidate()
		}
		return nil, err
	}
	s.commit(events)
	return &Result{Events: events}, nil
}

// sequence stamps pending events with the scope's next sequence numbers.
func (s *scope) sequence(ps []pending) ([]event.Event, error) {
	now := s.m.clock.Now().UTC()
	events := make([]event.Event, 0, len(ps))
	for i, p := range ps {
		e, err := event.New(s.id, p.typ, p.payload)
		if err != nil {
			return nil, err
		}
		e.ID = uuid.NewString()
		e.Sequence = s.seq + int64(i) + 1
		e.CreatedAt = now
		events = append(events, e)
	}
	return events, nil
}

// commit advances the journal position and publishes events in order. It
// runs only after the store transaction succeeded.
func (s *scope) commit(events []event.Event) {
	if n := len(events); n > 0 {
		s.seq = events[n-1].Sequence
	}
	s.storeView()
	for _, e := range events {
		s.m.pub.Publish(e)
	}
}

// invalidate drops the cached state after a failed commit. The store may have
// committed even though the commit reported an error, so the next command
// reloads from it and reads fall through to the store until then.
func (s *scope) invalidate() {
	s.loaded = false
	s.active = nil
	s.view.Store(nil)
}

func (s *scope) storeView() {
	v := &View{Scope: s.id, Sequence: s.seq}
	if s.active != nil {
		v.Active = s.active.Clone()
	}
	s.view.Store(v)
}

// Package memory provides a store.Driver that keeps all records in process
// memory. It is intended for local development and tests.
//
// Every write works on a private copy of the dataset which is published only
// when the write (or the surrounding transaction) succeeds, so readers never
// observe a partially applied transaction.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/config"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

func init() {
	store.Register("memory", openMemory)
}

func openMemory(_ context.Context, _ config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	return New(clk).Repositories(), nil
}

// dataset is one immutable-once-published version of all records.
type dataset struct {
	players map[string]store.Player
	bidders map[string]store.Bidder
	bids    []store.Bid
	events  []event.Event
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		players: make(map[string]store.Player, len(d.players)),
		bidders: make(map[string]store.Bidder, len(d.bidders)),
		bids:    slices.Clone(d.bids),
		events:  slices.Clone(d.events),
	}
	for id, b := range d.bidders {
		c.bidders[id] = *b.Clone()
	}
	for id, p := range d.players {
		c.players[id] = *p.Clone()
	}
	return c
}

// view resolves the dataset a repository reads from and writes to.
type view interface {
	read() *dataset
	write(fn func(d *dataset) error) error
}

// Store is an in-memory dataset with copy-on-write transactions.
type Store struct {
	writeMu sync.Mutex // serializes writers and transactions

	mu      sync.RWMutex
	current *dataset

	clock clock.Clock
}

// New returns an empty Store.
func New(clk clock.Clock) *Store {
	return &Store{
		current: &dataset{
			players: make(map[string]store.Player),
			bidders: make(map[string]store.Bidder),
		},
		clock: clk,
	}
}

// Repositories returns repositories bound to the live dataset.
func (s *Store) Repositories() *store.Repositories {
	return &store.Repositories{
		Unit:   s.unit(s),
		Tx:     s,
		Closer: closerFunc(func() error { return nil }),
		Ping:   func(context.Context) error { return nil },
	}
}

func (s *Store) unit(v view) store.Unit {
	return store.Unit{
		Players: &PlayerRepo{v: v, clock: s.clock},
		Bidders: &BidderRepo{v: v, clock: s.clock},
		Bids:    &BidRepo{v: v, clock: s.clock},
		Events:  &EventStore{v: v, clock: s.clock},
	}
}

func (s *Store) read() *dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) write(fn func(d *dataset) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.read().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.publish(next)
	return nil
}

func (s *Store) publish(d *dataset) {
	s.mu.Lock()
	s.current = d
	s.mu.Unlock()
}

// WithinTx implements store.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, u store.Unit) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &txView{d: s.read().clone()}
	if err := fn(ctx, s.unit(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.publish(tx.d)
	return nil
}

// txView stages writes on a private dataset owned by one transaction.
type txView struct {
	mu sync.Mutex
	d  *dataset
}

func (t *txView) read() *dataset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d
}

func (t *txView) write(fn func(d *dataset) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	// The dataset is private to the transaction and discarded on failure.
	return fn(t.d)
}

// closerFunc adapts a func() error into an io.Closer.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

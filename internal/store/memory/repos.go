package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/store"
)

// PlayerRepo implements store.PlayerRepository in memory.
type PlayerRepo struct {
	v     view
	clock clock.Clock
}

func (r *PlayerRepo) Create(_ context.Context, p *store.Player) error {
	now := r.clock.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	return r.v.write(func(d *dataset) error {
		if _, ok := d.players[p.ID]; ok {
			return fmt.Errorf("player %s already exists", p.ID)
		}
		d.players[p.ID] = *p.Clone()
		return nil
	})
}

func (r *PlayerRepo) Get(_ context.Context, id string) (*store.Player, error) {
	p, ok := r.v.read().players[id]
	if !ok {
		return nil, fmt.Errorf("getting player %s: %w", id, store.ErrNotFound)
	}
	return p.Clone(), nil
}

func (r *PlayerRepo) Save(_ context.Context, p *store.Player) error {
	p.UpdatedAt = r.clock.Now().UTC()
	return r.v.write(func(d *dataset) error {
		if _, ok := d.players[p.ID]; !ok {
			return fmt.Errorf("saving player %s: %w", p.ID, store.ErrNotFound)
		}
		if p.Status == store.StatusInAuction {
			for id, other := range d.players {
				if id != p.ID && other.Scope == p.Scope && other.Status == store.StatusInAuction {
					return fmt.Errorf("saving player %s: player %s already in auction", p.ID, id)
				}
			}
		}
		d.players[p.ID] = *p.Clone()
		return nil
	})
}

func (r *PlayerRepo) Delete(_ context.Context, id string) error {
	return r.v.write(func(d *dataset) error {
		if _, ok := d.players[id]; !ok {
			return fmt.Errorf("deleting player %s: %w", id, store.ErrNotFound)
		}
		delete(d.players, id)
		return nil
	})
}

func (r *PlayerRepo) List(_ context.Context, scope string) ([]store.Player, error) {
	return r.filter(scope, func(store.Player) bool { return true }), nil
}

func (r *PlayerRepo) CountAvailable(_ context.Context, scope string) (int, error) {
	return len(r.filter(scope, func(p store.Player) bool { return p.Status.Openable() })), nil
}

func (r *PlayerRepo) PickRandomAvailableOrUnsold(_ context.Context, scope string, choose store.Chooser) (*store.Player, error) {
	for _, status := range []store.Status{store.StatusAvailable, store.StatusUnsold} {
		candidates := r.filter(scope, func(p store.Player) bool { return p.Status == status })
		if len(candidates) == 0 {
			continue
		}
		p := candidates[choose(len(candidates))]
		return &p, nil
	}
	return nil, fmt.Errorf("picking player in scope %s: %w", scope, store.ErrNotFound)
}

func (r *PlayerRepo) FindInAuction(_ context.Context, scope string) (*store.Player, error) {
	active := r.filter(scope, func(p store.Player) bool { return p.Status == store.StatusInAuction })
	if len(active) == 0 {
		return nil, fmt.Errorf("finding in-auction player in scope %s: %w", scope, store.ErrNotFound)
	}
	return &active[0], nil
}

// filter returns matching players of scope ordered by creation time.
func (r *PlayerRepo) filter(scope string, keep func(store.Player) bool) []store.Player {
	var out []store.Player
	for _, p := range r.v.read().players {
		if p.Scope == scope && keep(p) {
			out = append(out, *p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b store.Player) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// BidderRepo implements store.BidderRepository in memory.
type BidderRepo struct {
	v     view
	clock clock.Clock
}

func (r *BidderRepo) Create(_ context.Context, b *store.Bidder) error {
	now := r.clock.Now().UTC()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = now
	b.UpdatedAt = now
	return r.v.write(func(d *dataset) error {
		for _, other := range d.bidders {
			if b.ExternalID != "" && other.Scope == b.Scope && other.ExternalID == b.ExternalID {
				return fmt.Errorf("bidder with external id %s already registered in scope %s", b.ExternalID, b.Scope)
			}
		}
		d.bidders[b.ID] = *b.Clone()
		return nil
	})
}

func (r *BidderRepo) Get(_ context.Context, id string) (*store.Bidder, error) {
	b, ok := r.v.read().bidders[id]
	if !ok {
		return nil, fmt.Errorf("getting bidder %s: %w", id, store.ErrNotFound)
	}
	return b.Clone(), nil
}

func (r *BidderRepo) GetByExternalID(_ context.Context, scope, externalID string) (*store.Bidder, error) {
	for _, b := range r.v.read().bidders {
		if b.Scope == scope && b.ExternalID == externalID {
			return b.Clone(), nil
		}
	}
	return nil, fmt.Errorf("getting bidder by external id %s: %w", externalID, store.ErrNotFound)
}

func (r *BidderRepo) Save(_ context.Context, b *store.Bidder) error {
	if b.Budget < 0 {
		return fmt.Errorf("saving bidder %s: negative budget %d", b.ID, b.Budget)
	}
	b.UpdatedAt = r.clock.Now().UTC()
	return r.v.write(func(d *dataset) error {
		if _, ok := d.bidders[b.ID]; !ok {
			return fmt.Errorf("saving bidder %s: %w", b.ID, store.ErrNotFound)
		}
		d.bidders[b.ID] = *b.Clone()
		return nil
	})
}

func (r *BidderRepo) List(_ context.Context, scope string) ([]store.Bidder, error) {
	var out []store.Bidder
	for _, b := range r.v.read().bidders {
		if b.Scope == scope {
			out = append(out, *b.Clone())
		}
	}
	slices.SortFunc(out, func(a, b store.Bidder) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// BidRepo implements store.BidRepository in memory.
type BidRepo struct {
	v     view
	clock clock.Clock
}

func (r *BidRepo) Append(_ context.Context, b *store.Bid) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.clock.Now().UTC()
	}
	return r.v.write(func(d *dataset) error {
		d.bids = append(d.bids, *b)
		return nil
	})
}

func (r *BidRepo) ListByPlayer(_ context.Context, playerID string) ([]store.Bid, error) {
	var out []store.Bid
	for _, b := range r.v.read().bids {
		if b.PlayerID == playerID {
			out = append(out, b)
		}
	}
	return out, nil
}

// EventStore implements event.Store in memory.
type EventStore struct {
	v     view
	clock clock.Clock
}

func (s *EventStore) Append(_ context.Context, events ...event.Event) error {
	now := s.clock.Now().UTC()
	return s.v.write(func(d *dataset) error {
		for _, e := range events {
			for _, existing := range d.events {
				if existing.Scope == e.Scope && existing.Sequence == e.Sequence {
					return fmt.Errorf("inserting event (scope=%s, sequence=%d): duplicate sequence", e.Scope, e.Sequence)
				}
			}
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			d.events = append(d.events, e)
		}
		return nil
	})
}

func (s *EventStore) Load(_ context.Context, scope string, after int64) ([]event.Event, error) {
	var out []event.Event
	for _, e := range s.v.read().events {
		if e.Scope == scope && e.Sequence > after {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b event.Event) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out, nil
}

func (s *EventStore) LastSequence(_ context.Context, scope string) (int64, error) {
	var last int64
	for _, e := range s.v.read().events {
		if e.Scope == scope && e.Sequence > last {
			last = e.Sequence
		}
	}
	return last, nil
}

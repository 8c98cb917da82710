// Package broadcast fans committed auction events out to subscribers of a
// scope: in-process channels, websocket clients and external sinks.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/jensholdgaard/draft-auction/internal/event"
)

// Hub delivers published events to subscriptions keyed by scope. Publish
// never blocks: a subscriber whose buffer is full is evicted and its channel
// closed, so a subscriber either sees every event in order or learns that it
// fell behind.
type Hub struct {
	mu     sync.Mutex
	scopes map[string]map[*Subscription]struct{}
	all    map[*Subscription]struct{}
	logger *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		scopes: make(map[string]map[*Subscription]struct{}),
		all:    make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription receives events on C until it is closed or evicted.
type Subscription struct {
	C <-chan event.Event

	c     chan event.Event
	hub   *Hub
	scope string
	every bool
}

// Subscribe registers a subscriber for one scope.
func (h *Hub) Subscribe(scope string, buffer int) *Subscription {
	s := h.newSubscription(scope, false, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.scopes[scope]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.scopes[scope] = subs
	}
	subs[s] = struct{}{}
	return s
}

// SubscribeAll registers a subscriber for every scope.
func (h *Hub) SubscribeAll(buffer int) *Subscription {
	s := h.newSubscription("", true, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[s] = struct{}{}
	return s
}

func (h *Hub) newSubscription(scope string, every bool, buffer int) *Subscription {
	c := make(chan event.Event, max(buffer, 1))
	return &Subscription{C: c, c: c, hub: h, scope: scope, every: every}
}

// Publish delivers e to the subscribers of e.Scope and to every
// SubscribeAll subscriber.
func (h *Hub) Publish(e event.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.scopes[e.Scope] {
		h.deliver(s, e)
	}
	for s := range h.all {
		h.deliver(s, e)
	}
}

func (h *Hub) deliver(s *Subscription, e event.Event) {
	select {
	case s.c <- e:
	default:
		h.logger.Warn("evicting slow subscriber",
			slog.String("scope", e.Scope),
			slog.Bool("all_scopes", s.every),
			slog.Int64("sequence", e.Sequence),
		)
		h.remove(s)
	}
}

// Count returns the number of subscribers for scope, excluding SubscribeAll
// subscribers.
func (h *Hub) Count(scope string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.scopes[scope])
}

// remove must be called with h.mu held.
func (h *Hub) remove(s *Subscription) {
	if s.every {
		if _, ok := h.all[s]; !ok {
			return
		}
		delete(h.all, s)
	} else {
		subs := h.scopes[s.scope]
		if _, ok := subs[s]; !ok {
			return
		}
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.scopes, s.scope)
		}
	}
	close(s.c)
}

// Close unregisters the subscription and closes C. It is safe to call more
// than once and after eviction.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.remove(s)
}

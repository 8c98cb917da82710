package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/jensholdgaard/draft-auction/internal/event"
)

const (
	defaultRetryInterval = time.Second
	maxRetryInterval     = 30 * time.Second
)

// Sink forwards events to a system outside the process.
type Sink interface {
	Name() string
	Send(ctx context.Context, e event.Event) error
}

// Relay feeds a Sink from the hub. It tracks the last delivered sequence per
// scope; when it sees a gap (after eviction or a failed send) it backfills
// the missing events from the journal before continuing, so the sink
// receives each scope's events in order. Scopes left behind by a failed
// send are retried from the journal on a timer with exponential backoff.
type Relay struct {
	hub     *Hub
	journal event.Store
	sink    Sink
	buffer  int
	logger  *slog.Logger

	last map[string]int64
	// behind holds scopes whose journal is ahead of the sink.
	behind map[string]struct{}

	retryInterval time.Duration
	retryDelay    time.Duration
	nextRetry     time.Time
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRetryInterval sets the first delay before a failed delivery is retried.
// Later retries back off up to 30s.
func WithRetryInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// NewRelay returns a Relay for sink.
func NewRelay(hub *Hub, journal event.Store, sink Sink, buffer int, logger *slog.Logger, opts ...RelayOption) *Relay {
	r := &Relay{
		hub:           hub,
		journal:       journal,
		sink:          sink,
		buffer:        buffer,
		logger:        logger.With(slog.String("sink", sink.Name())),
		last:          make(map[string]int64),
		behind:        make(map[string]struct{}),
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.retryDelay = r.retryInterval
	return r
}

// Run relays events until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "relay started")
	for {
		sub := r.hub.SubscribeAll(r.buffer)
		r.consume(ctx, sub)
		sub.Close()
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "relay stopped")
			return nil
		}
		r.logger.WarnContext(ctx, "relay fell behind, resubscribing")
	}
}

func (r *Relay) consume(ctx context.Context, sub *Subscription) {
	ticker := time.NewTicker(r.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			r.deliver(ctx, e)
		case now := <-ticker.C:
			if len(r.behind) == 0 || now.Before(r.nextRetry) {
				continue
			}
			r.retry(ctx, now)
		}
	}
}

func (r *Relay) deliver(ctx context.Context, e event.Event) {
	last, seen := r.last[e.Scope]
	if seen && e.Sequence <= last {
		return
	}
	if !seen {
		// Start from the first event this relay observes for the scope.
		last = e.Sequence - 1
		r.last[e.Scope] = last
	}

	if _, lagging := r.behind[e.Scope]; lagging || e.Sequence > last+1 {
		r.catchUp(ctx, e.Scope)
		return
	}
	if !r.send(ctx, e) {
		r.fellBehind(e.Scope)
	}
}

// catchUp sends every journaled event of scope after the last delivered one.
// It reports whether the sink caught up.
func (r *Relay) catchUp(ctx context.Context, scope string) bool {
	after := r.last[scope]
	missed, err := r.journal.Load(ctx, scope, after)
	if err != nil {
		r.logger.ErrorContext(ctx, "loading missed events",
			slog.String("scope", scope),
			slog.Int64("after", after),
			slog.Any("error", err),
		)
		r.fellBehind(scope)
		return false
	}
	if len(missed) > 0 {
		r.logger.InfoContext(ctx, "backfilling events",
			slog.String("scope", scope),
			slog.Int64("after", after),
			slog.Int("count", len(missed)),
		)
	}
	for _, ev := range missed {
		if !r.send(ctx, ev) {
			r.fellBehind(scope)
			return false
		}
	}
	delete(r.behind, scope)
	return true
}

func (r *Relay) send(ctx context.Context, e event.Event) bool {
	if err := r.sink.Send(ctx, e); err != nil {
		r.logger.ErrorContext(ctx, "sending event",
			slog.String("scope", e.Scope),
			slog.Int64("sequence", e.Sequence),
			slog.Any("error", err),
		)
		return false
	}
	r.last[e.Scope] = e.Sequence
	return true
}

func (r *Relay) fellBehind(scope string) {
	if len(r.behind) == 0 {
		r.retryDelay = r.retryInterval
		r.nextRetry = time.Now().Add(r.retryDelay)
	}
	r.behind[scope] = struct{}{}
}

// retry backfills every lagging scope and backs off while the sink keeps
// failing.
func (r *Relay) retry(ctx context.Context, now time.Time) {
	failed := false
	for scope := range r.behind {
		if !r.catchUp(ctx, scope) {
			failed = true
		}
	}
	if !failed {
		r.retryDelay = r.retryInterval
		return
	}
	r.retryDelay = min(2*r.retryDelay, maxRetryInterval)
	r.nextRetry = now.Add(r.retryDelay)
	r.logger.WarnContext(ctx, "sink still behind, backing off",
		slog.Int("scopes", len(r.behind)),
		slog.Duration("delay", r.retryDelay),
	)
}

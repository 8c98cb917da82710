package auction

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	accepted    metric.Int64Counter
	rejected    metric.Int64Counter
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)

	accepted, err := meter.Int64Counter("auction.bids.accepted",
		metric.WithDescription("Bids admitted as the new leading bid."))
	if err != nil {
		return nil, fmt.Errorf("creating accepted counter: %w", err)
	}
	rejected, err := meter.Int64Counter("auction.bids.rejected",
		metric.WithDescription("Bids rejected by admission, by reason."))
	if err != nil {
		return nil, fmt.Errorf("creating rejected counter: %w", err)
	}
	transitions, err := meter.Int64Counter("auction.transitions",
		metric.WithDescription("Committed admin transitions, by kind."))
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}
	duration, err := meter.Float64Histogram("auction.command.duration",
		metric.WithDescription("Time from submission to reply, including queueing."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	return &metrics{accepted: accepted, rejected: rejected, transitions: transitions, duration: duration}, nil
}

func (m *metrics) observe(ctx context.Context, kind string, err error, elapsed time.Duration) {
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000,
		metric.WithAttributes(attribute.String("command", kind)))

	switch {
	case kind == "bid" && err == nil:
		m.accepted.Add(ctx, 1)
	case kind == "bid" && Rejected(err):
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", Reason(err))))
	case err == nil:
		m.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

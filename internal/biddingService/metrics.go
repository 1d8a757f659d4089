package bidding

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// bid outcomes recorded on the auction.bids counter
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeConflict = "conflict"
)

type engineMetrics struct {
	bids    metric.Int64Counter
	retries metric.Int64Counter
	closed  metric.Int64Counter
}

func newEngineMetrics(mp metric.MeterProvider) engineMetrics {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	meter := mp.Meter(tracerName)

	// instrument errors only happen on invalid names; fall back to noop
	noop := metricnoop.Meter{}
	bids, err := meter.Int64Counter("auction.bids",
		metric.WithDescription("Bids processed, by outcome"), metric.WithUnit("{bid}"))
	if err != nil {
		bids, _ = noop.Int64Counter("auction.bids")
	}
	retries, err := meter.Int64Counter("auction.bid.retries",
		metric.WithDescription("Compare-and-update retries caused by concurrent writes"), metric.WithUnit("{retry}"))
	if err != nil {
		retries, _ = noop.Int64Counter("auction.bid.retries")
	}
	closed, err := meter.Int64Counter("auction.closed",
		metric.WithDescription("Auctions closed, by reason"), metric.WithUnit("{auction}"))
	if err != nil {
		closed, _ = noop.Int64Counter("auction.closed")
	}
	return engineMetrics{bids: bids, retries: retries, closed: closed}
}

func (m engineMetrics) bid(ctx context.Context, outcome string) {
	m.bids.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m engineMetrics) retry(ctx context.Context) {
	m.retries.Add(ctx, 1)
}

func (m engineMetrics) close(ctx context.Context, reason string) {
	m.closed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

package services

import (
	"github.com/rcrowley/go-metrics"
)

// Metrics holds the engine counters. A nil registry gets a private one so
// tests do not share state through metrics.DefaultRegistry.
type Metrics struct {
	registry metrics.Registry

	GamesCreated   metrics.Counter
	EntriesAdded   metrics.Counter
	EntriesRefused metrics.Counter
	GamesLocked    metrics.Counter
	GamesResolved  metrics.Counter
	GamesSettled   metrics.Counter
	GamesCancelled metrics.Counter
	PayoutFailures metrics.Counter
	Refunds        metrics.Counter

	SettleLatency metrics.Timer
	Pool          metrics.Histogram
}

func NewMetrics(r metrics.Registry) *Metrics {
	if r == nil {
		r = metrics.NewRegistry()
	}
	return &Metrics{
		registry:       r,
		GamesCreated:   metrics.NewRegisteredCounter("games.created", r),
		EntriesAdded:   metrics.NewRegisteredCounter("entries.added", r),
		EntriesRefused: metrics.NewRegisteredCounter("entries.refused", r),
		GamesLocked:    metrics.NewRegisteredCounter("games.locked", r),
		GamesResolved:  metrics.NewRegisteredCounter("games.resolved", r),
		GamesSettled:   metrics.NewRegisteredCounter("games.settled", r),
		GamesCancelled: metrics.NewRegisteredCounter("games.cancelled", r),
		PayoutFailures: metrics.NewRegisteredCounter("payouts.failed", r),
		Refunds:        metrics.NewRegisteredCounter("refunds.issued", r),
		SettleLatency:  metrics.NewRegisteredTimer("games.settle_latency", r),
		Pool:           metrics.NewRegisteredHistogram("games.pool_cents", r, metrics.NewUniformSample(1028)),
	}
}

func (m *Metrics) Registry() metrics.Registry {
	return m.registry
}

// Snapshot returns every registered metric in a JSON friendly shape.
func (m *Metrics) Snapshot() map[string]map[string]interface{} {
	return m.registry.GetAll()
}

package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the observability-only gauges/counters/histograms referenced
// by the domain-stack expansion (§2.2). Nothing in the business logic reads
// them back.
type Metrics struct {
	EnvelopesTotal       *prometheus.CounterVec
	LeaseContentionTotal prometheus.Counter
	BroadcastFailures    prometheus.Counter
	WebhookLatency       prometheus.Histogram
}

// NewMetrics registers the bridge's metrics against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests),
// prometheus.DefaultRegisterer for the global one, or nil to create the
// metrics without registering them anywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EnvelopesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_envelopes_total",
			Help: "Command envelopes processed, partitioned by outcome.",
		}, []string{"outcome"}),
		LeaseContentionTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_lease_contention_total",
			Help: "Opportunistic lease acquisition attempts that lost to another node.",
		}),
		BroadcastFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_broadcast_failures_total",
			Help: "Update broadcast publishes that failed (non-fatal).",
		}),
		WebhookLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_webhook_latency_seconds",
			Help:    "Latency of audit sink webhook POSTs.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

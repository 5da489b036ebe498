package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for LookupsTotal.
const (
	OutcomeResolved  = "resolved"
	OutcomeAbsent    = "absent"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

type Metrics struct {
	LookupsTotal   *prometheus.CounterVec
	RequestsTotal  prometheus.Counter
	RetriesTotal   prometheus.Counter
	CacheHitsTotal prometheus.Counter
	LookupDuration prometheus.Histogram
}

// New registers the name resolution metrics with reg. A nil reg uses a
// private registry, which keeps repeated construction in tests safe.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		LookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "six2five_name_lookups_total",
			Help: "Total number of name lookups that reached the network, by outcome",
		}, []string{"outcome"}),
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "six2five_identity_requests_total",
			Help: "Total number of HTTP requests issued to the identity service",
		}),
		RetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "six2five_identity_retries_total",
			Help: "Total number of retried identity service requests",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "six2five_name_cache_hits_total",
			Help: "Total number of resolutions answered from the cache",
		}),
		LookupDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "six2five_name_lookup_duration_seconds",
			Help:    "Wall time of network lookups including rate limiting and backoff",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
}

func (m *Metrics) IncrementLookups(outcome string) {
	m.LookupsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRequests() {
	m.RequestsTotal.Inc()
}

func (m *Metrics) IncrementRetries() {
	m.RetriesTotal.Inc()
}

func (m *Metrics) IncrementCacheHits() {
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) ObserveLookupDuration(seconds float64) {
	m.LookupDuration.Observe(seconds)
}

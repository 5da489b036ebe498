package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors. Component metrics register on it alongside.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Run holds per-file conversion metrics.
type Run struct {
	ConversionsTotal *prometheus.CounterVec
	IdentifiersTotal *prometheus.CounterVec
	RegionsTotal     prometheus.Counter
}

func NewRun(reg prometheus.Registerer) *Run {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Run{
		ConversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "six2five_conversions_total",
			Help: "Total number of regions file conversions, by result",
		}, []string{"result"}),
		IdentifiersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "six2five_identifiers_total",
			Help: "Total number of unique-ids elements processed, by outcome",
		}, []string{"outcome"}),
		RegionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "six2five_regions_total",
			Help: "Total number of regions walked",
		}),
	}
}

// RecordConversion counts one conversion and, when it succeeded, its
// per-identifier outcomes.
func (m *Run) RecordConversion(err error, regions, resolved, unresolved, malformed int) {
	if err != nil {
		m.ConversionsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.ConversionsTotal.WithLabelValues("succeeded").Inc()
	m.RegionsTotal.Add(float64(regions))
	m.IdentifiersTotal.WithLabelValues("resolved").Add(float64(resolved))
	m.IdentifiersTotal.WithLabelValues("unresolved").Add(float64(unresolved))
	m.IdentifiersTotal.WithLabelValues("malformed").Add(float64(malformed))
}

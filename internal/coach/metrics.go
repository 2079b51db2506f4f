package coach

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for coaching requests.
const (
	outcomeOK       = "ok"
	outcomeParse    = "parse_fallback"
	outcomeUpstream = "upstream_fallback"
	outcomeInvalid  = "invalid"
)

// kindUnknown labels requests whose kind is not one of the known kinds.
const kindUnknown = "unknown"


// Metrics records coaching pipeline outcomes.
type Metrics struct {
	requests *prometheus.CounterVec
	upstream *prometheus.HistogramVec
}

// NewMetrics registers coaching metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coach",
			Name:      "requests_total",
			Help:      "Coaching requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		upstream: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coach",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"result"}),
	}
}

func (m *Metrics) observeRequest(kind Kind, outcome string) {
	if m == nil {
		return
	}
	label := string(kind)
	if !kind.Valid() {
		label = kindUnknown
	}
	m.requests.WithLabelValues(label, outcome).Inc()
}

func (m *Metrics) observeUpstream(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.upstream.WithLabelValues(result).Observe(seconds)
}

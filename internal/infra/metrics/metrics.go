package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/totegamma/aswan/internal/domain"
)

const namespace = "aswan"

// Metrics holds the Prometheus collectors for the gateway and registry.
type Metrics struct {
	registry *prometheus.Registry
	outcomes *prometheus.CounterVec
	decision *prometheus.HistogramVec
}

// New registers gateway metrics plus registry gauges backed by stats, which is
// evaluated on every scrape.
func New(stats func() domain.CredentialStats) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "outcomes_total",
			Help:      "Verification attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.decision = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "decision_duration_seconds",
			Help:      "Decision engine latency in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	m.registry.MustRegister(
		m.outcomes,
		m.decision,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if stats != nil {
		for _, status := range []domain.Status{domain.StatusActive, domain.StatusLimited, domain.StatusRevoked} {
			status := status
			m.registry.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Namespace:   namespace,
					Subsystem:   "registry",
					Name:        "credentials",
					Help:        "Issued credentials by status",
					ConstLabels: prometheus.Labels{"status": status.String()},
				},
				func() float64 {
					s := stats()
					switch status {
					case domain.StatusActive:
						return float64(s.Active)
					case domain.StatusLimited:
						return float64(s.Limited)
					default:
						return float64(s.Revoked)
					}
				},
			))
		}
	}

	return m
}

func (m *Metrics) ObserveOutcome(outcome domain.Outcome) {
	m.outcomes.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) ObserveDecision(outcome domain.Outcome, elapsed time.Duration) {
	m.decision.WithLabelValues(outcome.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

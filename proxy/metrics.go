package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the forwarding metrics. A nil *Metrics records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
	health   *prometheus.CounterVec
}

// NewMetrics registers the proxy metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panelgate",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Proxied panel requests by panel type and outcome.",
			},
			[]string{"panel_type", "outcome"},
		),
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panelgate",
				Subsystem: "proxy",
				Name:      "attempts_total",
				Help:      "Upstream attempts including retries, by panel type.",
			},
			[]string{"panel_type"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "panelgate",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "End-to-end forwarding latency including retries.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"panel_type"},
		),
		health: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panelgate",
				Subsystem: "proxy",
				Name:      "health_checks_total",
				Help:      "Panel health checks by panel type and result.",
			},
			[]string{"panel_type", "result"},
		),
	}
}

func (m *Metrics) observeRequest(panelType, outcome string, attempts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(panelType, outcome).Inc()
	if attempts > 0 {
		m.attempts.WithLabelValues(panelType).Add(float64(attempts))
	}
	m.duration.WithLabelValues(panelType).Observe(elapsed.Seconds())
}

func (m *Metrics) observeHealth(panelType string, healthy bool) {
	if m == nil {
		return
	}
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.health.WithLabelValues(panelType, result).Inc()
}

func statusOutcome(status int) string {
	switch {
	case status >= 500:
		return "upstream_error"
	case status >= 400:
		return "client_error"
	default:
		return "success"
	}
}

package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultVerifyFailureWindow    = 1 * time.Minute
	defaultVerifyFailureThreshold = 50
)

// authMetrics counts audit events and detects spikes of failed
// verifications across all clients. A nil *authMetrics records nothing.
type authMetrics struct {
	events *prometheus.CounterVec
	spikes prometheus.Counter

	mu        sync.Mutex
	failures  []time.Time
	window    time.Duration
	threshold int
}

func newAuthMetrics(reg prometheus.Registerer) *authMetrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &authMetrics{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "panelgate",
				Subsystem: "auth",
				Name:      "events_total",
				Help:      "Audit events by type.",
			},
			[]string{"event"},
		),
		spikes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "panelgate",
			Subsystem: "auth",
			Name:      "verify_failure_spikes_total",
			Help:      "Times the global verify failure rate crossed its threshold.",
		}),
		window:    defaultVerifyFailureWindow,
		threshold: defaultVerifyFailureThreshold,
	}
}

// recordEvent counts event and reports whether it completed a failure spike.
func (m *authMetrics) recordEvent(event AuditEvent, now time.Time) (spike bool, count int) {
	if m == nil {
		return false, 0
	}
	m.events.WithLabelValues(string(event)).Inc()
	if event != AuditVerifyFailure {
		return false, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, now)
	m.failures = trimWindow(m.failures, now, m.window)
	if len(m.failures) < m.threshold {
		return false, 0
	}
	count = len(m.failures)
	// Reset to avoid repeated alerts within the same spike.
	m.failures = m.failures[:0]
	m.spikes.Inc()
	return true, count
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}

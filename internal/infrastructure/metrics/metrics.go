package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the session service
type Metrics struct {
	// Session lifecycle metrics
	ActiveSessions      prometheus.Gauge
	TotalSessions       prometheus.Gauge
	SessionsInvalidated *prometheus.CounterVec
	SessionsRevoked     prometheus.Counter
	SessionsFinalized   prometheus.Counter
	Reconnections       prometheus.Counter

	// Protocol metrics
	FloodWaits     prometheus.Counter
	InvokeDuration prometheus.Histogram
	InvokeErrors   *prometheus.CounterVec

	// Health monitor metrics
	ProbeFailures     prometheus.Counter
	ProbesRejected    prometheus.Counter
	ConnectedSessions prometheus.Gauge

	// Auth flow metrics
	AuthFlowsStarted   *prometheus.CounterVec
	AuthFlowsCompleted *prometheus.CounterVec
}

var (
	// DefaultMetrics is the default metrics instance
	DefaultMetrics *Metrics
	once           sync.Once
)

// GetDefaultMetrics returns the singleton metrics instance
func GetDefaultMetrics() *Metrics {
	once.Do(func() {
		DefaultMetrics = NewMetrics()
	})
	return DefaultMetrics
}

func init() {
	// Initialize DefaultMetrics on package import
	GetDefaultMetrics()
}

// NewMetrics creates a new Metrics instance with all counters and gauges
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "session_service_active_sessions",
			Help: "Current number of active Telegram sessions",
		}),
		TotalSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "session_service_total_sessions",
			Help: "Total number of stored Telegram sessions",
		}),
		SessionsInvalidated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_service_sessions_invalidated_total",
				Help: "Total number of sessions moved to invalid",
			},
			[]string{"reason"},
		),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "session_service_sessions_revoked_total",
			Help: "Total number of sessions revoked by a user or admin",
		}),
		SessionsFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "session_service_sessions_finalized_total",
			Help: "Total number of auth handshakes finalized into active sessions",
		}),
		Reconnections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "session_service_reconnections_total",
			Help: "Total number of connection rebuilds for cached sessions",
		}),

		FloodWaits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "session_service_flood_waits_total",
			Help: "Total number of rate limit events from the Telegram API",
		}),
		InvokeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "session_service_invoke_duration_seconds",
			Help:    "Duration of MTProto invocations in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		InvokeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_service_invoke_errors_total",
				Help: "Total number of failed MTProto invocations",
			},
			[]string{"action"},
		),

		ProbeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "session_service_probe_failures_total",
			Help: "Total number of failed health probes",
		}),
		ProbesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "session_service_probes_rejected_total",
			Help: "Total number of health probes rejected by an open circuit breaker",
		}),
		ConnectedSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "session_service_connected_sessions",
			Help: "Current number of cached connections reporting connected",
		}),

		AuthFlowsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_service_auth_flows_started_total",
				Help: "Total number of auth flows started",
			},
			[]string{"kind"},
		),
		AuthFlowsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_service_auth_flows_completed_total",
				Help: "Total number of auth flows completed",
			},
			[]string{"kind", "outcome"},
		),
	}
}

// RecordInvalidation records a session invalidation with its reason class
func (m *Metrics) RecordInvalidation(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.SessionsInvalidated.WithLabelValues(reason).Inc()
}

// RecordInvoke records an MTProto invocation duration
func (m *Metrics) RecordInvoke(duration float64) {
	m.InvokeDuration.Observe(duration)
}

// RecordInvokeError records a failed invocation by classified action
func (m *Metrics) RecordInvokeError(action string) {
	if action == "" {
		action = "unknown"
	}
	m.InvokeErrors.WithLabelValues(action).Inc()
}

// UpdateSessions updates the session gauges
func (m *Metrics) UpdateSessions(active, total int) {
	m.ActiveSessions.Set(float64(active))
	m.TotalSessions.Set(float64(total))
}

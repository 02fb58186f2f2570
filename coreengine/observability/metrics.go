// Package observability provides Prometheus metrics, OpenTelemetry tracing and
// the zap-backed logger for the session engine.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// SESSION METRICS
// =============================================================================

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psygen_sessions_total",
			Help: "Total number of finished sessions",
		},
		[]string{"reason"}, // termination reason
	)

	sessionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "psygen_session_rounds",
			Help:    "Rounds reached per finished session",
			Buckets: []float64{1, 3, 5, 8, 10, 15, 20, 30, 50},
		},
	)

	sessionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "psygen_session_duration_seconds",
			Help:    "Session wall-clock duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
)

// =============================================================================
// PORT METRICS
// =============================================================================

var (
	portCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psygen_port_calls_total",
			Help: "Total number of external agent calls",
		},
		[]string{"operation", "status"}, // status: success, timeout, transport_error, ...
	)

	portCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psygen_port_call_duration_seconds",
			Help:    "External agent call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)
)

// =============================================================================
// FLOW METRICS
// =============================================================================

var (
	phaseTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psygen_phase_transitions_total",
			Help: "Phase transition attempts",
		},
		[]string{"from", "to", "accepted"},
	)

	riskEmergenciesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "psygen_risk_emergencies_total",
			Help: "Sessions ended by a risk emergency",
		},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psygen_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psygen_llm_duration_seconds",
			Help:    "LLM call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordSessionEnd records a finished session.
func RecordSessionEnd(reason string, rounds int, durationMS int) {
	sessionsTotal.WithLabelValues(reason).Inc()
	sessionRounds.Observe(float64(rounds))
	sessionDurationSeconds.Observe(float64(durationMS) / 1000.0)
}

// RecordPortCall records one external agent call.
func RecordPortCall(operation string, status string, durationMS int) {
	portCallsTotal.WithLabelValues(operation, status).Inc()
	portCallDurationSeconds.WithLabelValues(operation).Observe(float64(durationMS) / 1000.0)
}

// RecordPhaseTransition records one transition attempt. An empty to means the
// end signal.
func RecordPhaseTransition(from, to string, accepted bool) {
	if to == "" {
		to = "end"
	}
	phaseTransitionsTotal.WithLabelValues(from, to, strconv.FormatBool(accepted)).Inc()
}

// RecordRiskEmergency records a session ended by risk.
func RecordRiskEmergency() {
	riskEmergenciesTotal.Inc()
}

// RecordLLMCall records LLM call metrics.
func RecordLLMCall(model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(model, status).Inc()
	llmDurationSeconds.WithLabelValues(model).Observe(float64(durationMS) / 1000.0)
}

// File: internal/observability/metrics.go
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cicerone_sessions_started_total",
			Help: "Total number of sessions started",
		},
	)

	sessionsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cicerone_sessions_finished_total",
			Help: "Total number of sessions reaching a terminal state",
		},
		[]string{"status"},
	)

	stepAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cicerone_step_attempts_total",
			Help: "Total number of step execution attempts",
		},
		[]string{"outcome"},
	)

	stepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cicerone_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	recoveryActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cicerone_recovery_actions_total",
			Help: "Total number of recovery actions selected by the engine",
		},
		[]string{"type"},
	)

	componentAvailability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cicerone_component_availability",
			Help: "Availability of monitored components (0-1)",
		},
		[]string{"component"},
	)

	degradationLevel = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cicerone_degradation_level",
			Help: "Overall degradation level (0=full, 4=emergency)",
		},
	)

	capacityRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cicerone_capacity_rejections_total",
			Help: "Requests rejected at the concurrent-session cap",
		},
	)

	metricsOnce sync.Once
)

// InitMetrics registers the Prometheus collectors. Safe to call more than
// once.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStarted,
			sessionsFinished,
			stepAttempts,
			stepDuration,
			recoveryActions,
			componentAvailability,
			degradationLevel,
			capacityRejections,
		)
	})
}

// RecordSessionStarted increments the started-session counter.
func RecordSessionStarted() { sessionsStarted.Inc() }

// RecordSessionFinished counts a terminal transition by status.
func RecordSessionFinished(status string) {
	sessionsFinished.WithLabelValues(status).Inc()
}

// RecordStepAttempt counts one attempt with its outcome ("completed",
// "failed" or "retried") and its wall-clock duration.
func RecordStepAttempt(outcome string, d time.Duration) {
	stepAttempts.WithLabelValues(outcome).Inc()
	stepDuration.Observe(d.Seconds())
}

// RecordRecoveryAction counts a recovery decision by type.
func RecordRecoveryAction(recoveryType string) {
	recoveryActions.WithLabelValues(recoveryType).Inc()
}

// RecordComponentAvailability updates the availability gauge for a component.
func RecordComponentAvailability(component string, availability float64) {
	componentAvailability.WithLabelValues(component).Set(availability)
}

// RecordDegradationLevel updates the overall degradation level gauge.
func RecordDegradationLevel(level int) { degradationLevel.Set(float64(level)) }

// RecordCapacityRejection counts one fail-fast capacity rejection.
func RecordCapacityRejection() { capacityRejections.Inc() }

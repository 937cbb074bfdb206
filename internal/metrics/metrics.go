package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful automation executions.
	OutcomeSuccess = "success"
	// OutcomeError labels failed automation executions.
	OutcomeError = "error"
	// OutcomeSkipped labels executions suppressed by policy guards.
	OutcomeSkipped = "skipped"
)

var (
	faultsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "faults_detected_total",
			Help:      "Total faults created, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	faultsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "faults_resolved_total",
			Help:      "Total faults resolved, partitioned by type.",
		},
		[]string{"type"},
	)

	activeFaults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_heal",
			Name:      "active_faults",
			Help:      "Currently unresolved faults.",
		},
	)

	detectionTickSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_heal",
			Name:      "detection_tick_seconds",
			Help:      "Detect/resolve tick latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	evaluationTickSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_heal",
			Name:      "evaluation_tick_seconds",
			Help:      "Automation evaluation tick latency in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_heal",
			Name:      "automation_executions_total",
			Help:      "Automation executions, partitioned by operation type and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	activeOperations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_heal",
			Name:      "active_operations",
			Help:      "In-flight automation operations.",
		},
	)
)

// Register attaches mirador-heal collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		faultsDetectedTotal,
		faultsResolvedTotal,
		activeFaults,
		detectionTickSeconds,
		evaluationTickSeconds,
		executionsTotal,
		activeOperations,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// FaultDetected records a new fault.
func FaultDetected(faultType, severity string) {
	faultsDetectedTotal.WithLabelValues(faultType, severity).Inc()
}

// FaultResolved records a resolution.
func FaultResolved(faultType string) {
	faultsResolvedTotal.WithLabelValues(faultType).Inc()
}

// SetActiveFaults updates the active fault gauge.
func SetActiveFaults(n int) {
	activeFaults.Set(float64(n))
}

// ObserveDetectionTick records a detect/resolve tick duration.
func ObserveDetectionTick(d time.Duration) {
	if d < 0 {
		d = 0
	}
	detectionTickSeconds.Observe(d.Seconds())
}

// ObserveEvaluationTick records an automation evaluation tick duration.
func ObserveEvaluationTick(d time.Duration) {
	if d < 0 {
		d = 0
	}
	evaluationTickSeconds.Observe(d.Seconds())
}

// ExecutionRecorded counts an automation execution outcome.
func ExecutionRecorded(operation, outcome string) {
	executionsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetActiveOperations updates the in-flight operation gauge.
func SetActiveOperations(n int) {
	activeOperations.Set(float64(n))
}

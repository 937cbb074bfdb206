package models

import "time"

// MetricStatus reflects the health classification attached to a sample.
type MetricStatus string

const (
	StatusHealthy   MetricStatus = "healthy"
	StatusWarning   MetricStatus = "warning"
	StatusCritical  MetricStatus = "critical"
	StatusUnhealthy MetricStatus = "unhealthy"
)

// MetricSample is a single observation of a named metric.
type MetricSample struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Status    MetricStatus
}

// MetricPoint is the latest value/status pair exposed in metric summaries.
type MetricPoint struct {
	Value  float64
	Status MetricStatus
}

// Baseline holds the statistical reference computed from a metric's warm-up window.
// It is derived once and only recomputed on explicit request.
type Baseline struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	P95    float64
}

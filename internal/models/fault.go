package models

import "time"

// FaultType enumerates the abnormal conditions the classifier can detect.
type FaultType string

const (
	FaultServiceUnavailable     FaultType = "service_unavailable"
	FaultPerformanceDegradation FaultType = "performance_degradation"
	FaultResourceExhaustion     FaultType = "resource_exhaustion"
	FaultCascadeFailure         FaultType = "cascade_failure"
	FaultConfigurationError     FaultType = "configuration_error"
)

// Valid reports whether the fault type is one of the closed set.
func (t FaultType) Valid() bool {
	switch t {
	case FaultServiceUnavailable, FaultPerformanceDegradation, FaultResourceExhaustion,
		FaultCascadeFailure, FaultConfigurationError:
		return true
	}
	return false
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FaultEvent is the central lifecycle entity. At most one unresolved event exists
// per (fault type, service) pair; the lifecycle manager enforces that.
type FaultEvent struct {
	FaultID          string
	Type             FaultType
	Severity         Severity
	ServiceName      string
	Description      string
	DetectedAt       time.Time
	RootCause        string
	AffectedServices []string
	Metrics          map[string]float64
	RecoveryActions  []string
	ResolvedAt       *time.Time
	ResolutionTime   time.Duration
}

// Resolved reports whether the event reached its terminal state.
func (f *FaultEvent) Resolved() bool {
	return f.ResolvedAt != nil
}

// Key identifies the active-map slot for an event.
func (f *FaultEvent) Key() FaultKey {
	return FaultKey{Type: f.Type, Service: f.ServiceName}
}

// FaultKey is the dedup key for active faults.
type FaultKey struct {
	Type    FaultType
	Service string
}

// FaultPattern is a learned anomaly signature evaluated by the statistical strategy.
// Confidence is nudged by an exponential moving average as matching faults resolve.
type FaultPattern struct {
	ID          string
	Type        string
	Features    []string
	Threshold   float64
	Confidence  float64
	Occurrences int
	LastSeen    time.Time
}

// FaultStatistics summarises lifecycle history for operators.
type FaultStatistics struct {
	Total             int
	Active            int
	Resolved          int
	ResolutionRate    float64
	AvgResolutionTime time.Duration
	ByType            map[FaultType]int
	BySeverity        map[Severity]int
}

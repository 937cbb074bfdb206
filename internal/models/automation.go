package models

import "time"

// OperationType enumerates the remediation families the engine can dispatch.
type OperationType string

const (
	OperationScaling      OperationType = "scaling"
	OperationRecovery     OperationType = "recovery"
	OperationOptimization OperationType = "optimization"
	OperationBackup       OperationType = "backup"
	OperationMaintenance  OperationType = "maintenance"
	OperationSecurity     OperationType = "security"
)

// Valid reports whether the operation type is one of the closed set.
func (t OperationType) Valid() bool {
	switch t {
	case OperationScaling, OperationRecovery, OperationOptimization,
		OperationBackup, OperationMaintenance, OperationSecurity:
		return true
	}
	return false
}

// AutomationLevel governs whether a rule executes unattended.
type AutomationLevel string

const (
	LevelManual        AutomationLevel = "manual"
	LevelSemiAutomatic AutomationLevel = "semi_automatic"
	LevelAutomatic     AutomationLevel = "automatic"
	LevelEmergencyOnly AutomationLevel = "emergency_only"
)

// Valid reports whether the automation level is one of the closed set.
func (l AutomationLevel) Valid() bool {
	switch l {
	case LevelManual, LevelSemiAutomatic, LevelAutomatic, LevelEmergencyOnly:
		return true
	}
	return false
}

// AutomationRule declares when and how an automated operation may run.
// LastExecuted and ExecutionCount are mutated only by the evaluation loop.
type AutomationRule struct {
	RuleID               string
	Name                 string
	OperationType        OperationType
	Level                AutomationLevel
	TriggerConditions    map[string]float64
	ActionParameters     map[string]string
	Cooldown             time.Duration
	MaxExecutionsPerHour int
	Enabled              bool
	LastExecuted         *time.Time
	ExecutionCount       int
}

// AutomationExecution records one dispatched operation. Immutable once completed.
type AutomationExecution struct {
	ExecutionID   string
	RuleID        string
	OperationType OperationType
	ActionTaken   string
	TriggerReason string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Success       bool
	Result        string
	Error         string
	ActionLog     []string
	MetricsBefore map[string]float64
	MetricsAfter  map[string]float64
}

// Recommendation is the slice of the external recommendation feed the engine
// consumes: only type and priority gate optimization triggers.
type Recommendation struct {
	Type     string
	Priority Severity
}

// ErrorStats is the error/health reporter snapshot consumed by the classifier.
type ErrorStats struct {
	ErrorRate  float64
	Categories map[string]int
}

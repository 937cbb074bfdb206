package faults

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
)

// recoveryActionTable maps fault types to their canonical ordered actions.
var recoveryActionTable = map[models.FaultType][]string{
	models.FaultServiceUnavailable: {
		"restart_service",
		"check_service_dependencies",
		"enable_circuit_breaker",
	},
	models.FaultPerformanceDegradation: {
		"scale_up_service",
		"clear_caches",
		"optimize_queries",
	},
	models.FaultResourceExhaustion: {
		"scale_up_resources",
		"clear_temporary_files",
		"restart_memory_intensive_services",
	},
	models.FaultCascadeFailure: {
		"enable_circuit_breakers",
		"isolate_failed_services",
		"activate_fallback_services",
	},
	models.FaultConfigurationError: {
		"validate_configuration",
		"restore_backup_configuration",
		"restart_affected_services",
	},
}

// recoveryActions returns the canonical action list for the fault, with
// operations-team escalation wrapped around it for critical severity.
func recoveryActions(faultType models.FaultType, severity models.Severity) []string {
	base := recoveryActionTable[faultType]
	actions := make([]string, 0, len(base)+2)
	if severity == models.SeverityCritical {
		actions = append(actions, "alert_operations_team")
	}
	actions = append(actions, base...)
	if severity == models.SeverityCritical {
		actions = append(actions, "prepare_manual_intervention")
	}
	return actions
}

const unknownRootCause = "Unknown cause - requires investigation"

// deriveRootCause applies the best-effort attribution heuristic: observed
// dependency failures, resource metrics near their limits, and elevated error
// rate, joined in that order. It never claims certainty.
func deriveRootCause(candidate classify.Candidate, metricStore *store.MetricStore) string {
	causes := make([]string, 0, 3)

	if len(candidate.AffectedServices) > 0 {
		causes = append(causes, fmt.Sprintf("Dependency failure: %s", strings.Join(candidate.AffectedServices, ", ")))
	}

	constrained := make([]string, 0)
	for metric, limit := range classify.ResourceThresholds {
		latest, ok := metricStore.Latest(metric)
		if !ok {
			continue
		}
		if latest.Value >= limit*0.8 {
			constrained = append(constrained, metric)
		}
	}
	sort.Strings(constrained)
	for _, metric := range constrained {
		causes = append(causes, fmt.Sprintf("Resource constraint: %s", metric))
	}

	if latest, ok := metricStore.Latest("error_rate_percent"); ok && latest.Value > 10 {
		causes = append(causes, "High error rate")
	}

	if len(causes) == 0 {
		return unknownRootCause
	}
	return strings.Join(causes, "; ")
}

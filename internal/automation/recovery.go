package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-heal/internal/graph"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/remediation"
)

// RecoveryResult reports the outcome of one automated recovery run. ActionLog
// records every step regardless of overall success.
type RecoveryResult struct {
	Success   bool
	ActionLog []string
}

// RecoveryRecord is the history entry kept per recovery run.
type RecoveryRecord struct {
	FaultID   string
	FaultType models.FaultType
	Service   string
	Success   bool
	ActionLog []string
	At        time.Time
}

// RecoveryRunner executes the per-fault-type remediation sequences. Steps run
// in order with early exit once the service verifies healthy; a failing step
// is logged and the sequence continues to its next fallback.
type RecoveryRunner struct {
	logger      *slog.Logger
	driver      remediation.Driver
	graph       *graph.DependencyGraph
	scaler      *Scaler
	coordinator remediation.RecoveryCoordinator
	// settleWait separates a remediation step from its verification probe.
	settleWait time.Duration
}

// NewRecoveryRunner constructs a runner. coordinator may be nil.
func NewRecoveryRunner(logger *slog.Logger, driver remediation.Driver, depGraph *graph.DependencyGraph, scaler *Scaler, coordinator remediation.RecoveryCoordinator, settleWait time.Duration) *RecoveryRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if settleWait < 0 {
		settleWait = 0
	}
	return &RecoveryRunner{
		logger:      logger,
		driver:      driver,
		graph:       depGraph,
		scaler:      scaler,
		coordinator: coordinator,
		settleWait:  settleWait,
	}
}

// Run dispatches to the fault-type handler.
func (r *RecoveryRunner) Run(ctx context.Context, fault models.FaultEvent) RecoveryResult {
	switch fault.Type {
	case models.FaultServiceUnavailable:
		return r.recoverUnavailable(ctx, fault)
	case models.FaultPerformanceDegradation:
		return r.recoverPerformance(ctx, fault)
	case models.FaultResourceExhaustion:
		return r.recoverResources(ctx, fault)
	case models.FaultCascadeFailure:
		return r.recoverCascade(ctx, fault)
	case models.FaultConfigurationError:
		return r.recoverConfiguration(ctx, fault)
	default:
		r.logger.Warn("no recovery handler for fault type, treating as performance degradation",
			slog.String("fault_type", string(fault.Type)))
		return r.recoverPerformance(ctx, fault)
	}
}

type recoverySession struct {
	runner *RecoveryRunner
	log    []string
}

// step runs one remediation action, recording its outcome. Failures do not
// abort the sequence.
func (s *recoverySession) step(name string, fn func() error) bool {
	if err := fn(); err != nil {
		s.log = append(s.log, fmt.Sprintf("%s: failed: %v", name, err))
		return false
	}
	s.log = append(s.log, name+": ok")
	return true
}

// verify waits for the service to settle, then probes its health.
func (s *recoverySession) verify(ctx context.Context, service string) bool {
	if s.runner.settleWait > 0 {
		select {
		case <-ctx.Done():
			s.log = append(s.log, "wait: cancelled")
			return false
		case <-time.After(s.runner.settleWait):
			s.log = append(s.log, "wait: ok")
		}
	}
	healthy, err := s.runner.driver.CheckHealth(ctx, service)
	if err != nil {
		s.log = append(s.log, fmt.Sprintf("health_check %s: failed: %v", service, err))
		return false
	}
	s.log = append(s.log, fmt.Sprintf("health_check %s: healthy=%t", service, healthy))
	return healthy
}

func (s *recoverySession) giveUp(ctx context.Context, category, service string) RecoveryResult {
	if s.runner.coordinator != nil {
		accepted := s.runner.coordinator.TriggerManualRecovery(ctx, category, service)
		s.log = append(s.log, fmt.Sprintf("manual_recovery_requested: accepted=%t", accepted))
	}
	return RecoveryResult{Success: false, ActionLog: s.log}
}

func (r *RecoveryRunner) recoverUnavailable(ctx context.Context, fault models.FaultEvent) RecoveryResult {
	s := &recoverySession{runner: r}
	service := fault.ServiceName

	s.step("restart_service", func() error { return r.driver.RestartService(ctx, service) })
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	for _, dep := range r.dependencies(service) {
		name := dep
		s.step("restart_dependency "+name, func() error { return r.driver.RestartService(ctx, name) })
	}
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	s.step("enable_circuit_breaker", func() error { return r.driver.EnableCircuitBreaker(ctx, service) })
	return s.giveUp(ctx, "service", service)
}

func (r *RecoveryRunner) recoverPerformance(ctx context.Context, fault models.FaultEvent) RecoveryResult {
	s := &recoverySession{runner: r}
	service := fault.ServiceName

	if r.scaler != nil {
		s.step("scale_up_service", func() error {
			_, err := r.scaler.ForceScaleUp(ctx, service, "performance degradation recovery")
			return err
		})
		if s.verify(ctx, service) {
			return RecoveryResult{Success: true, ActionLog: s.log}
		}
	}

	s.step("clear_caches", func() error { return r.driver.ClearCaches(ctx, service) })
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	s.step("optimize_queries", func() error { return r.driver.OptimizeQueries(ctx, service) })
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}
	return s.giveUp(ctx, "performance", service)
}

func (r *RecoveryRunner) recoverResources(ctx context.Context, fault models.FaultEvent) RecoveryResult {
	s := &recoverySession{runner: r}
	service := fault.ServiceName

	if r.scaler != nil {
		s.step("scale_up_resources", func() error {
			_, err := r.scaler.ForceScaleUp(ctx, service, "resource exhaustion recovery")
			return err
		})
		if s.verify(ctx, service) {
			return RecoveryResult{Success: true, ActionLog: s.log}
		}
	}

	s.step("clear_temporary_files", func() error { return r.driver.ClearTemporaryFiles(ctx, service) })
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	s.step("restart_memory_intensive_services", func() error { return r.driver.RestartService(ctx, service) })
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}
	return s.giveUp(ctx, "resources", service)
}

func (r *RecoveryRunner) recoverCascade(ctx context.Context, fault models.FaultEvent) RecoveryResult {
	s := &recoverySession{runner: r}
	service := fault.ServiceName

	for _, affected := range fault.AffectedServices {
		name := affected
		s.step("enable_circuit_breaker "+name, func() error { return r.driver.EnableCircuitBreaker(ctx, name) })
	}
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	for _, affected := range fault.AffectedServices {
		name := affected
		s.step("isolate_service "+name, func() error { return r.driver.IsolateService(ctx, name) })
	}
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	s.step("activate_fallback_services", func() error { return r.driver.ActivateFallback(ctx, service) })
	if s.verify(ctx, service) {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}
	return s.giveUp(ctx, "cascade", service)
}

func (r *RecoveryRunner) recoverConfiguration(ctx context.Context, fault models.FaultEvent) RecoveryResult {
	s := &recoverySession{runner: r}
	service := fault.ServiceName

	valid := false
	s.step("validate_configuration", func() error {
		ok, err := r.driver.ValidateConfiguration(ctx, service)
		valid = ok
		return err
	})
	if valid {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}

	s.step("restore_backup_configuration", func() error { return r.driver.RestoreConfiguration(ctx, service) })
	s.step("restart_affected_services", func() error { return r.driver.RestartService(ctx, service) })

	s.step("validate_configuration", func() error {
		ok, err := r.driver.ValidateConfiguration(ctx, service)
		valid = ok
		return err
	})
	if valid {
		return RecoveryResult{Success: true, ActionLog: s.log}
	}
	return s.giveUp(ctx, "configuration", service)
}

func (r *RecoveryRunner) dependencies(service string) []string {
	if r.graph == nil {
		return nil
	}
	deps := r.graph.DependenciesOf(service)
	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		names = append(names, dep.DependencyName)
	}
	return names
}

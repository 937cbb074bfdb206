package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/remediation"
	"github.com/miradorstack/mirador-heal/internal/store"
)

const (
	// DefaultEvaluationInterval paces the rule evaluation loop.
	DefaultEvaluationInterval = 60 * time.Second
	// DefaultMaxConcurrentOperations bounds in-flight executions; a tick that
	// finds the engine at capacity is skipped entirely.
	DefaultMaxConcurrentOperations = 3
	// DefaultMaxRecoveriesPerHour bounds automated recoveries per service.
	DefaultMaxRecoveriesPerHour = 3
	// executionHistorySize bounds the execution record buffer.
	executionHistorySize = 500

	evalFailureBackoff = 2 * time.Second
)

// RecommendationSource exposes the external recommendation feed that gates
// optimization-automation triggers.
type RecommendationSource interface {
	ListRecommendations(ctx context.Context) ([]models.Recommendation, error)
}

// EngineConfig carries the policy knobs for the automation engine.
type EngineConfig struct {
	EvaluationInterval      time.Duration
	MaxConcurrentOperations int
	MaxRecoveriesPerHour    int
	// RecoveryOptOut lists services excluded from automated recovery.
	RecoveryOptOut []string
}

func (c *EngineConfig) normalise() {
	if c.EvaluationInterval <= 0 {
		c.EvaluationInterval = DefaultEvaluationInterval
	}
	if c.MaxConcurrentOperations <= 0 {
		c.MaxConcurrentOperations = DefaultMaxConcurrentOperations
	}
	if c.MaxRecoveriesPerHour <= 0 {
		c.MaxRecoveriesPerHour = DefaultMaxRecoveriesPerHour
	}
}

// BackupRecord is the history entry kept per backup run.
type BackupRecord struct {
	Scope      string
	ArtifactID string
	Success    bool
	At         time.Time
}

// Status is the operator-facing snapshot of the engine.
type Status struct {
	Running          bool
	ActiveOperations []string
	Rules            []models.AutomationRule
	RecentExecutions []models.AutomationExecution
	PendingApprovals []models.AutomationExecution
	ScalingHistory   []ScalingEvent
	RecoveryHistory  []RecoveryRecord
	BackupHistory    []BackupRecord
}

// Engine owns the automation rules and execution history, evaluates rules each
// tick against the latest metric snapshot, and dispatches bounded-concurrency
// executions. It is the only writer of rule state.
type Engine struct {
	logger    *slog.Logger
	store     *store.MetricStore
	driver    remediation.Driver
	scaler    *Scaler
	recovery  *RecoveryRunner
	recSource RecommendationSource
	cfg       EngineConfig
	// emergency reports whether emergency-only rules may run; typically wired
	// to "any active critical fault".
	emergency func() bool

	mu              sync.Mutex
	rules           map[string]*models.AutomationRule
	ruleOrder       []string
	executions      []*models.AutomationExecution
	activeOps       map[string]string
	pending         map[string]*models.AutomationExecution
	pendingOrder    []string
	recoveryTimes   map[string][]time.Time
	recoveryHistory []RecoveryRecord
	backupHistory   []BackupRecord
	optOut          map[string]bool

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	// opCtx outlives the evaluation loop: in-flight operations are not
	// forcibly aborted on shutdown.
	opCtx context.Context
}

// NewEngine constructs the automation engine. recSource and emergency may be nil.
func NewEngine(
	logger *slog.Logger,
	metricStore *store.MetricStore,
	driver remediation.Driver,
	scaler *Scaler,
	recovery *RecoveryRunner,
	recSource RecommendationSource,
	cfg EngineConfig,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalise()

	optOut := make(map[string]bool, len(cfg.RecoveryOptOut))
	for _, svc := range cfg.RecoveryOptOut {
		optOut[svc] = true
	}

	return &Engine{
		logger:        logger,
		store:         metricStore,
		driver:        driver,
		scaler:        scaler,
		recovery:      recovery,
		recSource:     recSource,
		cfg:           cfg,
		rules:         make(map[string]*models.AutomationRule),
		activeOps:     make(map[string]string),
		pending:       make(map[string]*models.AutomationExecution),
		recoveryTimes: make(map[string][]time.Time),
		optOut:        optOut,
		opCtx:         context.Background(),
	}
}

// SetEmergencyCheck wires the predicate gating emergency-only rules.
func (e *Engine) SetEmergencyCheck(fn func() bool) {
	e.emergency = fn
}

// AddRule installs or replaces a rule after validating its closed enums.
func (e *Engine) AddRule(rule models.AutomationRule) error {
	if rule.RuleID == "" {
		return fmt.Errorf("rule id is required")
	}
	if !rule.OperationType.Valid() {
		return fmt.Errorf("unknown operation type %q", rule.OperationType)
	}
	if !rule.Level.Valid() {
		return fmt.Errorf("unknown automation level %q", rule.Level)
	}
	if rule.MaxExecutionsPerHour <= 0 {
		return fmt.Errorf("max executions per hour must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.rules[rule.RuleID]; !ok {
		e.ruleOrder = append(e.ruleOrder, rule.RuleID)
	}
	copied := rule
	e.rules[rule.RuleID] = &copied
	return nil
}

// SetRuleEnabled flips a rule's enabled flag.
func (e *Engine) SetRuleEnabled(ruleID string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return fmt.Errorf("no rule with id %s", ruleID)
	}
	rule.Enabled = enabled
	return nil
}

// Rules returns copies of all installed rules in install order.
func (e *Engine) Rules() []models.AutomationRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rulesLocked()
}

func (e *Engine) rulesLocked() []models.AutomationRule {
	out := make([]models.AutomationRule, 0, len(e.ruleOrder))
	for _, id := range e.ruleOrder {
		out = append(out, *e.rules[id])
	}
	return out
}

// Start launches the evaluation loop. Idempotent.
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.run(loopCtx)
	e.logger.Info("automation loop started", slog.Duration("interval", e.cfg.EvaluationInterval))
}

// Stop cancels the evaluation loop. In-flight operations keep running to
// completion but nothing new is dispatched. Idempotent.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if !e.running {
		return
	}
	e.cancel()
	<-e.done
	e.running = false
	e.cancel = nil
	e.done = nil
	e.logger.Info("automation loop stopped")
}

// Running reports whether the evaluation loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.EvaluationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ok := e.safeTick(ctx); !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(evalFailureBackoff):
				}
			}
		}
	}
}

func (e *Engine) safeTick(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("evaluation tick panicked", slog.Any("panic", r))
			ok = false
		}
	}()

	start := time.Now()
	e.EvaluateTick(ctx, start)
	metrics.ObserveEvaluationTick(time.Since(start))
	return true
}

// EvaluateTick runs one rule evaluation pass. When the engine is at its
// concurrency ceiling the whole tick is a no-op: load is shed, not queued.
func (e *Engine) EvaluateTick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	if len(e.activeOps) >= e.cfg.MaxConcurrentOperations {
		e.mu.Unlock()
		e.logger.Info("automation at capacity, skipping tick",
			slog.Int("active_operations", e.cfg.MaxConcurrentOperations))
		return
	}
	rules := e.rulesLocked()
	e.mu.Unlock()

	snapshot := e.snapshot()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		triggered, reason := e.shouldTrigger(ctx, rule, snapshot, now)
		if !triggered {
			continue
		}

		switch rule.Level {
		case models.LevelManual:
			// Policy no-op: manual rules never auto-execute.
			e.logger.Info("rule triggered but requires manual execution",
				slog.String("rule_id", rule.RuleID), slog.String("reason", reason))
			metrics.ExecutionRecorded(string(rule.OperationType), metrics.OutcomeSkipped)
		case models.LevelSemiAutomatic:
			e.flagForApproval(rule.RuleID, reason, snapshot, now)
		case models.LevelEmergencyOnly:
			if e.emergency == nil || !e.emergency() {
				e.logger.Info("emergency-only rule triggered outside emergency",
					slog.String("rule_id", rule.RuleID), slog.String("reason", reason))
				metrics.ExecutionRecorded(string(rule.OperationType), metrics.OutcomeSkipped)
				continue
			}
			e.dispatch(rule.RuleID, reason, snapshot, now)
		case models.LevelAutomatic:
			e.dispatch(rule.RuleID, reason, snapshot, now)
		}

		e.mu.Lock()
		atCapacity := len(e.activeOps) >= e.cfg.MaxConcurrentOperations
		e.mu.Unlock()
		if atCapacity {
			return
		}
	}
}

// shouldTrigger applies cooldown, the rolling-hour execution cap, and the
// operation-type condition. Guard rejections are deliberate no-ops.
func (e *Engine) shouldTrigger(ctx context.Context, rule models.AutomationRule, snapshot map[string]float64, now time.Time) (bool, string) {
	if rule.LastExecuted != nil && now.Sub(*rule.LastExecuted) < rule.Cooldown {
		return false, ""
	}

	e.mu.Lock()
	recent := e.executionsInLastHourLocked(rule.RuleID, now)
	e.mu.Unlock()
	if recent >= rule.MaxExecutionsPerHour {
		e.logger.Info("rule at hourly execution cap",
			slog.String("rule_id", rule.RuleID), slog.Int("executions", recent))
		return false, ""
	}

	switch rule.OperationType {
	case models.OperationScaling:
		for metric, threshold := range rule.TriggerConditions {
			if metric == "interval_hours" {
				continue
			}
			if value, ok := snapshot[metric]; ok && value > threshold {
				return true, fmt.Sprintf("%s %.1f above threshold %.1f", metric, value, threshold)
			}
		}
		return false, ""
	case models.OperationBackup, models.OperationMaintenance, models.OperationSecurity:
		return intervalElapsed(rule, now)
	case models.OperationOptimization:
		return e.outstandingOptimization(ctx)
	case models.OperationRecovery:
		// Recovery is driven by fault subscription, not by rule evaluation.
		return false, ""
	default:
		return false, ""
	}
}

func intervalElapsed(rule models.AutomationRule, now time.Time) (bool, string) {
	hours, ok := rule.TriggerConditions["interval_hours"]
	if !ok || hours <= 0 {
		return false, ""
	}
	if rule.LastExecuted == nil {
		return true, "never executed"
	}
	elapsed := now.Sub(*rule.LastExecuted)
	if elapsed >= time.Duration(hours*float64(time.Hour)) {
		return true, fmt.Sprintf("%.1fh since last execution", elapsed.Hours())
	}
	return false, ""
}

func (e *Engine) outstandingOptimization(ctx context.Context) (bool, string) {
	if e.recSource == nil {
		return false, ""
	}
	recs, err := e.recSource.ListRecommendations(ctx)
	if err != nil {
		e.logger.Warn("recommendation source unavailable", slog.Any("error", err))
		return false, ""
	}
	for _, rec := range recs {
		if rec.Priority == models.SeverityHigh || rec.Priority == models.SeverityCritical {
			return true, fmt.Sprintf("outstanding %s-priority recommendation: %s", rec.Priority, rec.Type)
		}
	}
	return false, ""
}

// flagForApproval parks a semi-automatic trigger for external approval.
// LastExecuted is consumed so the same condition does not re-flag every tick.
func (e *Engine) flagForApproval(ruleID, reason string, snapshot map[string]float64, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, ok := e.rules[ruleID]
	if !ok {
		return
	}
	at := now
	rule.LastExecuted = &at

	exec := &models.AutomationExecution{
		ExecutionID:   "exec-" + uuid.NewString(),
		RuleID:        ruleID,
		OperationType: rule.OperationType,
		ActionTaken:   "pending_approval",
		TriggerReason: reason,
		StartedAt:     now,
		MetricsBefore: snapshot,
	}
	e.pending[exec.ExecutionID] = exec
	e.pendingOrder = append(e.pendingOrder, exec.ExecutionID)

	e.logger.Info("execution flagged for approval",
		slog.String("rule_id", ruleID),
		slog.String("execution_id", exec.ExecutionID),
		slog.String("reason", reason))
}

// PendingApprovals returns copies of executions awaiting approval.
func (e *Engine) PendingApprovals() []models.AutomationExecution {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.AutomationExecution, 0, len(e.pendingOrder))
	for _, id := range e.pendingOrder {
		if exec, ok := e.pending[id]; ok {
			out = append(out, *exec)
		}
	}
	return out
}

// Approve releases a flagged execution for dispatch.
func (e *Engine) Approve(executionID string) error {
	e.mu.Lock()
	exec, ok := e.pending[executionID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("no pending execution with id %s", executionID)
	}
	delete(e.pending, executionID)
	for i, id := range e.pendingOrder {
		if id == executionID {
			e.pendingOrder = append(e.pendingOrder[:i], e.pendingOrder[i+1:]...)
			break
		}
	}
	atCapacity := len(e.activeOps) >= e.cfg.MaxConcurrentOperations
	e.mu.Unlock()

	if atCapacity {
		return fmt.Errorf("automation at capacity, approval for %s not dispatched", executionID)
	}

	e.dispatch(exec.RuleID, "approved: "+exec.TriggerReason, e.snapshot(), time.Now())
	return nil
}

// dispatch records the execution synchronously (so cooldown and the hourly cap
// observe it immediately) and runs the operation in its own goroutine.
func (e *Engine) dispatch(ruleID, reason string, snapshot map[string]float64, now time.Time) {
	e.mu.Lock()
	rule, ok := e.rules[ruleID]
	if !ok {
		e.mu.Unlock()
		return
	}

	exec := &models.AutomationExecution{
		ExecutionID:   "exec-" + uuid.NewString(),
		RuleID:        ruleID,
		OperationType: rule.OperationType,
		TriggerReason: reason,
		StartedAt:     now,
		MetricsBefore: snapshot,
	}
	at := now
	rule.LastExecuted = &at
	rule.ExecutionCount++
	e.appendExecutionLocked(exec)
	e.activeOps[exec.ExecutionID] = string(rule.OperationType)
	params := copyParams(rule.ActionParameters)
	operation := rule.OperationType
	e.mu.Unlock()

	metrics.SetActiveOperations(e.activeOperationCount())
	e.logger.Info("dispatching automation",
		slog.String("rule_id", ruleID),
		slog.String("execution_id", exec.ExecutionID),
		slog.String("operation", string(operation)),
		slog.String("reason", reason))

	go e.runExecution(exec, operation, params, snapshot)
}

func (e *Engine) runExecution(exec *models.AutomationExecution, operation models.OperationType, params map[string]string, snapshot map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("execution panicked",
				slog.String("execution_id", exec.ExecutionID), slog.Any("panic", r))
			e.completeExecution(exec, "panic", "", fmt.Sprintf("panic: %v", r), false)
		}
	}()

	action, result, err := e.perform(e.opCtx, operation, params, snapshot)
	if err != nil {
		e.completeExecution(exec, action, "", err.Error(), false)
		return
	}
	e.completeExecution(exec, action, result, "", true)
}

func (e *Engine) perform(ctx context.Context, operation models.OperationType, params map[string]string, snapshot map[string]float64) (action, result string, err error) {
	service := params["service"]

	switch operation {
	case models.OperationScaling:
		if service == "" {
			return "scale", "", fmt.Errorf("scaling rule missing service parameter")
		}
		decision := e.scaler.Decide(service, snapshot)
		res, applyErr := e.scaler.Apply(ctx, service, decision)
		return "scale_" + string(decision.Direction), res, applyErr

	case models.OperationBackup:
		scope := params["scope"]
		if scope == "" {
			scope = "full"
		}
		artifact, backupErr := e.driver.TriggerBackup(ctx, scope)
		e.recordBackup(scope, artifact, backupErr == nil)
		return "trigger_backup", artifact, backupErr

	case models.OperationOptimization:
		if service == "" {
			return "optimize", "", fmt.Errorf("optimization rule missing service parameter")
		}
		if optErr := e.driver.OptimizeQueries(ctx, service); optErr != nil {
			return "optimize_queries", "", optErr
		}
		return "optimize_queries", "optimizations applied to " + service, nil

	case models.OperationMaintenance:
		if service == "" {
			return "maintenance", "", fmt.Errorf("maintenance rule missing service parameter")
		}
		if cleanErr := e.driver.ClearTemporaryFiles(ctx, service); cleanErr != nil {
			return "clear_temporary_files", "", cleanErr
		}
		return "clear_temporary_files", "scratch space reclaimed on " + service, nil

	case models.OperationSecurity:
		if service == "" {
			return "security", "", fmt.Errorf("security rule missing service parameter")
		}
		valid, valErr := e.driver.ValidateConfiguration(ctx, service)
		if valErr != nil {
			return "validate_configuration", "", valErr
		}
		if valid {
			return "validate_configuration", "configuration valid for " + service, nil
		}
		if restoreErr := e.driver.RestoreConfiguration(ctx, service); restoreErr != nil {
			return "restore_configuration", "", restoreErr
		}
		return "restore_configuration", "configuration restored for " + service, nil

	case models.OperationRecovery:
		if service == "" {
			return "recovery", "", fmt.Errorf("recovery rule missing service parameter")
		}
		healthy, healthErr := e.driver.CheckHealth(ctx, service)
		if healthErr != nil {
			return "health_check", "", healthErr
		}
		if healthy {
			return "health_check", service + " healthy, no action", nil
		}
		if restartErr := e.driver.RestartService(ctx, service); restartErr != nil {
			return "restart_service", "", restartErr
		}
		return "restart_service", service + " restarted", nil

	default:
		return "unknown", "", fmt.Errorf("no handler for operation type %q", operation)
	}
}

func (e *Engine) completeExecution(exec *models.AutomationExecution, action, result, errMsg string, success bool) {
	after := e.snapshot()
	now := time.Now()

	e.mu.Lock()
	exec.ActionTaken = action
	exec.Result = result
	exec.Error = errMsg
	exec.Success = success
	exec.CompletedAt = &now
	exec.MetricsAfter = after
	delete(e.activeOps, exec.ExecutionID)
	e.mu.Unlock()

	outcome := metrics.OutcomeSuccess
	if !success {
		outcome = metrics.OutcomeError
	}
	metrics.ExecutionRecorded(string(exec.OperationType), outcome)
	metrics.SetActiveOperations(e.activeOperationCount())

	level := slog.LevelInfo
	if !success {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "execution completed",
		slog.String("execution_id", exec.ExecutionID),
		slog.String("action", action),
		slog.Bool("success", success),
		slog.String("error", errMsg))
}

// HandleFault is the fault subscription entry point. It applies the recovery
// guards and, when allowed, runs the fault-type recovery sequence as an
// independently tracked operation.
func (e *Engine) HandleFault(fault models.FaultEvent) {
	if e.recovery == nil {
		return
	}
	if fault.Severity == models.SeverityCritical {
		e.logger.Info("critical fault requires manual intervention, skipping automated recovery",
			slog.String("fault_id", fault.FaultID), slog.String("service", fault.ServiceName))
		metrics.ExecutionRecorded(string(models.OperationRecovery), metrics.OutcomeSkipped)
		return
	}
	if e.optOut[fault.ServiceName] {
		e.logger.Info("service opted out of automated recovery",
			slog.String("service", fault.ServiceName))
		metrics.ExecutionRecorded(string(models.OperationRecovery), metrics.OutcomeSkipped)
		return
	}

	now := time.Now()
	e.mu.Lock()
	recent := prune(e.recoveryTimes[fault.ServiceName], now.Add(-time.Hour))
	if len(recent) >= e.cfg.MaxRecoveriesPerHour {
		e.recoveryTimes[fault.ServiceName] = recent
		e.mu.Unlock()
		e.logger.Info("recovery rate cap reached for service",
			slog.String("service", fault.ServiceName),
			slog.Int("recoveries_last_hour", len(recent)))
		metrics.ExecutionRecorded(string(models.OperationRecovery), metrics.OutcomeSkipped)
		return
	}
	if len(e.activeOps) >= e.cfg.MaxConcurrentOperations {
		e.mu.Unlock()
		e.logger.Info("automation at capacity, shedding recovery",
			slog.String("fault_id", fault.FaultID))
		metrics.ExecutionRecorded(string(models.OperationRecovery), metrics.OutcomeSkipped)
		return
	}

	exec := &models.AutomationExecution{
		ExecutionID:   "exec-" + uuid.NewString(),
		RuleID:        "fault:" + fault.FaultID,
		OperationType: models.OperationRecovery,
		TriggerReason: fmt.Sprintf("fault %s (%s) on %s", fault.FaultID, fault.Type, fault.ServiceName),
		StartedAt:     now,
		MetricsBefore: flattenFaultMetrics(fault),
	}
	e.recoveryTimes[fault.ServiceName] = append(recent, now)
	e.appendExecutionLocked(exec)
	e.activeOps[exec.ExecutionID] = string(models.OperationRecovery)
	e.mu.Unlock()

	metrics.SetActiveOperations(e.activeOperationCount())

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("recovery panicked",
					slog.String("fault_id", fault.FaultID), slog.Any("panic", r))
				e.completeExecution(exec, "automated_recovery", "", fmt.Sprintf("panic: %v", r), false)
			}
		}()

		result := e.recovery.Run(e.opCtx, fault)

		e.mu.Lock()
		exec.ActionLog = append([]string(nil), result.ActionLog...)
		e.recoveryHistory = append(e.recoveryHistory, RecoveryRecord{
			FaultID:   fault.FaultID,
			FaultType: fault.Type,
			Service:   fault.ServiceName,
			Success:   result.Success,
			ActionLog: result.ActionLog,
			At:        now,
		})
		if len(e.recoveryHistory) > 100 {
			e.recoveryHistory = e.recoveryHistory[len(e.recoveryHistory)-100:]
		}
		e.mu.Unlock()

		errMsg := ""
		if !result.Success {
			errMsg = "recovery sequence exhausted without verified recovery"
		}
		e.completeExecution(exec, "automated_recovery", fmt.Sprintf("%d steps executed", len(result.ActionLog)), errMsg, result.Success)
	}()
}

// Executions returns copies of recent execution records, oldest first.
func (e *Engine) Executions() []models.AutomationExecution {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.AutomationExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		out = append(out, *exec)
	}
	return out
}

// GetStatus assembles the operator-facing engine snapshot.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	ops := make([]string, 0, len(e.activeOps))
	for id := range e.activeOps {
		ops = append(ops, id)
	}
	rules := e.rulesLocked()
	recent := make([]models.AutomationExecution, 0, len(e.executions))
	for _, exec := range e.executions {
		recent = append(recent, *exec)
	}
	recoveries := make([]RecoveryRecord, len(e.recoveryHistory))
	copy(recoveries, e.recoveryHistory)
	backups := make([]BackupRecord, len(e.backupHistory))
	copy(backups, e.backupHistory)
	e.mu.Unlock()

	return Status{
		Running:          e.Running(),
		ActiveOperations: ops,
		Rules:            rules,
		RecentExecutions: recent,
		PendingApprovals: e.PendingApprovals(),
		ScalingHistory:   e.scaler.History(),
		RecoveryHistory:  recoveries,
		BackupHistory:    backups,
	}
}

func (e *Engine) recordBackup(scope, artifact string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backupHistory = append(e.backupHistory, BackupRecord{
		Scope:      scope,
		ArtifactID: artifact,
		Success:    success,
		At:         time.Now(),
	})
	if len(e.backupHistory) > 100 {
		e.backupHistory = e.backupHistory[len(e.backupHistory)-100:]
	}
}

func (e *Engine) appendExecutionLocked(exec *models.AutomationExecution) {
	e.executions = append(e.executions, exec)
	if len(e.executions) > executionHistorySize {
		e.executions = e.executions[len(e.executions)-executionHistorySize:]
	}
}

func (e *Engine) executionsInLastHourLocked(ruleID string, now time.Time) int {
	cutoff := now.Add(-time.Hour)
	count := 0
	for _, exec := range e.executions {
		if exec.RuleID == ruleID && exec.StartedAt.After(cutoff) {
			count++
		}
	}
	return count
}

func (e *Engine) activeOperationCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeOps)
}

// snapshot flattens the latest metric summary into name -> value.
func (e *Engine) snapshot() map[string]float64 {
	summary := e.store.Summary()
	flat := make(map[string]float64, len(summary))
	for name, point := range summary {
		flat[name] = point.Value
	}
	return flat
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func flattenFaultMetrics(fault models.FaultEvent) map[string]float64 {
	out := make(map[string]float64, len(fault.Metrics))
	for k, v := range fault.Metrics {
		out[k] = v
	}
	return out
}

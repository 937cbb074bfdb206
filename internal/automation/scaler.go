package automation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/remediation"
)

// Scale thresholds. Up-reasons accumulate; down requires every quiet condition.
const (
	scaleUpCPUPercent    = 80.0
	scaleUpMemoryPercent = 85.0
	scaleUpResponseMs    = 2000.0
	scaleUpErrorPercent  = 5.0

	scaleDownCPUPercent    = 30.0
	scaleDownMemoryPercent = 40.0
	scaleDownResponseMs    = 1000.0
	scaleDownErrorPercent  = 1.0
)

// ScalingPolicy bounds instance counts and paces successive scaling actions.
type ScalingPolicy struct {
	MinInstances      int
	MaxInstances      int
	StartInstances    int
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
}

// DefaultScalingPolicy mirrors the platform defaults.
func DefaultScalingPolicy() ScalingPolicy {
	return ScalingPolicy{
		MinInstances:      1,
		MaxInstances:      10,
		StartInstances:    2,
		ScaleUpCooldown:   300 * time.Second,
		ScaleDownCooldown: 600 * time.Second,
	}
}

func (p *ScalingPolicy) normalise() {
	if p.MinInstances < 1 {
		p.MinInstances = 1
	}
	if p.MaxInstances < p.MinInstances {
		p.MaxInstances = p.MinInstances
	}
	if p.StartInstances < p.MinInstances {
		p.StartInstances = p.MinInstances
	}
	if p.StartInstances > p.MaxInstances {
		p.StartInstances = p.MaxInstances
	}
	if p.ScaleUpCooldown <= 0 {
		p.ScaleUpCooldown = 300 * time.Second
	}
	if p.ScaleDownCooldown <= 0 {
		p.ScaleDownCooldown = 600 * time.Second
	}
}

// ScaleDirection is the outcome of a scaling decision.
type ScaleDirection string

const (
	ScaleNone ScaleDirection = "none"
	ScaleUp   ScaleDirection = "up"
	ScaleDown ScaleDirection = "down"
)

// ScaleDecision describes what the scaler wants to do for one service.
type ScaleDecision struct {
	Direction            ScaleDirection
	CurrentInstances     int
	RecommendedInstances int
	Reasons              []string
}

// ScalingEvent records an applied scaling action.
type ScalingEvent struct {
	Service   string
	Direction ScaleDirection
	From      int
	To        int
	Reason    string
	At        time.Time
}

// Scaler makes bounded scale-up/scale-down decisions per service and applies
// them through the remediation driver, honouring per-service cooldowns.
type Scaler struct {
	logger *slog.Logger
	driver remediation.Driver
	policy ScalingPolicy

	mu            sync.Mutex
	instances     map[string]int
	cooldownUntil map[string]time.Time
	history       []ScalingEvent
}

// NewScaler constructs a Scaler.
func NewScaler(logger *slog.Logger, driver remediation.Driver, policy ScalingPolicy) *Scaler {
	if logger == nil {
		logger = slog.Default()
	}
	policy.normalise()
	return &Scaler{
		logger:        logger,
		driver:        driver,
		policy:        policy,
		instances:     make(map[string]int),
		cooldownUntil: make(map[string]time.Time),
	}
}

// CurrentInstances returns the tracked instance count for a service.
func (s *Scaler) CurrentInstances(service string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(service)
}

func (s *Scaler) currentLocked(service string) int {
	if n, ok := s.instances[service]; ok {
		return n
	}
	s.instances[service] = s.policy.StartInstances
	return s.policy.StartInstances
}

// Decide computes the scaling decision for a service from the flattened metric
// snapshot. The recommendation is always clamped to [min, max].
func (s *Scaler) Decide(service string, snapshot map[string]float64) ScaleDecision {
	s.mu.Lock()
	current := s.currentLocked(service)
	s.mu.Unlock()

	decision := ScaleDecision{
		Direction:            ScaleNone,
		CurrentInstances:     current,
		RecommendedInstances: current,
	}

	cpu, hasCPU := snapshot["cpu_usage_percent"]
	mem, hasMem := snapshot["memory_usage_percent"]
	rt, hasRT := snapshot["response_time_ms"]
	errRate, hasErr := snapshot["error_rate_percent"]

	if hasCPU && cpu > scaleUpCPUPercent {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("cpu %.1f%% above %.0f%%", cpu, scaleUpCPUPercent))
	}
	if hasMem && mem > scaleUpMemoryPercent {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("memory %.1f%% above %.0f%%", mem, scaleUpMemoryPercent))
	}
	if hasRT && rt > scaleUpResponseMs {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("response time %.0fms above %.0fms", rt, scaleUpResponseMs))
	}
	if hasErr && errRate > scaleUpErrorPercent {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("error rate %.1f%% above %.0f%%", errRate, scaleUpErrorPercent))
	}

	if len(decision.Reasons) > 0 {
		decision.Direction = ScaleUp
		decision.RecommendedInstances = clampInstances(current+1, s.policy)
		if decision.RecommendedInstances == current {
			decision.Direction = ScaleNone
			decision.Reasons = append(decision.Reasons, "already at max instances")
		}
		return decision
	}

	quiet := hasCPU && cpu < scaleDownCPUPercent &&
		hasMem && mem < scaleDownMemoryPercent &&
		hasRT && rt < scaleDownResponseMs &&
		hasErr && errRate < scaleDownErrorPercent

	if quiet && current > s.policy.MinInstances {
		decision.Direction = ScaleDown
		decision.RecommendedInstances = clampInstances(current-1, s.policy)
		decision.Reasons = append(decision.Reasons, "all load signals below scale-down thresholds")
	}
	return decision
}

// Apply executes a decision unless the service is still cooling down from a
// previous scaling action. Returns a human-readable result.
func (s *Scaler) Apply(ctx context.Context, service string, decision ScaleDecision) (string, error) {
	if decision.Direction == ScaleNone {
		return "no scaling required", nil
	}

	now := time.Now()
	s.mu.Lock()
	if until, ok := s.cooldownUntil[service]; ok && now.Before(until) {
		s.mu.Unlock()
		return fmt.Sprintf("scaling for %s in cooldown until %s", service, until.Format(time.RFC3339)), nil
	}
	s.mu.Unlock()

	if err := s.driver.ScaleService(ctx, service, decision.RecommendedInstances); err != nil {
		return "", fmt.Errorf("scale %s to %d: %w", service, decision.RecommendedInstances, err)
	}

	cooldown := s.policy.ScaleUpCooldown
	if decision.Direction == ScaleDown {
		cooldown = s.policy.ScaleDownCooldown
	}

	s.mu.Lock()
	s.instances[service] = decision.RecommendedInstances
	s.cooldownUntil[service] = now.Add(cooldown)
	s.history = append(s.history, ScalingEvent{
		Service:   service,
		Direction: decision.Direction,
		From:      decision.CurrentInstances,
		To:        decision.RecommendedInstances,
		Reason:    strings.Join(decision.Reasons, "; "),
		At:        now,
	})
	if len(s.history) > 100 {
		s.history = s.history[len(s.history)-100:]
	}
	s.mu.Unlock()

	s.logger.Info("scaling applied",
		slog.String("service", service),
		slog.String("direction", string(decision.Direction)),
		slog.Int("from", decision.CurrentInstances),
		slog.Int("to", decision.RecommendedInstances),
	)
	return fmt.Sprintf("scaled %s from %d to %d instances", service, decision.CurrentInstances, decision.RecommendedInstances), nil
}

// ForceScaleUp applies a one-step scale-up regardless of current load signals.
// Used by recovery sequences; bounds and cooldowns still apply.
func (s *Scaler) ForceScaleUp(ctx context.Context, service, reason string) (string, error) {
	s.mu.Lock()
	current := s.currentLocked(service)
	s.mu.Unlock()

	recommended := clampInstances(current+1, s.policy)
	if recommended == current {
		return fmt.Sprintf("%s already at max instances", service), nil
	}
	return s.Apply(ctx, service, ScaleDecision{
		Direction:            ScaleUp,
		CurrentInstances:     current,
		RecommendedInstances: recommended,
		Reasons:              []string{reason},
	})
}

// History returns applied scaling events, newest last.
func (s *Scaler) History() []ScalingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScalingEvent, len(s.history))
	copy(out, s.history)
	return out
}

func clampInstances(n int, policy ScalingPolicy) int {
	if n < policy.MinInstances {
		return policy.MinInstances
	}
	if n > policy.MaxInstances {
		return policy.MaxInstances
	}
	return n
}

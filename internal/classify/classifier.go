package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/graph"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
)

// ErrorStatsSource exposes the error/health reporter collaborator.
type ErrorStatsSource interface {
	GetErrorStatistics(ctx context.Context) (models.ErrorStats, error)
}

// Candidate is a fault proposal emitted by a detection strategy. The lifecycle
// manager decides whether it becomes a FaultEvent.
type Candidate struct {
	Type             models.FaultType
	Severity         models.Severity
	Service          string
	Description      string
	Metrics          map[string]float64
	AffectedServices []string
	// PatternID is set for statistical-anomaly candidates so resolutions can
	// feed the pattern confidence average.
	PatternID string
}

// Classifier runs the four detection strategies against the metric store and
// dependency graph. Each strategy is isolated: a panic or collaborator error in
// one yields no candidates from that strategy and leaves the others untouched.
type Classifier struct {
	logger   *slog.Logger
	store    *store.MetricStore
	graph    *graph.DependencyGraph
	errStats ErrorStatsSource
	patterns *PatternRegistry

	// configErrorLimit is the reported configuration-error count above which a
	// CONFIGURATION_ERROR candidate is emitted.
	configErrorLimit int
}

// NewClassifier constructs a classifier. errStats may be nil when no reporter
// collaborator is wired.
func NewClassifier(logger *slog.Logger, metricStore *store.MetricStore, depGraph *graph.DependencyGraph, errStats ErrorStatsSource, patterns *PatternRegistry) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if patterns == nil {
		patterns = NewPatternRegistry()
	}
	return &Classifier{
		logger:           logger,
		store:            metricStore,
		graph:            depGraph,
		errStats:         errStats,
		patterns:         patterns,
		configErrorLimit: 5,
	}
}

// Patterns exposes the registry so the lifecycle manager can update confidence.
func (c *Classifier) Patterns() *PatternRegistry {
	return c.patterns
}

// Detect runs all strategies and returns the combined candidate list.
func (c *Classifier) Detect(ctx context.Context) []Candidate {
	strategies := []struct {
		name string
		run  func(context.Context) []Candidate
	}{
		{"service_health", c.detectServiceHealth},
		{"resource_threshold", c.detectResourceThresholds},
		{"dependency_cascade", c.detectCascades},
		{"statistical_anomaly", c.detectAnomalies},
	}

	var candidates []Candidate
	for _, strategy := range strategies {
		candidates = append(candidates, c.runIsolated(ctx, strategy.name, strategy.run)...)
	}
	return candidates
}

func (c *Classifier) runIsolated(ctx context.Context, name string, run func(context.Context) []Candidate) (out []Candidate) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("detection strategy panicked",
				slog.String("strategy", name), slog.Any("panic", r))
			out = nil
		}
	}()
	return run(ctx)
}

// HealthMetric returns the conventional health metric name for a service.
// Health samples carry 1.0 for up, values below 1.0 for degraded or down.
func HealthMetric(service string) string {
	return service + "_health"
}

// ServiceForMetric derives the owning service from a health metric name,
// falling back to the metric name itself.
func ServiceForMetric(metric string) string {
	return strings.TrimSuffix(metric, "_health")
}

func (c *Classifier) detectServiceHealth(ctx context.Context) []Candidate {
	summary := c.store.Summary()
	names := make([]string, 0, len(summary))
	for name := range summary {
		names = append(names, name)
	}
	sort.Strings(names)

	var candidates []Candidate
	for _, name := range names {
		point := summary[name]
		switch point.Status {
		case models.StatusUnhealthy:
			candidates = append(candidates, Candidate{
				Type:        models.FaultServiceUnavailable,
				Severity:    models.SeverityHigh,
				Service:     ServiceForMetric(name),
				Description: fmt.Sprintf("Metric %s reports unhealthy status", name),
				Metrics:     map[string]float64{name: point.Value},
			})
		case models.StatusWarning:
			if !isPerformanceMetric(name) {
				continue
			}
			candidates = append(candidates, Candidate{
				Type:        models.FaultPerformanceDegradation,
				Severity:    models.SeverityMedium,
				Service:     ServiceForMetric(name),
				Description: fmt.Sprintf("Performance metric %s in warning state", name),
				Metrics:     map[string]float64{name: point.Value},
			})
		}
	}
	return candidates
}

func isPerformanceMetric(name string) bool {
	lowered := strings.ToLower(name)
	return strings.Contains(lowered, "cpu") ||
		strings.Contains(lowered, "memory") ||
		strings.Contains(lowered, "response_time")
}

func (c *Classifier) detectResourceThresholds(ctx context.Context) []Candidate {
	var candidates []Candidate
	for _, metric := range thresholdOrder {
		limit := ResourceThresholds[metric]
		latest, ok := c.store.Latest(metric)
		if !ok {
			continue
		}
		if latest.Value >= limit {
			candidates = append(candidates, Candidate{
				Type:        models.FaultResourceExhaustion,
				Severity:    models.SeverityHigh,
				Service:     SystemService,
				Description: fmt.Sprintf("%s at %.1f exceeds threshold %.1f", metric, latest.Value, limit),
				Metrics:     map[string]float64{metric: latest.Value},
			})
		}
	}

	if c.errStats != nil {
		stats, err := c.errStats.GetErrorStatistics(ctx)
		if err != nil {
			c.logger.Warn("error statistics unavailable", slog.Any("error", err))
			return candidates
		}
		if count := stats.Categories["configuration"]; count > c.configErrorLimit {
			candidates = append(candidates, Candidate{
				Type:        models.FaultConfigurationError,
				Severity:    models.SeverityMedium,
				Service:     SystemService,
				Description: fmt.Sprintf("%d configuration errors reported in window", count),
				Metrics:     map[string]float64{"configuration_errors": float64(count)},
			})
		}
	}
	return candidates
}

func (c *Classifier) detectCascades(ctx context.Context) []Candidate {
	if c.graph == nil {
		return nil
	}

	var candidates []Candidate
	for _, service := range c.graph.Services() {
		deps := c.graph.DependenciesOf(service)
		if len(deps) == 0 {
			continue
		}

		failed := make([]string, 0)
		hardFailed := false
		metrics := make(map[string]float64)
		for _, dep := range deps {
			latest, ok := c.store.Latest(HealthMetric(dep.DependencyName))
			if !ok || latest.Value >= 1.0 {
				continue
			}
			failed = append(failed, dep.DependencyName)
			metrics[HealthMetric(dep.DependencyName)] = latest.Value
			if dep.Type == models.DependencyHard {
				hardFailed = true
			}
		}

		if len(failed) == 0 {
			continue
		}
		if !hardFailed && len(failed)*2 < len(deps) {
			continue
		}

		candidates = append(candidates, Candidate{
			Type:             models.FaultCascadeFailure,
			Severity:         models.SeverityCritical,
			Service:          service,
			Description:      fmt.Sprintf("Dependency failures for %s: %s", service, strings.Join(failed, ", ")),
			Metrics:          metrics,
			AffectedServices: failed,
		})
	}
	return candidates
}

func (c *Classifier) detectAnomalies(ctx context.Context) []Candidate {
	var candidates []Candidate
	for _, pattern := range c.patterns.List() {
		score, ok := c.scorePattern(pattern)
		if !ok || score <= pattern.Threshold {
			continue
		}

		c.patterns.RecordMatch(pattern.ID)
		candidates = append(candidates, Candidate{
			Type:        faultTypeForPattern(c.logger, pattern.Type),
			Severity:    SeverityFromScore(score),
			Service:     SystemService,
			Description: fmt.Sprintf("Pattern %s anomaly score %.2f exceeds threshold %.2f", pattern.ID, score, pattern.Threshold),
			Metrics:     map[string]float64{"anomaly_score": score},
			PatternID:   pattern.ID,
		})
	}
	return candidates
}

// scorePattern averages per-feature three-sigma scores across features that
// have both history and a baseline. ok is false when no feature qualifies.
func (c *Classifier) scorePattern(pattern models.FaultPattern) (float64, bool) {
	total := 0.0
	counted := 0
	for _, feature := range pattern.Features {
		latest, ok := c.store.Latest(feature)
		if !ok {
			continue
		}
		baseline, ok := c.store.Baseline(feature)
		if !ok {
			continue
		}
		total += FeatureScore(latest.Value, baseline)
		counted++
	}
	if counted == 0 {
		return 0, false
	}
	return total / float64(counted), true
}

func faultTypeForPattern(logger *slog.Logger, patternType string) models.FaultType {
	switch patternType {
	case "performance":
		return models.FaultPerformanceDegradation
	case "resource":
		return models.FaultResourceExhaustion
	case "cascade":
		return models.FaultCascadeFailure
	default:
		logger.Warn("unknown pattern type, defaulting to performance degradation",
			slog.String("pattern_type", patternType))
		return models.FaultPerformanceDegradation
	}
}

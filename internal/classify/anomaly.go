package classify

import (
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// SystemService names the synthetic service used for faults that are not tied
// to a single registered service (resource exhaustion, anomaly patterns).
const SystemService = "system"

// ResourceThresholds is the fixed metric -> limit table for the
// resource-threshold strategy.
var ResourceThresholds = map[string]float64{
	"cpu_usage_percent":    90,
	"memory_usage_percent": 90,
	"disk_usage_percent":   95,
	"response_time_ms":     5000,
	"error_rate_percent":   5,
}

// thresholdOrder keeps resource-threshold detection deterministic.
var thresholdOrder = []string{
	"cpu_usage_percent",
	"memory_usage_percent",
	"disk_usage_percent",
	"response_time_ms",
	"error_rate_percent",
}

// FeatureScore normalises a sample's deviation from its baseline into [0,1]
// using three-sigma scaling. A zero stddev yields zero.
func FeatureScore(latest float64, baseline models.Baseline) float64 {
	if baseline.StdDev == 0 {
		return 0
	}
	deviation := latest - baseline.Mean
	if deviation < 0 {
		deviation = -deviation
	}
	score := deviation / baseline.StdDev / 3.0
	if score > 1 {
		return 1
	}
	return score
}

// SeverityFromScore maps an anomaly score onto impact buckets.
func SeverityFromScore(score float64) models.Severity {
	switch {
	case score >= 0.9:
		return models.SeverityCritical
	case score >= 0.7:
		return models.SeverityHigh
	case score >= 0.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// confidenceAlpha weights new resolution outcomes in the confidence EMA.
const confidenceAlpha = 0.3

// PatternRegistry owns the FaultPattern set. Patterns are mutated by the
// detection loop (occurrences, last seen, confidence) and never deleted.
type PatternRegistry struct {
	mu       sync.RWMutex
	patterns map[string]*models.FaultPattern
	order    []string
}

// NewPatternRegistry creates an empty registry.
func NewPatternRegistry() *PatternRegistry {
	return &PatternRegistry{patterns: make(map[string]*models.FaultPattern)}
}

// Register adds or replaces a pattern definition.
func (r *PatternRegistry) Register(pattern models.FaultPattern) {
	if pattern.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.patterns[pattern.ID]; !ok {
		r.order = append(r.order, pattern.ID)
	}
	copied := pattern
	r.patterns[pattern.ID] = &copied
}

// List returns patterns in registration order.
func (r *PatternRegistry) List() []models.FaultPattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.FaultPattern, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.patterns[id])
	}
	return out
}

// Get returns a pattern by ID.
func (r *PatternRegistry) Get(id string) (models.FaultPattern, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patterns[id]
	if !ok {
		return models.FaultPattern{}, false
	}
	return *p, true
}

// RecordMatch bumps occurrence bookkeeping when a pattern fires.
func (r *PatternRegistry) RecordMatch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.patterns[id]; ok {
		p.Occurrences++
		p.LastSeen = time.Now().UTC()
	}
}

// UpdateConfidence folds a resolution outcome (1 for a confirmed fault, 0 for
// noise) into the pattern's confidence via exponential moving average.
func (r *PatternRegistry) UpdateConfidence(id string, outcome float64) {
	if outcome < 0 {
		outcome = 0
	}
	if outcome > 1 {
		outcome = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.patterns[id]; ok {
		p.Confidence = (1-confidenceAlpha)*p.Confidence + confidenceAlpha*outcome
	}
}

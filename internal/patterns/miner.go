package patterns

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

const (
	// defaultMinOccurrences is how often a (type, service) pair must recur in
	// resolved history before it becomes a mined pattern.
	defaultMinOccurrences = 3

	// minedThreshold is the anomaly-score threshold assigned to mined patterns.
	minedThreshold = 0.75
	// minedConfidence is the starting confidence; the resolution EMA takes over
	// once the pattern fires.
	minedConfidence = 0.5
)

// patternCategory maps a fault type onto the pattern category the anomaly
// strategy understands. Types without a category are not mined.
func patternCategory(t models.FaultType) (string, bool) {
	switch t {
	case models.FaultPerformanceDegradation:
		return "performance", true
	case models.FaultResourceExhaustion:
		return "resource", true
	case models.FaultCascadeFailure:
		return "cascade", true
	default:
		return "", false
	}
}

// Miner derives frequency-based fault patterns from resolved fault history.
// A service that keeps resolving the same fault type gets a pattern whose
// features are the metrics recorded on those incidents, so the anomaly
// strategy can recognise the shape earlier next time.
type Miner struct {
	logger         *slog.Logger
	minOccurrences int
}

// NewMiner constructs a Miner.
func NewMiner(logger *slog.Logger) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Miner{logger: logger, minOccurrences: defaultMinOccurrences}
}

// SetMinOccurrences overrides the recurrence cutoff.
func (m *Miner) SetMinOccurrences(n int) {
	if n > 0 {
		m.minOccurrences = n
	}
}

type groupKey struct {
	Type    models.FaultType
	Service string
}

type groupAggregate struct {
	count    int
	lastSeen time.Time
	features map[string]struct{}
}

// Mine aggregates resolved faults and returns the patterns that cleared the
// recurrence cutoff, most frequent first.
func (m *Miner) Mine(history []models.FaultEvent) []models.FaultPattern {
	if len(history) == 0 {
		return nil
	}

	groups := make(map[groupKey]*groupAggregate)
	for _, event := range history {
		if !event.Resolved() || len(event.Metrics) == 0 {
			continue
		}
		if _, ok := patternCategory(event.Type); !ok {
			continue
		}
		key := groupKey{Type: event.Type, Service: event.ServiceName}
		agg, ok := groups[key]
		if !ok {
			agg = &groupAggregate{features: make(map[string]struct{})}
			groups[key] = agg
		}
		agg.count++
		if event.DetectedAt.After(agg.lastSeen) {
			agg.lastSeen = event.DetectedAt
		}
		for metric := range event.Metrics {
			agg.features[metric] = struct{}{}
		}
	}

	mined := make([]models.FaultPattern, 0, len(groups))
	for key, agg := range groups {
		if agg.count < m.minOccurrences {
			continue
		}
		category, _ := patternCategory(key.Type)
		features := make([]string, 0, len(agg.features))
		for metric := range agg.features {
			features = append(features, metric)
		}
		sort.Strings(features)

		mined = append(mined, models.FaultPattern{
			ID:          fmt.Sprintf("mined-%s-%s", category, key.Service),
			Type:        category,
			Features:    features,
			Threshold:   minedThreshold,
			Confidence:  minedConfidence,
			Occurrences: agg.count,
			LastSeen:    agg.lastSeen,
		})
	}

	sort.Slice(mined, func(i, j int) bool {
		if mined[i].Occurrences != mined[j].Occurrences {
			return mined[i].Occurrences > mined[j].Occurrences
		}
		return mined[i].ID < mined[j].ID
	})
	return mined
}

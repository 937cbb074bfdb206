package classify

import (
	"math"
	"testing"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func TestFeatureScore(t *testing.T) {
	baseline := models.Baseline{Mean: 50, StdDev: 10}

	cases := []struct {
		name   string
		latest float64
		want   float64
	}{
		{"at mean", 50, 0},
		{"one sigma", 60, 1.0 / 3.0},
		{"three sigma", 80, 1},
		{"beyond three sigma capped", 200, 1},
		{"negative deviation", 20, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FeatureScore(tc.latest, baseline)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("score = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFeatureScoreZeroStdDev(t *testing.T) {
	if got := FeatureScore(100, models.Baseline{Mean: 5, StdDev: 0}); got != 0 {
		t.Fatalf("score with zero stddev = %v, want 0", got)
	}
}

func TestSeverityFromScore(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Severity
	}{
		{0.95, models.SeverityCritical},
		{0.9, models.SeverityCritical},
		{0.89, models.SeverityHigh},
		{0.7, models.SeverityHigh},
		{0.69, models.SeverityMedium},
		{0.5, models.SeverityMedium},
		{0.49, models.SeverityLow},
		{0, models.SeverityLow},
	}
	for _, tc := range cases {
		if got := SeverityFromScore(tc.score); got != tc.want {
			t.Fatalf("severity(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestPatternRegistryLifecycle(t *testing.T) {
	r := NewPatternRegistry()
	r.Register(models.FaultPattern{ID: "p1", Type: "performance", Features: []string{"cpu_usage_percent"}, Threshold: 0.8, Confidence: 0.5})
	r.Register(models.FaultPattern{}) // no ID, ignored

	if len(r.List()) != 1 {
		t.Fatalf("registry size = %d, want 1", len(r.List()))
	}

	r.RecordMatch("p1")
	p, ok := r.Get("p1")
	if !ok {
		t.Fatal("expected pattern p1")
	}
	if p.Occurrences != 1 {
		t.Fatalf("occurrences = %d, want 1", p.Occurrences)
	}
	if p.LastSeen.IsZero() {
		t.Fatal("last seen not set")
	}
}

func TestUpdateConfidenceEMA(t *testing.T) {
	r := NewPatternRegistry()
	r.Register(models.FaultPattern{ID: "p1", Type: "resource", Confidence: 0.5})

	r.UpdateConfidence("p1", 1.0)
	p, _ := r.Get("p1")
	// 0.7*0.5 + 0.3*1.0
	if math.Abs(p.Confidence-0.65) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.65", p.Confidence)
	}

	r.UpdateConfidence("p1", 0)
	p, _ = r.Get("p1")
	if math.Abs(p.Confidence-0.455) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.455", p.Confidence)
	}

	// Outcomes are clamped into [0, 1].
	r.UpdateConfidence("p1", 5)
	p, _ = r.Get("p1")
	if p.Confidence > 1 {
		t.Fatalf("confidence = %v, must not exceed 1", p.Confidence)
	}
}

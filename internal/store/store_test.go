package store

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func sample(name string, value float64, at time.Time) models.MetricSample {
	return models.MetricSample{Name: name, Timestamp: at, Value: value, Status: models.StatusHealthy}
}

func TestAppendAndLatest(t *testing.T) {
	s := NewMetricStore(10)
	now := time.Now()

	s.Append(sample("cpu_usage_percent", 40, now.Add(-time.Minute)))
	s.Append(sample("cpu_usage_percent", 55, now))

	latest, ok := s.Latest("cpu_usage_percent")
	if !ok {
		t.Fatal("expected a latest sample")
	}
	if latest.Value != 55 {
		t.Fatalf("latest value = %v, want 55", latest.Value)
	}

	if _, ok := s.Latest("unknown"); ok {
		t.Fatal("expected no sample for unknown metric")
	}
}

func TestRingEviction(t *testing.T) {
	s := NewMetricStore(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		s.Append(sample("m", float64(i), now.Add(time.Duration(i)*time.Second)))
	}

	history := s.History("m", 0)
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	if history[0].Value != 2 || history[2].Value != 4 {
		t.Fatalf("expected oldest=2 newest=4, got oldest=%v newest=%v", history[0].Value, history[2].Value)
	}
}

func TestHistoryWindow(t *testing.T) {
	s := NewMetricStore(10)
	now := time.Now()

	s.Append(sample("m", 1, now.Add(-2*time.Hour)))
	s.Append(sample("m", 2, now.Add(-10*time.Minute)))
	s.Append(sample("m", 3, now))

	windowed := s.History("m", time.Hour)
	if len(windowed) != 2 {
		t.Fatalf("windowed history length = %d, want 2", len(windowed))
	}
	if windowed[0].Value != 2 {
		t.Fatalf("first windowed value = %v, want 2", windowed[0].Value)
	}
}

func TestSummaryAndNames(t *testing.T) {
	s := NewMetricStore(10)
	now := time.Now()
	s.Append(sample("b_metric", 2, now))
	s.Append(sample("a_metric", 1, now))

	summary := s.Summary()
	if len(summary) != 2 {
		t.Fatalf("summary size = %d, want 2", len(summary))
	}
	if summary["a_metric"].Value != 1 {
		t.Fatalf("a_metric = %v, want 1", summary["a_metric"].Value)
	}

	names := s.Names()
	if len(names) != 2 || names[0] != "a_metric" || names[1] != "b_metric" {
		t.Fatalf("names = %v, want sorted [a_metric b_metric]", names)
	}
}

func TestRecomputeBaseline(t *testing.T) {
	s := NewMetricStore(10)
	now := time.Now()
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	for i, v := range values {
		s.Append(sample("m", v, now.Add(time.Duration(i)*time.Second)))
	}

	b, ok := s.RecomputeBaseline("m")
	if !ok {
		t.Fatal("expected baseline")
	}
	if b.Mean != 5 {
		t.Fatalf("mean = %v, want 5", b.Mean)
	}
	if math.Abs(b.StdDev-2) > 1e-9 {
		t.Fatalf("stddev = %v, want 2", b.StdDev)
	}
	if b.Min != 2 || b.Max != 9 {
		t.Fatalf("min/max = %v/%v, want 2/9", b.Min, b.Max)
	}

	stored, ok := s.Baseline("m")
	if !ok || stored.Mean != b.Mean {
		t.Fatal("baseline not stored")
	}
}

func TestWarmupBaselinesMinSamples(t *testing.T) {
	s := NewMetricStore(20)
	now := time.Now()

	for i := 0; i < 12; i++ {
		s.Append(sample("enough", float64(i), now.Add(time.Duration(i)*time.Second)))
	}
	for i := 0; i < 3; i++ {
		s.Append(sample("sparse", float64(i), now.Add(time.Duration(i)*time.Second)))
	}

	computed := s.WarmupBaselines(10)
	if computed != 1 {
		t.Fatalf("computed = %d, want 1", computed)
	}
	if _, ok := s.Baseline("enough"); !ok {
		t.Fatal("expected baseline for metric with enough samples")
	}
	if _, ok := s.Baseline("sparse"); ok {
		t.Fatal("did not expect baseline for sparse metric")
	}

	// A second warmup pass leaves existing baselines alone.
	if again := s.WarmupBaselines(10); again != 0 {
		t.Fatalf("second warmup computed = %d, want 0", again)
	}
}

func TestPercentile(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	got := percentile(values, 0.95)
	if got != 95 {
		t.Fatalf("p95 = %v, want 95", got)
	}
}

func TestAppendIgnoresUnnamed(t *testing.T) {
	s := NewMetricStore(5)
	s.Append(models.MetricSample{Value: 1})
	if len(s.Names()) != 0 {
		t.Fatal("unnamed sample should be ignored")
	}
}

func BenchmarkAppend(b *testing.B) {
	s := NewMetricStore(DefaultCapacity)
	now := time.Now()
	names := make([]string, 10)
	for i := range names {
		names[i] = fmt.Sprintf("metric_%d", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Append(sample(names[i%len(names)], float64(i), now))
	}
}

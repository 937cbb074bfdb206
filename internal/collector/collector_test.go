package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	summary    map[string]models.MetricPoint
	summaryErr error
	history    map[string][]models.MetricSample
	historyErr map[string]error
}

func (f *fakeSource) GetMetricSummary(ctx context.Context) (map[string]models.MetricPoint, error) {
	return f.summary, f.summaryErr
}

func (f *fakeSource) GetMetricHistory(ctx context.Context, name string, window time.Duration) ([]models.MetricSample, error) {
	if err := f.historyErr[name]; err != nil {
		return nil, err
	}
	return f.history[name], nil
}

func TestNewValidation(t *testing.T) {
	s := store.NewMetricStore(10)
	source := &fakeSource{}

	if _, err := New(nil, s, time.Second, testLogger()); err == nil {
		t.Fatal("nil source must be rejected")
	}
	if _, err := New(source, nil, time.Second, testLogger()); err == nil {
		t.Fatal("nil store must be rejected")
	}
	if _, err := New(source, s, 0, testLogger()); err == nil {
		t.Fatal("non-positive interval must be rejected")
	}
	if _, err := New(source, s, time.Second, testLogger()); err != nil {
		t.Fatalf("valid collector rejected: %v", err)
	}
}

func TestPollAppendsSummary(t *testing.T) {
	s := store.NewMetricStore(10)
	source := &fakeSource{summary: map[string]models.MetricPoint{
		"cpu_usage_percent": {Value: 42, Status: models.StatusHealthy},
		"api_health":        {Value: 1, Status: models.StatusHealthy},
	}}
	c, err := New(source, s, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := c.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	cpu, ok := s.Latest("cpu_usage_percent")
	if !ok || cpu.Value != 42 {
		t.Fatalf("cpu sample = %+v, ok=%t", cpu, ok)
	}
	health, ok := s.Latest("api_health")
	if !ok || health.Value != 1 {
		t.Fatalf("health sample = %+v, ok=%t", health, ok)
	}
	// All points of one poll share a timestamp.
	if !cpu.Timestamp.Equal(health.Timestamp) {
		t.Fatalf("timestamps differ: %v vs %v", cpu.Timestamp, health.Timestamp)
	}
}

func TestPollPropagatesSourceError(t *testing.T) {
	s := store.NewMetricStore(10)
	source := &fakeSource{summaryErr: fmt.Errorf("core unavailable")}
	c, err := New(source, s, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Poll(context.Background()); err == nil {
		t.Fatal("expected poll error")
	}
}

func TestWarmupComputesBaselines(t *testing.T) {
	s := store.NewMetricStore(50)
	base := time.Now().Add(-30 * time.Minute)

	samples := make([]models.MetricSample, 0, 12)
	for i := 0; i < 12; i++ {
		samples = append(samples, models.MetricSample{
			Name:      "response_time_ms",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Value:     100 + float64(i),
			Status:    models.StatusHealthy,
		})
	}

	source := &fakeSource{
		summary: map[string]models.MetricPoint{
			"response_time_ms": {Value: 111, Status: models.StatusHealthy},
			"sparse_metric":    {Value: 5, Status: models.StatusHealthy},
		},
		history: map[string][]models.MetricSample{
			"response_time_ms": samples,
			"sparse_metric": {
				{Name: "sparse_metric", Timestamp: base, Value: 5, Status: models.StatusHealthy},
			},
		},
	}

	c, err := New(source, s, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Warmup(context.Background(), 10); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	baseline, ok := s.Baseline("response_time_ms")
	if !ok {
		t.Fatal("expected baseline after warmup")
	}
	// Mean of 100..111.
	if baseline.Mean != 105.5 {
		t.Fatalf("baseline mean = %v, want 105.5", baseline.Mean)
	}
	// One sample is under the minimum, no baseline.
	if _, ok := s.Baseline("sparse_metric"); ok {
		t.Fatal("sparse metric must not get a baseline")
	}
}

func TestWarmupSkipsFailingMetrics(t *testing.T) {
	s := store.NewMetricStore(50)
	base := time.Now().Add(-10 * time.Minute)

	good := make([]models.MetricSample, 0, 10)
	for i := 0; i < 10; i++ {
		good = append(good, models.MetricSample{
			Name:      "cpu_usage_percent",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Value:     50,
			Status:    models.StatusHealthy,
		})
	}

	source := &fakeSource{
		summary: map[string]models.MetricPoint{
			"cpu_usage_percent": {Value: 50, Status: models.StatusHealthy},
			"broken_metric":     {Value: 1, Status: models.StatusHealthy},
		},
		history:    map[string][]models.MetricSample{"cpu_usage_percent": good},
		historyErr: map[string]error{"broken_metric": fmt.Errorf("no such series")},
	}

	c, err := New(source, s, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Warmup(context.Background(), 5); err != nil {
		t.Fatalf("warmup must tolerate per-metric failures: %v", err)
	}
	if _, ok := s.Baseline("cpu_usage_percent"); !ok {
		t.Fatal("healthy metric must still be warmed")
	}
}

func TestWarmupFailsWithoutSummary(t *testing.T) {
	s := store.NewMetricStore(10)
	source := &fakeSource{summaryErr: fmt.Errorf("core unavailable")}
	c, err := New(source, s, time.Second, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.Warmup(context.Background(), 5); err == nil {
		t.Fatal("expected warmup error when the summary fetch fails")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s := store.NewMetricStore(10)
	source := &fakeSource{summary: map[string]models.MetricPoint{}}
	c, err := New(source, s, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx := context.Background()
	c.Start(ctx)
	c.Start(ctx) // no-op
	time.Sleep(120 * time.Millisecond)
	c.Stop()
	c.Stop() // no-op
}

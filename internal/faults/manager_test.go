package faults

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/classify"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/notify"
	"github.com/miradorstack/mirador-heal/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *store.MetricStore, *classify.PatternRegistry) {
	t.Helper()
	s := store.NewMetricStore(store.DefaultCapacity)
	registry := classify.NewPatternRegistry()
	classifier := classify.NewClassifier(testLogger(), s, nil, nil, registry)
	m := NewManager(testLogger(), s, classifier, notify.NewLogNotifier(testLogger()))
	return m, s, registry
}

func TestCreateFaultDeduplicates(t *testing.T) {
	m, _, _ := newTestManager(t)
	candidate := classify.Candidate{
		Type:     models.FaultServiceUnavailable,
		Severity: models.SeverityHigh,
		Service:  "payments",
	}

	first, created := m.CreateFault(context.Background(), candidate)
	if !created {
		t.Fatal("first candidate should create a fault")
	}
	second, created := m.CreateFault(context.Background(), candidate)
	if created {
		t.Fatal("duplicate (type, service) key must not create a second fault")
	}
	if second.FaultID != first.FaultID {
		t.Fatalf("dedup returned %s, want existing %s", second.FaultID, first.FaultID)
	}

	// A different service with the same type is a distinct fault.
	candidate.Service = "inventory"
	if _, created := m.CreateFault(context.Background(), candidate); !created {
		t.Fatal("different service should create a new fault")
	}
	if len(m.ActiveFaults()) != 2 {
		t.Fatalf("active faults = %d, want 2", len(m.ActiveFaults()))
	}
}

func TestCreateFaultPopulatesEvent(t *testing.T) {
	m, _, _ := newTestManager(t)
	event, _ := m.CreateFault(context.Background(), classify.Candidate{
		Type:     models.FaultResourceExhaustion,
		Severity: models.SeverityCritical,
		Service:  classify.SystemService,
	})

	if event.FaultID == "" {
		t.Fatal("fault id not assigned")
	}
	if event.DetectedAt.IsZero() {
		t.Fatal("detection timestamp not set")
	}
	if event.RootCause == "" {
		t.Fatal("root cause not derived")
	}
	if len(event.RecoveryActions) == 0 {
		t.Fatal("recovery actions not generated")
	}
	if event.RecoveryActions[0] != "alert_operations_team" {
		t.Fatalf("critical fault actions must lead with operator alert, got %v", event.RecoveryActions)
	}
}

func TestResolveTickHealthyStreak(t *testing.T) {
	m, s, _ := newTestManager(t)
	event, _ := m.CreateFault(context.Background(), classify.Candidate{
		Type:     models.FaultServiceUnavailable,
		Severity: models.SeverityHigh,
		Service:  "payments",
	})

	base := event.DetectedAt.Add(time.Minute)
	metric := classify.HealthMetric("payments")

	// Two healthy samples, one unhealthy: the streak resets.
	s.Append(models.MetricSample{Name: metric, Timestamp: base, Value: 1, Status: models.StatusHealthy})
	s.Append(models.MetricSample{Name: metric, Timestamp: base.Add(10 * time.Second), Value: 1, Status: models.StatusHealthy})
	s.Append(models.MetricSample{Name: metric, Timestamp: base.Add(20 * time.Second), Value: 0, Status: models.StatusUnhealthy})
	s.Append(models.MetricSample{Name: metric, Timestamp: base.Add(30 * time.Second), Value: 1, Status: models.StatusHealthy})
	s.Append(models.MetricSample{Name: metric, Timestamp: base.Add(40 * time.Second), Value: 1, Status: models.StatusHealthy})

	m.ResolveTick(time.Now())
	if len(m.ActiveFaults()) != 1 {
		t.Fatal("fault must stay active until three consecutive healthy samples")
	}

	streakEnd := base.Add(50 * time.Second)
	s.Append(models.MetricSample{Name: metric, Timestamp: streakEnd, Value: 1, Status: models.StatusHealthy})
	m.ResolveTick(time.Now())

	if len(m.ActiveFaults()) != 0 {
		t.Fatal("fault should resolve after three consecutive healthy samples")
	}
	history := m.History()
	resolved := history[len(history)-1]
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(streakEnd) {
		t.Fatalf("resolved at = %v, want %v", resolved.ResolvedAt, streakEnd)
	}
	if resolved.ResolutionTime != streakEnd.Sub(resolved.DetectedAt) {
		t.Fatalf("resolution time = %s, want %s", resolved.ResolutionTime, streakEnd.Sub(resolved.DetectedAt))
	}
}

func TestResolveTickPerformanceRecovery(t *testing.T) {
	m, s, _ := newTestManager(t)
	m.CreateFault(context.Background(), classify.Candidate{
		Type:     models.FaultPerformanceDegradation,
		Severity: models.SeverityMedium,
		Service:  "api",
		Metrics:  map[string]float64{"response_time_ms": 6200},
	})

	// 80% of the 5000ms threshold is 4000; 4500 is not recovered yet.
	s.Append(models.MetricSample{Name: "response_time_ms", Timestamp: time.Now(), Value: 4500, Status: models.StatusWarning})
	m.ResolveTick(time.Now())
	if len(m.ActiveFaults()) != 1 {
		t.Fatal("fault must stay active at 90% of threshold")
	}

	s.Append(models.MetricSample{Name: "response_time_ms", Timestamp: time.Now(), Value: 3900, Status: models.StatusHealthy})
	m.ResolveTick(time.Now())
	if len(m.ActiveFaults()) != 0 {
		t.Fatal("fault should resolve once metric is under 80% of threshold")
	}
}

func TestResolveTickResourceRecovery(t *testing.T) {
	m, s, _ := newTestManager(t)
	m.CreateFault(context.Background(), classify.Candidate{
		Type:     models.FaultResourceExhaustion,
		Severity: models.SeverityHigh,
		Service:  classify.SystemService,
		Metrics:  map[string]float64{"cpu_usage_percent": 94},
	})

	// Resource faults use the stricter 70% ratio: limit 90 gives 63.
	s.Append(models.MetricSample{Name: "cpu_usage_percent", Timestamp: time.Now(), Value: 70, Status: models.StatusHealthy})
	m.ResolveTick(time.Now())
	if len(m.ActiveFaults()) != 1 {
		t.Fatal("70 is above 0.7*90, fault must stay active")
	}

	s.Append(models.MetricSample{Name: "cpu_usage_percent", Timestamp: time.Now(), Value: 60, Status: models.StatusHealthy})
	m.ResolveTick(time.Now())
	if len(m.ActiveFaults()) != 0 {
		t.Fatal("fault should resolve once usage drops under 70% of threshold")
	}
}

func TestCascadeFaultsNeedManualResolution(t *testing.T) {
	m, s, _ := newTestManager(t)
	event, _ := m.CreateFault(context.Background(), classify.Candidate{
		Type:             models.FaultCascadeFailure,
		Severity:         models.SeverityCritical,
		Service:          "api",
		AffectedServices: []string{"payments"},
		Metrics:          map[string]float64{classify.HealthMetric("payments"): 0},
	})

	// Even fully recovered dependencies do not auto-resolve a cascade.
	metric := classify.HealthMetric("payments")
	for i := 0; i < 5; i++ {
		s.Append(models.MetricSample{Name: metric, Timestamp: time.Now(), Value: 1, Status: models.StatusHealthy})
	}
	m.ResolveTick(time.Now())
	if len(m.ActiveFaults()) != 1 {
		t.Fatal("cascade faults must wait for manual resolution")
	}

	resolved, err := m.ResolveFault(event.FaultID)
	if err != nil {
		t.Fatalf("manual resolve: %v", err)
	}
	if resolved.ResolvedAt == nil {
		t.Fatal("manual resolution must stamp the event")
	}
	if len(m.ActiveFaults()) != 0 {
		t.Fatal("manual resolution must clear the active map")
	}
}

func TestResolveFaultUnknownID(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.ResolveFault("fault-missing"); err == nil {
		t.Fatal("expected error for unknown fault id")
	}
}

func TestSubscriberFanOut(t *testing.T) {
	m, _, _ := newTestManager(t)

	var seen []models.FaultEvent
	m.Subscribe(func(event models.FaultEvent) { seen = append(seen, event) })
	m.Subscribe(nil) // ignored

	event, _ := m.CreateFault(context.Background(), classify.Candidate{
		Type:     models.FaultServiceUnavailable,
		Severity: models.SeverityHigh,
		Service:  "payments",
	})
	// Duplicate does not notify again.
	m.CreateFault(context.Background(), classify.Candidate{
		Type:     models.FaultServiceUnavailable,
		Severity: models.SeverityHigh,
		Service:  "payments",
	})

	if len(seen) != 1 {
		t.Fatalf("subscriber calls = %d, want 1", len(seen))
	}
	if seen[0].FaultID != event.FaultID {
		t.Fatalf("subscriber saw %s, want %s", seen[0].FaultID, event.FaultID)
	}
}

func TestResolutionUpdatesPatternConfidence(t *testing.T) {
	m, _, registry := newTestManager(t)
	registry.Register(models.FaultPattern{ID: "latency-spike", Type: "performance", Confidence: 0.5})

	event, _ := m.CreateFault(context.Background(), classify.Candidate{
		Type:      models.FaultPerformanceDegradation,
		Severity:  models.SeverityHigh,
		Service:   classify.SystemService,
		PatternID: "latency-spike",
	})
	if _, err := m.ResolveFault(event.FaultID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	p, ok := registry.Get("latency-spike")
	if !ok {
		t.Fatal("pattern missing")
	}
	// EMA with alpha 0.3 toward outcome 1.0.
	if math.Abs(p.Confidence-0.65) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.65", p.Confidence)
	}
}

func TestStatistics(t *testing.T) {
	m, _, _ := newTestManager(t)

	a, _ := m.CreateFault(context.Background(), classify.Candidate{
		Type: models.FaultServiceUnavailable, Severity: models.SeverityHigh, Service: "payments",
	})
	m.CreateFault(context.Background(), classify.Candidate{
		Type: models.FaultResourceExhaustion, Severity: models.SeverityHigh, Service: classify.SystemService,
	})
	m.CreateFault(context.Background(), classify.Candidate{
		Type: models.FaultCascadeFailure, Severity: models.SeverityCritical, Service: "api",
	})

	if _, err := m.ResolveFault(a.FaultID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	stats := m.Statistics()
	if stats.Total != 3 || stats.Active != 2 || stats.Resolved != 1 {
		t.Fatalf("stats = %+v, want total 3 active 2 resolved 1", stats)
	}
	if math.Abs(stats.ResolutionRate-1.0/3.0) > 1e-9 {
		t.Fatalf("resolution rate = %v, want 1/3", stats.ResolutionRate)
	}
	if stats.ByType[models.FaultCascadeFailure] != 1 {
		t.Fatalf("by-type cascade = %d, want 1", stats.ByType[models.FaultCascadeFailure])
	}
	if stats.BySeverity[models.SeverityHigh] != 2 {
		t.Fatalf("by-severity high = %d, want 2", stats.BySeverity[models.SeverityHigh])
	}
}

func TestHistoryCapped(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetHistorySize(2)

	for _, service := range []string{"a", "b", "c"} {
		m.CreateFault(context.Background(), classify.Candidate{
			Type: models.FaultServiceUnavailable, Severity: models.SeverityHigh, Service: service,
		})
	}

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].ServiceName != "b" || history[1].ServiceName != "c" {
		t.Fatalf("history order wrong: %s, %s", history[0].ServiceName, history[1].ServiceName)
	}
}

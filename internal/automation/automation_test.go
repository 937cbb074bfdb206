package automation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDriver records remediation calls and returns scripted outcomes.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	healthy          bool
	healAfterRestart bool
	healAfterScale   bool

	validConfig       bool
	validAfterRestore bool

	errs map[string]error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{errs: make(map[string]error)}
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDriver) callLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *fakeDriver) RestartService(ctx context.Context, service string) error {
	d.record("restart " + service)
	if err := d.errs["restart"]; err != nil {
		return err
	}
	d.mu.Lock()
	if d.healAfterRestart {
		d.healthy = true
	}
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) CheckHealth(ctx context.Context, service string) (bool, error) {
	d.record("check_health " + service)
	if err := d.errs["check_health"]; err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.healthy, nil
}

func (d *fakeDriver) ScaleService(ctx context.Context, service string, instances int) error {
	d.record(fmt.Sprintf("scale %s %d", service, instances))
	if err := d.errs["scale"]; err != nil {
		return err
	}
	d.mu.Lock()
	if d.healAfterScale {
		d.healthy = true
	}
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) EnableCircuitBreaker(ctx context.Context, service string) error {
	d.record("circuit_breaker " + service)
	return d.errs["circuit_breaker"]
}

func (d *fakeDriver) IsolateService(ctx context.Context, service string) error {
	d.record("isolate " + service)
	return d.errs["isolate"]
}

func (d *fakeDriver) ActivateFallback(ctx context.Context, service string) error {
	d.record("fallback " + service)
	return d.errs["fallback"]
}

func (d *fakeDriver) ClearCaches(ctx context.Context, service string) error {
	d.record("clear_caches " + service)
	return d.errs["clear_caches"]
}

func (d *fakeDriver) ClearTemporaryFiles(ctx context.Context, service string) error {
	d.record("clear_temp " + service)
	return d.errs["clear_temp"]
}

func (d *fakeDriver) OptimizeQueries(ctx context.Context, service string) error {
	d.record("optimize " + service)
	return d.errs["optimize"]
}

func (d *fakeDriver) ValidateConfiguration(ctx context.Context, service string) (bool, error) {
	d.record("validate_config " + service)
	if err := d.errs["validate_config"]; err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.validConfig, nil
}

func (d *fakeDriver) RestoreConfiguration(ctx context.Context, service string) error {
	d.record("restore_config " + service)
	if err := d.errs["restore_config"]; err != nil {
		return err
	}
	d.mu.Lock()
	if d.validAfterRestore {
		d.validConfig = true
	}
	d.mu.Unlock()
	return nil
}

func (d *fakeDriver) TriggerBackup(ctx context.Context, scope string) (string, error) {
	d.record("backup " + scope)
	if err := d.errs["backup"]; err != nil {
		return "", err
	}
	return "artifact-1", nil
}

type fakeCoordinator struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeCoordinator) TriggerManualRecovery(ctx context.Context, category, service string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, category+"/"+service)
	return true
}

type fakeRecommendations struct {
	recs []models.Recommendation
	err  error
}

func (f *fakeRecommendations) ListRecommendations(ctx context.Context) ([]models.Recommendation, error) {
	return f.recs, f.err
}

// waitForCompleted polls until n executions carry a completion timestamp.
func waitForCompleted(t *testing.T, e *Engine, n int) []models.AutomationExecution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		execs := e.Executions()
		completed := 0
		for _, exec := range execs {
			if exec.CompletedAt != nil {
				completed++
			}
		}
		if completed >= n {
			return execs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d completed executions", n)
	return nil
}

package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SimDriver is a deterministic stand-in for a real orchestrator. Actions take
// a fixed latency and succeed; health is tracked in memory so restarts and
// scale operations have observable effect. Used for local development.
type SimDriver struct {
	logger  *slog.Logger
	latency time.Duration

	mu        sync.Mutex
	unhealthy map[string]bool
	instances map[string]int
}

// NewSimDriver constructs a SimDriver with the given per-action latency.
func NewSimDriver(logger *slog.Logger, latency time.Duration) *SimDriver {
	if logger == nil {
		logger = slog.Default()
	}
	if latency < 0 {
		latency = 0
	}
	return &SimDriver{
		logger:    logger,
		latency:   latency,
		unhealthy: make(map[string]bool),
		instances: make(map[string]int),
	}
}

// SetUnhealthy marks a service as down until it is restarted.
func (d *SimDriver) SetUnhealthy(service string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unhealthy[service] = true
}

// Instances returns the simulated instance count for a service.
func (d *SimDriver) Instances(service string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.instances[service]
}

func (d *SimDriver) act(ctx context.Context, action, service string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.latency):
	}
	d.logger.Debug("simulated action", slog.String("action", action), slog.String("service", service))
	return nil
}

func (d *SimDriver) RestartService(ctx context.Context, service string) error {
	if err := d.act(ctx, "restart", service); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.unhealthy, service)
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) CheckHealth(ctx context.Context, service string) (bool, error) {
	if err := d.act(ctx, "health_check", service); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.unhealthy[service], nil
}

func (d *SimDriver) ScaleService(ctx context.Context, service string, instances int) error {
	if instances < 0 {
		return fmt.Errorf("instance count must be non-negative, got %d", instances)
	}
	if err := d.act(ctx, "scale", service); err != nil {
		return err
	}
	d.mu.Lock()
	d.instances[service] = instances
	d.mu.Unlock()
	return nil
}

func (d *SimDriver) EnableCircuitBreaker(ctx context.Context, service string) error {
	return d.act(ctx, "enable_circuit_breaker", service)
}

func (d *SimDriver) IsolateService(ctx context.Context, service string) error {
	return d.act(ctx, "isolate", service)
}

func (d *SimDriver) ActivateFallback(ctx context.Context, service string) error {
	return d.act(ctx, "activate_fallback", service)
}

func (d *SimDriver) ClearCaches(ctx context.Context, service string) error {
	return d.act(ctx, "clear_caches", service)
}

func (d *SimDriver) ClearTemporaryFiles(ctx context.Context, service string) error {
	return d.act(ctx, "clear_temporary_files", service)
}

func (d *SimDriver) OptimizeQueries(ctx context.Context, service string) error {
	return d.act(ctx, "optimize_queries", service)
}

func (d *SimDriver) ValidateConfiguration(ctx context.Context, service string) (bool, error) {
	if err := d.act(ctx, "validate_configuration", service); err != nil {
		return false, err
	}
	return true, nil
}

func (d *SimDriver) RestoreConfiguration(ctx context.Context, service string) error {
	return d.act(ctx, "restore_configuration", service)
}

func (d *SimDriver) TriggerBackup(ctx context.Context, scope string) (string, error) {
	if err := d.act(ctx, "backup", scope); err != nil {
		return "", err
	}
	return fmt.Sprintf("backup-%s-%d", scope, time.Now().Unix()), nil
}

package remediation

import "context"

// Driver is the integration seam between remediation logic and the platform
// that actually restarts, scales, and reconfigures workloads. Deployments
// supply an orchestrator-backed implementation; tests use fakes; the bundled
// SimDriver stands in for local development.
type Driver interface {
	// RestartService restarts the named service.
	RestartService(ctx context.Context, service string) error
	// CheckHealth reports whether the service is currently healthy.
	CheckHealth(ctx context.Context, service string) (bool, error)
	// ScaleService sets the service's instance count.
	ScaleService(ctx context.Context, service string, instances int) error
	// EnableCircuitBreaker opens the breaker guarding calls into the service.
	EnableCircuitBreaker(ctx context.Context, service string) error
	// IsolateService removes the service from its upstream routing.
	IsolateService(ctx context.Context, service string) error
	// ActivateFallback switches traffic to the service's fallback.
	ActivateFallback(ctx context.Context, service string) error
	// ClearCaches flushes the service's caches.
	ClearCaches(ctx context.Context, service string) error
	// ClearTemporaryFiles reclaims scratch space on the service's hosts.
	ClearTemporaryFiles(ctx context.Context, service string) error
	// OptimizeQueries applies pending query optimisations.
	OptimizeQueries(ctx context.Context, service string) error
	// ValidateConfiguration checks the service's configuration for errors.
	ValidateConfiguration(ctx context.Context, service string) (bool, error)
	// RestoreConfiguration rolls the service back to its last known-good config.
	RestoreConfiguration(ctx context.Context, service string) error
	// TriggerBackup starts a backup for the given scope and returns an artifact id.
	TriggerBackup(ctx context.Context, scope string) (string, error)
}

// RecoveryCoordinator is the external fallback invoked when automated recovery
// gives up on a fault category.
type RecoveryCoordinator interface {
	TriggerManualRecovery(ctx context.Context, category, service string) bool
}

package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// EscalationCoordinator hands a fault over to the operations team when
// automated recovery has exhausted its options. It satisfies the
// remediation.RecoveryCoordinator seam; a real deployment would page or open
// an incident here.
type EscalationCoordinator struct {
	logger   *slog.Logger
	notifier Notifier
}

// NewEscalationCoordinator constructs a coordinator delivering through the
// given notifier.
func NewEscalationCoordinator(logger *slog.Logger, notifier Notifier) *EscalationCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &EscalationCoordinator{logger: logger, notifier: notifier}
}

// TriggerManualRecovery notifies operations that a fault needs hands-on work.
// Returns true when the escalation was delivered.
func (c *EscalationCoordinator) TriggerManualRecovery(ctx context.Context, category, service string) bool {
	err := c.notifier.Notify(ctx,
		fmt.Sprintf("Manual recovery required: %s", category),
		fmt.Sprintf("automated recovery exhausted for %s on %s", category, service),
		PriorityCritical,
		nil,
	)
	if err != nil {
		c.logger.Error("manual recovery escalation failed",
			slog.String("category", category),
			slog.String("service", service),
			slog.Any("error", err))
		return false
	}
	return true
}

package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Priority labels the urgency attached to a notification.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Notifier is the delivery collaborator. Only the decision to notify lives in
// this repository; transports implement this interface elsewhere. Failures are
// logged by callers and never block the control loop.
type Notifier interface {
	Notify(ctx context.Context, title, message string, priority Priority, channels []string) error
}

// PriorityForSeverity maps fault severity onto notification priority.
func PriorityForSeverity(severity models.Severity) Priority {
	switch severity {
	case models.SeverityCritical:
		return PriorityCritical
	case models.SeverityHigh, models.SeverityMedium:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// LogNotifier writes notifications to the structured log. It is the default
// sink when no transport is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification and always succeeds.
func (n *LogNotifier) Notify(ctx context.Context, title, message string, priority Priority, channels []string) error {
	n.logger.Info("notification",
		slog.String("title", title),
		slog.String("message", message),
		slog.String("priority", string(priority)),
		slog.String("channels", strings.Join(channels, ",")),
	)
	return nil
}

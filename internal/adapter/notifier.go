package adapter

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier delivers escalation and SLA alerts to the structured log.
// Deployments with a paging integration swap in their own notifier.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify emits the alert. Fire and forget; failures here must never block
// the operation that triggered the alert.
func (n *LogNotifier) Notify(ctx context.Context, subject, recipient, reason string) {
	n.logger.Warn("alert",
		zap.String("subject", subject),
		zap.String("recipient", recipient),
		zap.String("reason", reason))
}

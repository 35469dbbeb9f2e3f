package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
)

const publishTimeout = 5 * time.Second

// NotificationTrigger publishes customer notifications for committed transitions.
// Failures are logged and never surface to the caller.
type NotificationTrigger struct {
	publisher ports.NotificationPublisher
	logger    *slog.Logger
}

func NewNotificationTrigger(publisher ports.NotificationPublisher, logger *slog.Logger) *NotificationTrigger {
	return &NotificationTrigger{
		publisher: publisher,
		logger:    logger,
	}
}

// Fire must only be called after the transition has committed.
func (t *NotificationTrigger) Fire(ctx context.Context, result *domain.ApplyResult) {
	if result == nil || result.Duplicate || !result.Transitioned || result.Order == nil {
		return
	}

	kind, ok := domain.NotificationKindFor(result.To)
	if !ok {
		return
	}

	// the request may already be finished; the publish gets its own deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	n := domain.NewNotification(kind, result.Order)
	if err := t.publisher.Publish(ctx, n); err != nil {
		t.logger.Error("failed to publish notification",
			"order_id", n.OrderID,
			"kind", n.Kind,
			"error", err,
		)
		return
	}

	t.logger.Info("notification queued", "order_id", n.OrderID, "kind", n.Kind)
}

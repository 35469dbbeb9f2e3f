package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/notifier"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
)

// NotificationQueue is the consuming side of the notification queue.
type NotificationQueue interface {
	Fetch(ctx context.Context, n int) ([]notifier.Delivery, error)
	Ack(tag uint64) error
	Requeue(ctx context.Context, d notifier.Delivery) error
	DeadLetter(ctx context.Context, d notifier.Delivery) error
}

// NotificationWorker delivers queued customer notifications. A failure never reaches order
// state; after maxAttempts the message is parked on the dead letter queue.
type NotificationWorker struct {
	queue       NotificationQueue
	sender      ports.NotificationSender
	interval    time.Duration
	batchSize   int
	maxAttempts int
	logger      *slog.Logger
}

func NewNotificationWorker(
	queue NotificationQueue,
	sender ports.NotificationSender,
	interval time.Duration,
	batchSize int,
	maxAttempts int,
	logger *slog.Logger,
) *NotificationWorker {
	return &NotificationWorker{
		queue:       queue,
		sender:      sender,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info("notification worker started", "interval", w.interval, "max_attempts", w.maxAttempts)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("notification worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce handles one batch and returns the number delivered.
func (w *NotificationWorker) RunOnce(ctx context.Context) int {
	batch, err := w.queue.Fetch(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to fetch notifications", "error", err)
		return 0
	}

	var delivered int
	for _, d := range batch {
		if w.deliver(ctx, d) {
			delivered++
		}
	}
	return delivered
}

func (w *NotificationWorker) deliver(ctx context.Context, d notifier.Delivery) bool {
	n := d.Message.Notification
	log := w.logger.With(
		"message_id", d.Message.ID,
		"kind", n.Kind,
		"order_id", n.OrderID,
	)

	sendErr := w.sender.Send(ctx, n)
	if sendErr == nil {
		if err := w.queue.Ack(d.Tag); err != nil {
			log.Error("notification sent but not acknowledged", "error", err)
		}
		log.Info("notification delivered")
		return true
	}

	d.Message.FailedCount++
	d.Message.LastError = sendErr.Error()

	if d.Message.FailedCount >= w.maxAttempts {
		if err := w.queue.DeadLetter(ctx, d); err != nil {
			log.Error("failed to dead-letter notification", "error", err)
			return false
		}
		log.Error("notification abandoned", "attempts", d.Message.FailedCount, "error", sendErr)
		return false
	}

	if err := w.queue.Requeue(ctx, d); err != nil {
		log.Error("failed to requeue notification", "error", err)
		return false
	}
	log.Warn("notification delivery failed, will retry", "attempts", d.Message.FailedCount, "error", sendErr)
	return false
}

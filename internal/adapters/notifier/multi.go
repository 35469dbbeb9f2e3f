package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
)

// ChannelSender is a sender for one delivery channel.
type ChannelSender interface {
	ports.NotificationSender
	Channel() string
}

// MultiSender fans a notification out to every channel the customer can be reached on.
// It succeeds when at least one channel delivered, so a retry never repeats a delivered
// email because the SMS leg failed.
type MultiSender struct {
	senders []ChannelSender
	logger  *slog.Logger
}

var _ ports.NotificationSender = (*MultiSender)(nil)

func NewMultiSender(logger *slog.Logger, senders ...ChannelSender) *MultiSender {
	return &MultiSender{senders: senders, logger: logger}
}

func (m *MultiSender) Send(ctx context.Context, n domain.Notification) error {
	var (
		delivered int
		errs      []error
	)

	for _, s := range m.senders {
		err := s.Send(ctx, n)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrNoRecipient):
			continue
		default:
			m.logger.Warn("notification channel failed",
				"channel", s.Channel(),
				"order_id", n.OrderID,
				"kind", n.Kind,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Channel(), err))
		}
	}

	if delivered > 0 {
		return nil
	}
	if len(errs) == 0 {
		m.logger.Warn("notification has no reachable channel", "order_id", n.OrderID, "kind", n.Kind)
		return nil
	}
	return errors.Join(errs...)
}

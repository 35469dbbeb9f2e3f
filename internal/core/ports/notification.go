package ports

import (
	"context"
	"io"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
)

// NotificationPublisher hands a customer notification to the delivery queue.
type NotificationPublisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// NotificationSender delivers a notification to the customer.
type NotificationSender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// PrescriptionStorage keeps uploaded prescription images.
type PrescriptionStorage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// CallbackRecord is an inbound gateway callback kept verbatim for investigation.
type CallbackRecord struct {
	Method            domain.PaymentMethod
	ExternalReference string
	EventType         string
	RemoteAddr        string
	Headers           map[string]string
	Body              string
	Result            string
	ReceivedAt        time.Time
}

// CallbackLog is an append-only store of raw callbacks.
type CallbackLog interface {
	Record(ctx context.Context, rec CallbackRecord) error
}

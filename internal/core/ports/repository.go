package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/google/uuid"
)

// Repository is the persistence boundary for orders, payments, prescriptions and tracking.
// Status-changing writes are conditional so concurrent deliveries of the same event
// resolve to exactly one winner.
type Repository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)
	// UpdateOrderStatus moves the order only if it is still in status from.
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error
	SetPrescriptionApproved(ctx context.Context, id uuid.UUID, approved bool) error

	CreatePayment(ctx context.Context, payment *domain.Payment) error
	FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	FindPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, error)
	FindPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error)
	AttachExternalReference(ctx context.Context, id uuid.UUID, ref string, metadata json.RawMessage) error
	// CompletePayment marks the pending payment with ref completed. ok is false when no pending row matched.
	CompletePayment(ctx context.Context, ref string, metadata json.RawMessage, at time.Time) (payment *domain.Payment, ok bool, err error)
	// FailPayment marks the pending payment with ref failed. ok is false when no pending row matched.
	FailPayment(ctx context.Context, ref, reason string, metadata json.RawMessage, at time.Time) (payment *domain.Payment, ok bool, err error)
	// AbandonPayment fails a pending attempt that never reached the gateway.
	AbandonPayment(ctx context.Context, id uuid.UUID, reason string) error
	CountPendingPayments(ctx context.Context, orderID uuid.UUID) (int, error)
	HasCompletedPayment(ctx context.Context, orderID uuid.UUID) (bool, error)
	FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)

	AppendTracking(ctx context.Context, entry *domain.TrackingEntry) error
	FindTrackingByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.TrackingEntry, error)

	CreatePrescription(ctx context.Context, p *domain.Prescription) error
	FindPrescriptionByID(ctx context.Context, id uuid.UUID) (*domain.Prescription, error)
	FindPrescriptionByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Prescription, error)
	FindPrescriptionsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Prescription, error)
	UpdatePrescriptionReview(ctx context.Context, p *domain.Prescription) error
	LinkPrescription(ctx context.Context, id, orderID uuid.UUID) error

	// WithTx executes a function within a database transaction.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

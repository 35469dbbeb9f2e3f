package service

import (
	"context"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
)

// PaymentState is what the customer is told about an order's money.
type PaymentState string

const (
	StateAwaitingPayment      PaymentState = "awaiting_payment"
	StatePaymentNotCompleted  PaymentState = "payment_not_completed"
	StateAwaitingPrescription PaymentState = "awaiting_prescription_approval"
	StateProcessingIncomplete PaymentState = "payment_completed_processing_incomplete"
	StatePaymentCompleted     PaymentState = "payment_completed"
	StateVerificationTimedOut PaymentState = "verification_timeout"
)

type OrderDetails struct {
	Order        *domain.Order
	Payments     []*domain.Payment
	Tracking     []*domain.TrackingEntry
	PaymentState PaymentState
	Message      string
}

type QueryService struct {
	repo ports.Repository
}

func NewQueryService(repo ports.Repository) *QueryService {
	return &QueryService{repo: repo}
}

func (s *QueryService) GetOrder(ctx context.Context, actor domain.Actor, id uuid.UUID) (*OrderDetails, error) {
	order, err := s.repo.FindOrderByID(ctx, id)
	if err != nil {
		return nil, asPersistenceError("load order", err)
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.NewOrderNotFoundError(id.String())
	}

	payments, err := s.repo.FindPaymentsByOrderID(ctx, id)
	if err != nil {
		return nil, asPersistenceError("load payments", err)
	}

	tracking, err := s.repo.FindTrackingByOrderID(ctx, id)
	if err != nil {
		return nil, asPersistenceError("load tracking", err)
	}

	state, message := describePayment(order, payments)
	return &OrderDetails{
		Order:        order,
		Payments:     payments,
		Tracking:     tracking,
		PaymentState: state,
		Message:      message,
	}, nil
}

func (s *QueryService) ListOrders(ctx context.Context, actor domain.Actor, limit, offset int) ([]*domain.Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	orders, err := s.repo.FindOrdersByUserID(ctx, actor.UserID, limit, offset)
	if err != nil {
		return nil, asPersistenceError("list orders", err)
	}
	return orders, nil
}

func (s *QueryService) GetPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (*domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, id)
	if err != nil {
		return nil, asPersistenceError("load payment", err)
	}
	if !actor.CanAccess(payment.UserID) {
		return nil, domain.NewPaymentNotFoundError(id.String())
	}
	return payment, nil
}

// describePayment keeps "payment not completed" and "paid but order not yet through" apart.
func describePayment(order *domain.Order, payments []*domain.Payment) (PaymentState, string) {
	var paid, pending, failed bool
	var reason string
	for _, p := range payments {
		switch {
		case p.IsCompleted():
			paid = true
		case p.Status == domain.PaymentPending:
			pending = true
		case p.Status == domain.PaymentFailed:
			failed = true
			if p.FailureReason != nil {
				reason = *p.FailureReason
			}
		}
	}

	switch {
	case paid && order.Status == domain.OrderPending && !order.CanFulfill():
		return StateAwaitingPrescription, "Payment received. Your order will be confirmed once your prescription is approved."
	case paid && order.Status == domain.OrderPending:
		return StateProcessingIncomplete, "Payment received, but your order is still being processed. No need to pay again."
	case paid:
		return StatePaymentCompleted, "Payment received."
	case pending:
		return StateAwaitingPayment, "Waiting for the payment provider to confirm your payment."
	case failed && reason != "":
		return StatePaymentNotCompleted, "Your payment was not completed: " + reason
	default:
		return StatePaymentNotCompleted, "Your payment was not completed."
	}
}

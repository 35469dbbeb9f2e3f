package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type PollResult struct {
	Payment      *domain.Payment
	Order        *domain.Order
	PaymentState PaymentState
	Message      string
	Attempts     int
}

// StatusPoller waits for a payment to reach a terminal state on behalf of a client.
// It only reads; the webhook path is what moves the payment.
type StatusPoller struct {
	repo     ports.Repository
	attempts int
	interval time.Duration
	logger   *slog.Logger
}

func NewStatusPoller(repo ports.Repository, attempts int, interval time.Duration, logger *slog.Logger) *StatusPoller {
	return &StatusPoller{
		repo:     repo,
		attempts: attempts,
		interval: interval,
		logger:   logger,
	}
}

// Await returns as soon as the payment is terminal, or a verification timeout once
// the attempts are spent. A timeout never fails the order.
func (p *StatusPoller) Await(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*PollResult, error) {
	limiter := rate.NewLimiter(rate.Every(p.interval), 1)

	var payment *domain.Payment
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var err error
		payment, err = p.repo.FindPaymentByID(ctx, paymentID)
		if err != nil {
			return nil, asPersistenceError("load payment", err)
		}
		if !actor.CanAccess(payment.UserID) {
			return nil, domain.NewPaymentNotFoundError(paymentID.String())
		}

		if payment.IsTerminal() {
			return p.terminal(ctx, payment, attempt)
		}
	}

	p.logger.Info("payment verification timed out",
		"payment_id", paymentID,
		"attempts", p.attempts,
	)

	return &PollResult{
		Payment:      payment,
		PaymentState: StateVerificationTimedOut,
		Message:      "We could not confirm your payment yet. If you approved it, your order will update automatically.",
		Attempts:     p.attempts,
	}, nil
}

func (p *StatusPoller) terminal(ctx context.Context, payment *domain.Payment, attempt int) (*PollResult, error) {
	result := &PollResult{Payment: payment, Attempts: attempt}
	if payment.OrderID == nil {
		if payment.IsCompleted() {
			result.PaymentState = StatePaymentCompleted
		} else {
			result.PaymentState = StatePaymentNotCompleted
		}
		return result, nil
	}

	order, err := p.repo.FindOrderByID(ctx, *payment.OrderID)
	if err != nil {
		return nil, asPersistenceError("load order", err)
	}
	result.Order = order

	if !payment.IsCompleted() {
		// describe this attempt alone so a sibling attempt still in flight is not mistaken for it
		result.PaymentState, result.Message = describePayment(order, []*domain.Payment{payment})
		return result, nil
	}

	payments, err := p.repo.FindPaymentsByOrderID(ctx, order.ID)
	if err != nil {
		return nil, asPersistenceError("load payments", err)
	}
	result.PaymentState, result.Message = describePayment(order, payments)
	return result, nil
}

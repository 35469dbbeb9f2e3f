package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
)

// ReconcileService is the only writer of order status. It applies gateway outcomes,
// prescription approvals and admin updates, each as one transaction.
type ReconcileService struct {
	repo     ports.Repository
	gateways *Gateways
	notifier *NotificationTrigger
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconcileService(
	repo ports.Repository,
	gateways *Gateways,
	notifier *NotificationTrigger,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		repo:     repo,
		gateways: gateways,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Apply runs one event through the state machine. Redelivered payment events return a
// result with Duplicate set and no error.
func (s *ReconcileService) Apply(ctx context.Context, event domain.Event) (*domain.ApplyResult, error) {
	var result *domain.ApplyResult

	err := s.repo.WithTx(ctx, func(tx ports.Repository) error {
		var err error
		result, err = s.apply(ctx, tx, event)
		return err
	})
	if err != nil {
		err = asPersistenceError("apply "+domain.EventName(event), err)
		s.logger.Warn("event rejected", "event", domain.EventName(event), "error", err)
		return nil, err
	}

	s.afterCommit(ctx, event, result)
	return result, nil
}

func (s *ReconcileService) apply(ctx context.Context, tx ports.Repository, event domain.Event) (*domain.ApplyResult, error) {
	switch e := event.(type) {
	case domain.PaymentSucceededEvent:
		return s.applySucceeded(ctx, tx, e)
	case domain.PaymentFailedEvent:
		return s.applyFailed(ctx, tx, e)
	case domain.PrescriptionApprovedEvent:
		return s.applyPrescriptionApproved(ctx, tx, e)
	case domain.AdminStatusUpdate:
		return s.applyAdminUpdate(ctx, tx, e)
	default:
		return nil, domain.NewInvalidRequestError(fmt.Sprintf("unsupported event %T", event))
	}
}

func (s *ReconcileService) afterCommit(ctx context.Context, event domain.Event, result *domain.ApplyResult) {
	if result == nil {
		return
	}
	if result.Duplicate {
		s.logger.Info("duplicate event ignored", "event", domain.EventName(event))
		return
	}
	if result.Transitioned {
		s.logger.Info("order transitioned",
			"event", domain.EventName(event),
			"order_id", result.Order.ID,
			"from", result.From,
			"to", result.To,
		)
	}
	s.notifier.Fire(ctx, result)
}

func (s *ReconcileService) applySucceeded(ctx context.Context, tx ports.Repository, e domain.PaymentSucceededEvent) (*domain.ApplyResult, error) {
	payment, err := s.findPayment(ctx, tx, e.ExternalReference)
	if err != nil {
		return nil, err
	}
	if payment.IsTerminal() {
		if payment.Status == domain.PaymentFailed {
			s.logger.Error("gateway reported success for a failed payment",
				"payment_id", payment.ID,
				"external_reference", e.ExternalReference,
			)
		}
		return &domain.ApplyResult{Payment: payment, Duplicate: true}, nil
	}

	if !e.Amount.IsZero() && !e.Amount.Equal(payment.Amount) {
		s.logger.Error("gateway amount does not match payment",
			"payment_id", payment.ID,
			"expected", payment.Amount.String(),
			"reported", e.Amount.String(),
		)
		return nil, domain.NewInvalidRequestError(fmt.Sprintf(
			"reported amount %s does not match payment amount %s", e.Amount, payment.Amount,
		))
	}

	if e.Currency != "" && !strings.EqualFold(e.Currency, payment.Currency) {
		s.logger.Error("gateway currency does not match payment",
			"payment_id", payment.ID,
			"expected", payment.Currency,
			"reported", e.Currency,
		)
		return nil, domain.NewInvalidRequestError(fmt.Sprintf(
			"reported currency %s does not match payment currency %s", e.Currency, payment.Currency,
		))
	}

	completed, ok, err := tx.CompletePayment(ctx, e.ExternalReference, e.Metadata, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost the race to a concurrent delivery of the same outcome
		return &domain.ApplyResult{Payment: payment, Duplicate: true}, nil
	}

	result := &domain.ApplyResult{Payment: completed}
	if completed.OrderID == nil {
		s.logger.Warn("completed payment has no order", "payment_id", completed.ID)
		return result, nil
	}

	order, err := tx.FindOrderByIDForUpdate(ctx, *completed.OrderID)
	if err != nil {
		return nil, err
	}
	result.Order = order

	switch {
	case order.Status == domain.OrderPending && order.CanFulfill():
		return s.transition(ctx, tx, result, domain.OrderConfirmed, "", "payment received")

	case order.Status == domain.OrderPending:
		err = tx.AppendTracking(ctx, &domain.TrackingEntry{
			OrderID:   order.ID,
			Status:    order.Status,
			Note:      "payment received, awaiting prescription approval",
			CreatedAt: s.now(),
		})
		return result, err

	default:
		s.logger.Error("payment completed on an order that is no longer awaiting payment",
			"payment_id", completed.ID,
			"order_id", order.ID,
			"order_status", order.Status,
			"receipt", e.Receipt,
		)
		err = tx.AppendTracking(ctx, &domain.TrackingEntry{
			OrderID:   order.ID,
			Status:    order.Status,
			Note:      fmt.Sprintf("payment %s received while order was %s, refund required", completed.ID, order.Status),
			CreatedAt: s.now(),
		})
		return result, err
	}
}

func (s *ReconcileService) applyFailed(ctx context.Context, tx ports.Repository, e domain.PaymentFailedEvent) (*domain.ApplyResult, error) {
	payment, err := s.findPayment(ctx, tx, e.ExternalReference)
	if err != nil {
		return nil, err
	}
	if payment.IsTerminal() {
		return &domain.ApplyResult{Payment: payment, Duplicate: true}, nil
	}

	reason := e.Reason
	if reason == "" {
		reason = "payment was not completed"
	}

	failed, ok, err := tx.FailPayment(ctx, e.ExternalReference, reason, e.Metadata, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.ApplyResult{Payment: payment, Duplicate: true}, nil
	}

	result := &domain.ApplyResult{Payment: failed}
	if failed.OrderID == nil {
		return result, nil
	}

	order, err := tx.FindOrderByIDForUpdate(ctx, *failed.OrderID)
	if err != nil {
		return nil, err
	}
	result.Order = order

	if order.Status != domain.OrderPending {
		return result, nil
	}

	pending, err := tx.CountPendingPayments(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		// another attempt is still in flight; let it decide
		return result, nil
	}

	completed, err := tx.HasCompletedPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if completed {
		return result, nil
	}

	return s.transition(ctx, tx, result, domain.OrderPaymentFailed, "", reason)
}

func (s *ReconcileService) applyPrescriptionApproved(ctx context.Context, tx ports.Repository, e domain.PrescriptionApprovedEvent) (*domain.ApplyResult, error) {
	order, err := tx.FindOrderByIDForUpdate(ctx, e.OrderID)
	if err != nil {
		return nil, err
	}
	result := &domain.ApplyResult{Order: order}

	changed := false
	if !order.PrescriptionApproved {
		if err := tx.SetPrescriptionApproved(ctx, order.ID, true); err != nil {
			return nil, err
		}
		order.PrescriptionApproved = true
		changed = true
	}

	if order.Status != domain.OrderPending {
		result.Duplicate = !changed
		return result, nil
	}

	paid, err := tx.HasCompletedPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if !paid {
		result.Duplicate = !changed
		return result, nil
	}

	return s.transition(ctx, tx, result, domain.OrderConfirmed, "", "prescription approved")
}

func (s *ReconcileService) applyAdminUpdate(ctx context.Context, tx ports.Repository, e domain.AdminStatusUpdate) (*domain.ApplyResult, error) {
	order, err := tx.FindOrderByIDForUpdate(ctx, e.OrderID)
	if err != nil {
		return nil, err
	}

	paid, err := tx.HasCompletedPayment(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	if err := order.CanTransitionTo(e.Status, paid); err != nil {
		return nil, err
	}

	note := e.Note
	if note == "" && e.ActorID != "" {
		note = "updated by " + e.ActorID
	}

	return s.transition(ctx, tx, &domain.ApplyResult{Order: order}, e.Status, e.Location, note)
}

// transition moves result.Order to target and appends the matching tracking row.
func (s *ReconcileService) transition(
	ctx context.Context,
	tx ports.Repository,
	result *domain.ApplyResult,
	target domain.OrderStatus,
	location, note string,
) (*domain.ApplyResult, error) {
	order := result.Order
	from := order.Status

	if err := tx.UpdateOrderStatus(ctx, order.ID, from, target); err != nil {
		return nil, err
	}

	now := s.now()
	if err := tx.AppendTracking(ctx, &domain.TrackingEntry{
		OrderID:   order.ID,
		Status:    target,
		Location:  location,
		Note:      note,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	order.Status = target
	order.UpdatedAt = now
	result.Transitioned = true
	result.From = from
	result.To = target
	return result, nil
}

func (s *ReconcileService) findPayment(ctx context.Context, tx ports.Repository, ref string) (*domain.Payment, error) {
	if ref == "" {
		return nil, domain.NewInvalidRequestError("external reference is required")
	}
	payment, err := tx.FindPaymentByExternalReference(ctx, ref)
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodePaymentNotFound) {
			return nil, domain.NewUnknownPaymentError(ref)
		}
		return nil, err
	}
	return payment, nil
}

// ApplyOutcome feeds a server-side gateway answer into the state machine.
// A pending outcome changes nothing.
func (s *ReconcileService) ApplyOutcome(ctx context.Context, ref string, outcome *domain.Outcome) (*domain.ApplyResult, error) {
	switch outcome.Status {
	case domain.OutcomeSucceeded:
		return s.Apply(ctx, domain.PaymentSucceededEvent{
			ExternalReference: ref,
			Amount:            outcome.Amount,
			Currency:          outcome.Currency,
			Receipt:           outcome.Receipt,
			Metadata:          outcome.Metadata,
		})
	case domain.OutcomeFailed:
		return s.Apply(ctx, domain.PaymentFailedEvent{
			ExternalReference: ref,
			Reason:            outcome.Reason,
			Metadata:          outcome.Metadata,
		})
	default:
		payment, err := s.repo.FindPaymentByExternalReference(ctx, ref)
		if err != nil {
			if domain.IsErrorCode(err, domain.ErrCodePaymentNotFound) {
				return nil, domain.NewUnknownPaymentError(ref)
			}
			return nil, asPersistenceError("load payment", err)
		}
		return &domain.ApplyResult{Payment: payment}, nil
	}
}

// ConfirmPayment asks the payment's gateway for the authoritative outcome and applies it.
func (s *ReconcileService) ConfirmPayment(ctx context.Context, payment *domain.Payment) (*domain.ApplyResult, error) {
	if payment.IsTerminal() || payment.Reference() == "" {
		return &domain.ApplyResult{Payment: payment}, nil
	}

	gw, err := s.gateways.Get(payment.Method)
	if err != nil {
		return nil, err
	}

	outcome, err := gw.Confirm(ctx, payment.Reference())
	if err != nil {
		return nil, asGatewayError(payment.Method, err)
	}

	return s.ApplyOutcome(ctx, payment.Reference(), outcome)
}

// Verify is the client's "I'm back from the gateway" hint. It only ever triggers a server-side check.
func (s *ReconcileService) Verify(ctx context.Context, actor domain.Actor, paymentID uuid.UUID) (*domain.ApplyResult, error) {
	payment, err := s.repo.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, asPersistenceError("load payment", err)
	}
	if !actor.CanAccess(payment.UserID) {
		return nil, domain.NewPaymentNotFoundError(paymentID.String())
	}
	return s.ConfirmPayment(ctx, payment)
}

// asPersistenceError keeps domain errors and classifies everything else as a storage failure.
func asPersistenceError(operation string, err error) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return domain.NewPersistenceError(operation, err)
}

func asGatewayError(method domain.PaymentMethod, err error) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	return domain.NewGatewayUnavailableError(method, err)
}

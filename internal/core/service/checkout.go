package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutCommand struct {
	UserID               string
	Amount               decimal.Decimal
	Currency             string
	DeliveryAddress      string
	Email                string
	Phone                string
	Method               domain.PaymentMethod
	RequiresPrescription bool
	PrescriptionID       *uuid.UUID
}

type CheckoutResult struct {
	Order           *domain.Order
	Payment         *domain.Payment
	RedirectURL     string
	CustomerMessage string
}

// CheckoutService creates orders and starts payment attempts. It never moves an order
// out of pending; only gateway outcomes do that.
type CheckoutService struct {
	repo          ports.Repository
	gateways      *Gateways
	storefrontURL string
	logger        *slog.Logger
}

func NewCheckoutService(repo ports.Repository, gateways *Gateways, storefrontURL string, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		repo:          repo,
		gateways:      gateways,
		storefrontURL: strings.TrimRight(storefrontURL, "/"),
		logger:        logger,
	}
}

func (s *CheckoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error) {
	if !cmd.Amount.IsPositive() {
		return nil, domain.NewInvalidRequestError("total amount must be positive")
	}

	gw, err := s.gateways.Get(cmd.Method)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:                   uuid.New(),
		UserID:               cmd.UserID,
		TotalAmount:          cmd.Amount.Round(2),
		Currency:             strings.ToUpper(cmd.Currency),
		DeliveryAddress:      cmd.DeliveryAddress,
		ContactEmail:         cmd.Email,
		ContactPhone:         cmd.Phone,
		PaymentMethod:        cmd.Method,
		Status:               domain.OrderPending,
		RequiresPrescription: cmd.RequiresPrescription,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err = s.repo.WithTx(ctx, func(tx ports.Repository) error {
		if cmd.PrescriptionID != nil {
			p, err := tx.FindPrescriptionByIDForUpdate(ctx, *cmd.PrescriptionID)
			if err != nil {
				return err
			}
			if p.UserID != cmd.UserID {
				return domain.NewPrescriptionNotFoundError(cmd.PrescriptionID.String())
			}
			if p.OrderID != nil {
				return domain.NewInvalidRequestError("prescription is already attached to another order")
			}
			order.PrescriptionApproved = p.Status == domain.PrescriptionApproved
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		if cmd.PrescriptionID != nil {
			if err := tx.LinkPrescription(ctx, *cmd.PrescriptionID, order.ID); err != nil {
				return err
			}
		}

		return tx.AppendTracking(ctx, &domain.TrackingEntry{
			OrderID:   order.ID,
			Status:    domain.OrderPending,
			Note:      "order placed",
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, asPersistenceError("create order", err)
	}

	s.logger.Info("order created",
		"order_id", order.ID,
		"user_id", order.UserID,
		"method", order.PaymentMethod,
		"requires_prescription", order.RequiresPrescription,
	)

	return s.startPayment(ctx, gw, order, cmd.Phone, cmd.Email)
}

// RetryPayment starts a fresh attempt on an order that is still awaiting payment.
func (s *CheckoutService) RetryPayment(ctx context.Context, actor domain.Actor, orderID uuid.UUID, method domain.PaymentMethod, phone string) (*CheckoutResult, error) {
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, asPersistenceError("load order", err)
	}
	if !actor.CanAccess(order.UserID) {
		return nil, domain.NewOrderNotFoundError(orderID.String())
	}
	if order.Status != domain.OrderPending {
		return nil, domain.NewGuardViolationError(fmt.Sprintf("order is %s and no longer accepts payments", order.Status))
	}

	paid, err := s.repo.HasCompletedPayment(ctx, order.ID)
	if err != nil {
		return nil, asPersistenceError("check payments", err)
	}
	if paid {
		return nil, domain.NewGuardViolationError("order has already been paid")
	}

	if phone == "" {
		phone = order.ContactPhone
	}
	return s.startPayment(ctx, gw, order, phone, order.ContactEmail)
}

func (s *CheckoutService) startPayment(ctx context.Context, gw ports.Gateway, order *domain.Order, phone, email string) (*CheckoutResult, error) {
	now := time.Now().UTC()
	orderID := order.ID
	payment := &domain.Payment{
		ID:        uuid.New(),
		OrderID:   &orderID,
		UserID:    order.UserID,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		Method:    gw.Method(),
		Status:    domain.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// the pending row is reserved before the gateway is called so a second
	// concurrent attempt on the same gateway is refused instead of double charging
	if err := s.repo.CreatePayment(ctx, payment); err != nil {
		return nil, asPersistenceError("reserve payment", err)
	}

	initiated, err := gw.Initiate(ctx, domain.InitiateRequest{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		UserID:      order.UserID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Description: "Order " + order.ID.String()[:8],
		Email:       email,
		Phone:       phone,
		ReturnURL:   s.returnURL(order.ID, payment.ID),
	})
	if err != nil {
		err = asGatewayError(gw.Method(), err)
		s.logger.Warn("payment initiation failed",
			"order_id", order.ID,
			"payment_id", payment.ID,
			"method", gw.Method(),
			"error", err,
		)
		if abandonErr := s.repo.AbandonPayment(context.WithoutCancel(ctx), payment.ID, "initiation failed: "+err.Error()); abandonErr != nil {
			s.logger.Error("failed to release payment reservation", "payment_id", payment.ID, "error", abandonErr)
		}
		return nil, err
	}

	if err := s.repo.AttachExternalReference(ctx, payment.ID, initiated.ExternalReference, initiated.Metadata); err != nil {
		s.logger.Error("gateway session started but reference was not stored",
			"payment_id", payment.ID,
			"external_reference", initiated.ExternalReference,
			"error", err,
		)
		return nil, asPersistenceError("store payment reference", err)
	}

	ref := initiated.ExternalReference
	payment.ExternalReference = &ref
	payment.Metadata = initiated.Metadata

	s.logger.Info("payment initiated",
		"order_id", order.ID,
		"payment_id", payment.ID,
		"method", payment.Method,
		"external_reference", ref,
	)

	return &CheckoutResult{
		Order:           order,
		Payment:         payment,
		RedirectURL:     initiated.RedirectURL,
		CustomerMessage: initiated.CustomerMessage,
	}, nil
}

func (s *CheckoutService) returnURL(orderID, paymentID uuid.UUID) string {
	q := url.Values{"payment_id": {paymentID.String()}}
	return fmt.Sprintf("%s/orders/%s/payment-return?%s", s.storefrontURL, orderID, q.Encode())
}

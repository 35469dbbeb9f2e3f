package testhelpers

import (
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewOrder returns a pending M-PESA order for user.
func NewOrder(user string) *domain.Order {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Order{
		ID:              uuid.New(),
		UserID:          user,
		TotalAmount:     decimal.RequireFromString("2450.00"),
		Currency:        "KES",
		DeliveryAddress: "Kenyatta Avenue, Nairobi",
		ContactEmail:    "customer@example.com",
		ContactPhone:    "254712345678",
		PaymentMethod:   domain.MethodMpesa,
		Status:          domain.OrderPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewPendingPayment returns an attempt for order on method. ref may be empty.
func NewPendingPayment(order *domain.Order, method domain.PaymentMethod, ref string) *domain.Payment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	orderID := order.ID
	p := &domain.Payment{
		ID:        uuid.New(),
		OrderID:   &orderID,
		UserID:    order.UserID,
		Amount:    order.TotalAmount,
		Currency:  order.Currency,
		Method:    method,
		Status:    domain.PaymentPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ref != "" {
		p.ExternalReference = &ref
	}
	return p
}

package domain_test

import (
	"testing"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPayment_Status(t *testing.T) {
	t.Run("legacy success reads as completed", func(t *testing.T) {
		p := &domain.Payment{Status: domain.PaymentSuccess}
		assert.True(t, p.IsCompleted())
		assert.True(t, p.IsTerminal())
	})

	t.Run("pending is not terminal", func(t *testing.T) {
		p := &domain.Payment{Status: domain.PaymentPending}
		assert.False(t, p.IsCompleted())
		assert.False(t, p.IsTerminal())
		assert.Equal(t, "", p.Reference())
	})

	t.Run("failed is terminal", func(t *testing.T) {
		ref := "ws_CO_123"
		p := &domain.Payment{Status: domain.PaymentFailed, ExternalReference: &ref}
		assert.True(t, p.IsTerminal())
		assert.Equal(t, ref, p.Reference())
	})
}

func TestParsePaymentMethod(t *testing.T) {
	m, ok := domain.ParsePaymentMethod("pesapal")
	assert.True(t, ok)
	assert.Equal(t, domain.MethodPesapal, m)

	_, ok = domain.ParsePaymentMethod("bitcoin")
	assert.False(t, ok)
}

func TestPrescription_CanReviewTo(t *testing.T) {
	p := &domain.Prescription{Status: domain.PrescriptionPending}
	assert.NoError(t, p.CanReviewTo(domain.PrescriptionApproved))
	assert.NoError(t, p.CanReviewTo(domain.PrescriptionRejected))
	assert.Error(t, p.CanReviewTo(domain.PrescriptionPending))

	p.Status = domain.PrescriptionApproved
	assert.NoError(t, p.CanReviewTo(domain.PrescriptionPending))
	assert.Error(t, p.CanReviewTo(domain.PrescriptionRejected))
}

func TestNotificationKindFor(t *testing.T) {
	for _, s := range []domain.OrderStatus{domain.OrderConfirmed, domain.OrderDelivered, domain.OrderCancelled, domain.OrderPaymentFailed} {
		_, ok := domain.NotificationKindFor(s)
		assert.True(t, ok, s)
	}
	for _, s := range []domain.OrderStatus{domain.OrderPending, domain.OrderProcessing, domain.OrderShipped, domain.OrderOutForDelivery} {
		_, ok := domain.NotificationKindFor(s)
		assert.False(t, ok, s)
	}
}

func TestNotification_Body(t *testing.T) {
	o := &domain.Order{
		ID:          uuid.MustParse("8f14e45f-ceea-467f-a9f0-2c1b2e4d6a10"),
		TotalAmount: decimal.RequireFromString("1500"),
		Currency:    "KES",
		Status:      domain.OrderConfirmed,
	}
	n := domain.NewNotification(domain.NotifyOrderConfirmed, o)
	assert.Equal(t, "Order 8f14e45f confirmed", n.Subject())
	assert.Contains(t, n.Body(), "1500.00 KES")
}

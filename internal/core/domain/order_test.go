package domain_test

import (
	"testing"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestOrder_CanFulfill(t *testing.T) {
	tests := []struct {
		name     string
		requires bool
		approved bool
		want     bool
	}{
		{"no prescription needed", false, false, true},
		{"prescription approved", true, true, true},
		{"prescription outstanding", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &domain.Order{RequiresPrescription: tt.requires, PrescriptionApproved: tt.approved}
			assert.Equal(t, tt.want, o.CanFulfill())
		})
	}
}

func TestOrder_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name     string
		from     domain.OrderStatus
		to       domain.OrderStatus
		paid     bool
		requires bool
		approved bool
		wantCode string
	}{
		{"pending to confirmed when paid", domain.OrderPending, domain.OrderConfirmed, true, false, false, ""},
		{"pending to confirmed unpaid", domain.OrderPending, domain.OrderConfirmed, false, false, false, domain.ErrCodeGuardViolation},
		{"confirmed to processing", domain.OrderConfirmed, domain.OrderProcessing, true, false, false, ""},
		{"confirmed to shipped skips ahead", domain.OrderConfirmed, domain.OrderShipped, true, false, false, ""},
		{"confirmed to processing without prescription", domain.OrderConfirmed, domain.OrderProcessing, true, true, false, domain.ErrCodeGuardViolation},
		{"confirmed to processing with prescription", domain.OrderConfirmed, domain.OrderProcessing, true, true, true, ""},
		{"shipped back to processing", domain.OrderShipped, domain.OrderProcessing, true, false, false, domain.ErrCodeInvalidTransition},
		{"same status", domain.OrderShipped, domain.OrderShipped, true, false, false, domain.ErrCodeInvalidTransition},
		{"admin cannot fail payment", domain.OrderPending, domain.OrderPaymentFailed, false, false, false, domain.ErrCodeInvalidTransition},
		{"cancel pending", domain.OrderPending, domain.OrderCancelled, false, false, false, ""},
		{"cancel out for delivery", domain.OrderOutForDelivery, domain.OrderCancelled, true, false, false, ""},
		{"delivered is terminal", domain.OrderDelivered, domain.OrderCancelled, true, false, false, domain.ErrCodeInvalidTransition},
		{"cancelled is terminal", domain.OrderCancelled, domain.OrderConfirmed, true, false, false, domain.ErrCodeInvalidTransition},
		{"payment_failed is terminal", domain.OrderPaymentFailed, domain.OrderConfirmed, true, false, false, domain.ErrCodeInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &domain.Order{Status: tt.from, RequiresPrescription: tt.requires, PrescriptionApproved: tt.approved}
			err := o.CanTransitionTo(tt.to, tt.paid)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, domain.IsErrorCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestOrderStatus_Rank(t *testing.T) {
	assert.Less(t, domain.OrderPending.Rank(), domain.OrderConfirmed.Rank())
	assert.Less(t, domain.OrderShipped.Rank(), domain.OrderOutForDelivery.Rank())
	assert.Equal(t, -1, domain.OrderCancelled.Rank())
	assert.Equal(t, -1, domain.OrderPaymentFailed.Rank())
}

func TestParseOrderStatus(t *testing.T) {
	s, ok := domain.ParseOrderStatus("out_for_delivery")
	assert.True(t, ok)
	assert.Equal(t, domain.OrderOutForDelivery, s)

	_, ok = domain.ParseOrderStatus("lost")
	assert.False(t, ok)
}

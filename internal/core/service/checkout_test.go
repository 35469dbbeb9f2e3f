package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_RedirectGateway(t *testing.T) {
	f := newFixture(t)
	var got domain.InitiateRequest
	f.paypal.InitiateFn = func(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
		got = req
		return &domain.InitiateResult{
			ExternalReference: "5O190127TN364715T",
			RedirectURL:       "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T",
			Metadata:          json.RawMessage(`{"id":"5O190127TN364715T"}`),
		}, nil
	}

	cmd := checkoutCommand(domain.MethodPayPal)
	cmd.Currency = "USD"
	cmd.Amount = decimal.RequireFromString("12.5")
	result, err := f.checkout.Checkout(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=5O190127TN364715T", result.RedirectURL)
	assert.Equal(t, "5O190127TN364715T", result.Payment.Reference())
	assert.Equal(t, domain.PaymentPending, result.Payment.Status)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, result.Payment.ID, got.PaymentID)
	assert.Contains(t, got.ReturnURL, "https://shop.test/orders/"+result.Order.ID.String()+"/payment-return?payment_id=")
}

func TestCheckout_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	cmd := checkoutCommand(domain.MethodMpesa)
	cmd.Amount = decimal.Zero

	_, err := f.checkout.Checkout(context.Background(), cmd)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidRequest))
	assert.Equal(t, 0, f.mpesa.Calls("Initiate"))
}

func TestCheckout_UnsupportedMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.checkout.Checkout(context.Background(), checkoutCommand(domain.MethodPesapal))
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidRequest))
}

func TestCheckout_GatewayUnavailableKeepsOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mpesa.InitiateFn = func(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
		return nil, errors.New("oauth: 503 service unavailable")
	}

	_, err := f.checkout.Checkout(ctx, checkoutCommand(domain.MethodMpesa))
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeGatewayUnavailable))

	orders, err := f.repo.FindOrdersByUserID(ctx, "user-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderPending, orders[0].Status)

	payments, err := f.repo.FindPaymentsByOrderID(ctx, orders[0].ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentFailed, payments[0].Status)
	assert.Contains(t, *payments[0].FailureReason, "initiation failed")

	// the customer can try again once the gateway is back
	f.mpesa.InitiateFn = nil
	retry, err := f.checkout.RetryPayment(ctx, domain.Actor{UserID: "user-1"}, orders[0].ID, domain.MethodMpesa, "")
	require.NoError(t, err)
	assert.Equal(t, "254712345678", f.order(t, orders[0].ID).ContactPhone)
	assert.Equal(t, domain.PaymentPending, retry.Payment.Status)
}

func TestCheckout_NoDoubleCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.checkout.Checkout(ctx, checkoutCommand(domain.MethodMpesa))
	require.NoError(t, err)

	_, err = f.checkout.RetryPayment(ctx, domain.Actor{UserID: "user-1"}, first.Order.ID, domain.MethodMpesa, "")
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeDuplicatePendingPayment))
	assert.Equal(t, 1, f.mpesa.Calls("Initiate"))

	pending, err := f.repo.CountPendingPayments(ctx, first.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	// a different gateway may run alongside
	_, err = f.checkout.RetryPayment(ctx, domain.Actor{UserID: "user-1"}, first.Order.ID, domain.MethodPayPal, "")
	require.NoError(t, err)
}

func TestRetryPayment_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("other users cannot see the order", func(t *testing.T) {
		order := f.seedOrder()
		_, err := f.checkout.RetryPayment(ctx, domain.Actor{UserID: "intruder"}, order.ID, domain.MethodMpesa, "")
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeOrderNotFound))
	})

	t.Run("failed orders take no new payments", func(t *testing.T) {
		order := f.seedOrder(withStatus(domain.OrderPaymentFailed))
		_, err := f.checkout.RetryPayment(ctx, domain.Actor{UserID: "user-1"}, order.ID, domain.MethodMpesa, "")
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeGuardViolation))
	})

	t.Run("paid orders take no new payments", func(t *testing.T) {
		order := f.seedOrder(requiringPrescription(false))
		f.seedPayment(order, domain.MethodMpesa, domain.PaymentCompleted, "ws_CO_paid")
		_, err := f.checkout.RetryPayment(ctx, domain.Actor{UserID: "user-1"}, order.ID, domain.MethodPayPal, "")
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeGuardViolation))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.checkout.RetryPayment(ctx, domain.Actor{UserID: "user-1"}, uuid.New(), domain.MethodMpesa, "")
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeOrderNotFound))
	})
}

func TestCheckout_PrescriptionOwnership(t *testing.T) {
	f := newFixture(t)
	rx := domain.Prescription{ID: uuid.New(), UserID: "someone-else", Status: domain.PrescriptionApproved}
	f.repo.SeedPrescription(rx)

	cmd := checkoutCommand(domain.MethodMpesa)
	cmd.RequiresPrescription = true
	cmd.PrescriptionID = &rx.ID

	_, err := f.checkout.Checkout(context.Background(), cmd)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodePrescriptionNotFound))
}

func TestCheckout_ApprovedPrescriptionCarriesOver(t *testing.T) {
	f := newFixture(t)
	rx := domain.Prescription{ID: uuid.New(), UserID: "user-1", Status: domain.PrescriptionApproved}
	f.repo.SeedPrescription(rx)

	cmd := checkoutCommand(domain.MethodMpesa)
	cmd.RequiresPrescription = true
	cmd.PrescriptionID = &rx.ID

	result, err := f.checkout.Checkout(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, result.Order.PrescriptionApproved)

	linked, err := f.repo.FindPrescriptionByID(context.Background(), rx.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Order.ID, *linked.OrderID)
}

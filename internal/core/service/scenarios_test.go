package service

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkoutCommand(method domain.PaymentMethod) CheckoutCommand {
	return CheckoutCommand{
		UserID:          "user-1",
		Amount:          decimal.RequireFromString("1500"),
		Currency:        "kes",
		DeliveryAddress: "Moi Avenue, Nairobi",
		Email:           "jane@example.com",
		Phone:           "254712345678",
		Method:          method,
	}
}

func callbackFor(ref string) InboundCallback {
	return InboundCallback{
		Body:       []byte(fmt.Sprintf(`{"reference":%q}`, ref)),
		RemoteAddr: "196.201.214.200",
	}
}

func succeedWith(amount string) func(ctx context.Context, ref string) (*domain.Outcome, error) {
	return func(ctx context.Context, ref string) (*domain.Outcome, error) {
		return &domain.Outcome{
			Status:  domain.OutcomeSucceeded,
			Amount:  decimal.RequireFromString(amount),
			Receipt: "QKJ4XYZ123",
		}, nil
	}
}

// M-PESA prompt approved, callback re-verified, order confirmed and customer notified once.
func TestScenario_MpesaHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.checkout.Checkout(ctx, checkoutCommand(domain.MethodMpesa))
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, checkout.Order.Status)
	assert.Equal(t, "KES", checkout.Order.Currency)
	require.NotNil(t, checkout.Payment.ExternalReference)

	f.mpesa.ConfirmFn = succeedWith("1500")
	_, result, err := f.callback.Handle(ctx, domain.MethodMpesa, callbackFor(checkout.Payment.Reference()))
	require.NoError(t, err)
	assert.True(t, result.Transitioned)

	order := f.order(t, checkout.Order.ID)
	assert.Equal(t, domain.OrderConfirmed, order.Status)

	payment, err := f.repo.FindPaymentByID(ctx, checkout.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, payment.Status)

	entries, err := f.repo.FindTrackingByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OrderPending, entries[0].Status)
	assert.Equal(t, domain.OrderConfirmed, entries[1].Status)

	assert.Equal(t, 1, f.publisher.Count())
	assert.Equal(t, 1, f.mpesa.Calls("Confirm"))
	require.Len(t, f.callbacks.Records, 1)
	assert.Equal(t, checkout.Payment.Reference(), f.callbacks.Records[0].ExternalReference)
}

// Paid prescription order waits in pending until the pharmacist approves.
func TestScenario_PrescriptionHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := domain.Actor{UserID: "user-1"}

	rx, err := f.prescription.Upload(ctx, user, UploadCommand{
		ContentType: "image/jpeg",
		Size:        4,
		Body:        bytes.NewReader([]byte("jpeg")),
	})
	require.NoError(t, err)

	cmd := checkoutCommand(domain.MethodMpesa)
	cmd.RequiresPrescription = true
	cmd.PrescriptionID = &rx.ID
	checkout, err := f.checkout.Checkout(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, checkout.Order.PrescriptionApproved)

	f.mpesa.ConfirmFn = succeedWith("1500")
	_, result, err := f.callback.Handle(ctx, domain.MethodMpesa, callbackFor(checkout.Payment.Reference()))
	require.NoError(t, err)
	assert.False(t, result.Transitioned)
	assert.Equal(t, domain.OrderPending, f.order(t, checkout.Order.ID).Status)
	assert.Equal(t, 0, f.publisher.Count())

	details, err := f.query.GetOrder(ctx, user, checkout.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingPrescription, details.PaymentState)

	_, applied, err := f.prescription.Review(ctx, domain.Actor{UserID: "pharmacist", Admin: true}, ReviewCommand{
		PrescriptionID: rx.ID,
		Status:         domain.PrescriptionApproved,
	})
	require.NoError(t, err)
	require.NotNil(t, applied)
	assert.True(t, applied.Transitioned)

	order := f.order(t, checkout.Order.ID)
	assert.Equal(t, domain.OrderConfirmed, order.Status)
	assert.True(t, order.PrescriptionApproved)
	assert.Equal(t, 1, f.publisher.Count())
}

// The same callback delivered repeatedly changes state once.
func TestScenario_DuplicateCallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	checkout, err := f.checkout.Checkout(ctx, checkoutCommand(domain.MethodMpesa))
	require.NoError(t, err)
	f.mpesa.ConfirmFn = succeedWith("1500")

	for i := 0; i < 4; i++ {
		_, _, err := f.callback.Handle(ctx, domain.MethodMpesa, callbackFor(checkout.Payment.Reference()))
		require.NoError(t, err)
	}

	assert.Equal(t, domain.OrderConfirmed, f.order(t, checkout.Order.ID).Status)
	assert.Equal(t, 2, f.trackingCount(t, checkout.Order.ID))
	assert.Equal(t, 1, f.publisher.Count())
	assert.Len(t, f.callbacks.Records, 4)
	assert.Equal(t, "duplicate", f.callbacks.Records[3].Result)
}

// No callback arrives while the client polls; the order stays pending
// and the late callback still confirms it.
func TestScenario_VerificationTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := domain.Actor{UserID: "user-1"}

	checkout, err := f.checkout.Checkout(ctx, checkoutCommand(domain.MethodMpesa))
	require.NoError(t, err)

	poller := NewStatusPoller(f.repo, 60, time.Millisecond, testLogger())
	res, err := poller.Await(ctx, user, checkout.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, StateVerificationTimedOut, res.PaymentState)
	assert.Equal(t, 60, res.Attempts)
	assert.Equal(t, domain.OrderPending, f.order(t, checkout.Order.ID).Status)

	f.mpesa.ConfirmFn = succeedWith("1500")
	_, _, err = f.callback.Handle(ctx, domain.MethodMpesa, callbackFor(checkout.Payment.Reference()))
	require.NoError(t, err)

	res, err = poller.Await(ctx, user, checkout.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentCompleted, res.PaymentState)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, domain.OrderConfirmed, res.Order.Status)
}

// Staff cannot ship a prescription order before approval.
func TestScenario_AdminGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cmd := checkoutCommand(domain.MethodMpesa)
	cmd.RequiresPrescription = true
	checkout, err := f.checkout.Checkout(ctx, cmd)
	require.NoError(t, err)

	f.mpesa.ConfirmFn = succeedWith("1500")
	_, _, err = f.callback.Handle(ctx, domain.MethodMpesa, callbackFor(checkout.Payment.Reference()))
	require.NoError(t, err)

	_, err = f.reconciler.Apply(ctx, domain.AdminStatusUpdate{OrderID: checkout.Order.ID, Status: domain.OrderShipped})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeGuardViolation))
	assert.Equal(t, domain.OrderPending, f.order(t, checkout.Order.ID).Status)
}

func TestCallback_RejectedPayloadIsRecorded(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.callback.Handle(context.Background(), domain.MethodMpesa, InboundCallback{Body: []byte("not json")})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidRequest))
	assert.Equal(t, 0, f.mpesa.Calls("Confirm"))
	require.Len(t, f.callbacks.Records, 1)
	assert.Contains(t, f.callbacks.Records[0].Result, "error")
}

func TestCallback_UnknownPayment(t *testing.T) {
	f := newFixture(t)
	f.mpesa.ConfirmFn = succeedWith("1500")

	notice, _, err := f.callback.Handle(context.Background(), domain.MethodMpesa, callbackFor("ws_CO_unknown"))
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeUnknownPayment))
	require.NotNil(t, notice)
	assert.Equal(t, "ws_CO_unknown", notice.ExternalReference)
}

func TestCallback_UnsupportedGateway(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.callback.Handle(context.Background(), domain.MethodFlutterwave, callbackFor("FLW-1"))
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidRequest))
}

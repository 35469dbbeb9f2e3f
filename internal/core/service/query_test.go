package service

import (
	"context"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrder_PaymentStates(t *testing.T) {
	tests := []struct {
		name    string
		opts    []orderOpt
		payment domain.PaymentStatus
		want    PaymentState
	}{
		{"awaiting gateway", nil, domain.PaymentPending, StateAwaitingPayment},
		{"failed attempt", []orderOpt{withStatus(domain.OrderPaymentFailed)}, domain.PaymentFailed, StatePaymentNotCompleted},
		{"paid and confirmed", []orderOpt{withStatus(domain.OrderConfirmed)}, domain.PaymentCompleted, StatePaymentCompleted},
		{"legacy success row", []orderOpt{withStatus(domain.OrderConfirmed)}, domain.PaymentSuccess, StatePaymentCompleted},
		{"paid but order still pending", nil, domain.PaymentCompleted, StateProcessingIncomplete},
		{"paid awaiting prescription", []orderOpt{requiringPrescription(false)}, domain.PaymentCompleted, StateAwaitingPrescription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			order := f.seedOrder(tt.opts...)
			f.seedPayment(order, domain.MethodMpesa, tt.payment, "ref-"+order.ID.String())

			details, err := f.query.GetOrder(context.Background(), domain.Actor{UserID: "user-1"}, order.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, details.PaymentState)
			assert.NotEmpty(t, details.Message)
			assert.Len(t, details.Payments, 1)
		})
	}
}

func TestGetOrder_Access(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()

	_, err := f.query.GetOrder(context.Background(), domain.Actor{UserID: "user-2"}, order.ID)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeOrderNotFound))

	_, err = f.query.GetOrder(context.Background(), domain.Actor{UserID: "staff", Admin: true}, order.ID)
	assert.NoError(t, err)
}

func TestListOrders_Paginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		created := time.Now().Add(time.Duration(i) * time.Minute)
		f.seedOrder(func(o *domain.Order) { o.CreatedAt = created })
	}
	f.seedOrder(func(o *domain.Order) { o.UserID = "user-2" })

	page, err := f.query.ListOrders(context.Background(), domain.Actor{UserID: "user-1"}, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, err := f.query.ListOrders(context.Background(), domain.Actor{UserID: "user-1"}, 10, 4)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestStatusPoller_FailedAttempt(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(withStatus(domain.OrderPaymentFailed))
	reason := "Request cancelled by user"
	p := f.seedPayment(order, domain.MethodMpesa, domain.PaymentFailed, "ws_CO_poll")
	p.FailureReason = &reason
	f.repo.SeedPayment(p)

	poller := NewStatusPoller(f.repo, 3, time.Millisecond, testLogger())
	res, err := poller.Await(context.Background(), domain.Actor{UserID: "user-1"}, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePaymentNotCompleted, res.PaymentState)
	assert.Contains(t, res.Message, reason)
}

func TestStatusPoller_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder()
	p := f.seedPayment(order, domain.MethodMpesa, domain.PaymentPending, "ws_CO_cancel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	poller := NewStatusPoller(f.repo, 60, time.Second, testLogger())
	_, err := poller.Await(ctx, domain.Actor{UserID: "user-1"}, p.ID)
	assert.ErrorIs(t, err, context.Canceled)
}

package service

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = domain.Actor{UserID: "pharmacist-1", Admin: true}

func TestUpload_StoresImage(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(requiringPrescription(false))

	rx, err := f.prescription.Upload(context.Background(), domain.Actor{UserID: "user-1"}, UploadCommand{
		OrderID:     &order.ID,
		ContentType: "image/png; charset=binary",
		Size:        3,
		Body:        strings.NewReader("png"),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.PrescriptionPending, rx.Status)
	assert.Equal(t, "user-1/"+rx.ID.String()+".png", rx.ImageRef)
	assert.Equal(t, []byte("png"), f.storage.Objects[rx.ImageRef])
	assert.Equal(t, order.ID, *rx.OrderID)

	url, err := f.prescription.ImageURL(context.Background(), admin, rx.ID)
	require.NoError(t, err)
	assert.Contains(t, url, rx.ImageRef)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)
	user := domain.Actor{UserID: "user-1"}

	_, err := f.prescription.Upload(context.Background(), user, UploadCommand{ContentType: "text/plain", Size: 1, Body: strings.NewReader("x")})
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidRequest))

	_, err = f.prescription.Upload(context.Background(), user, UploadCommand{ContentType: "image/jpeg", Size: MaxPrescriptionSize + 1, Body: strings.NewReader("x")})
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidRequest))

	other := f.seedOrder(func(o *domain.Order) { o.UserID = "user-2" })
	_, err = f.prescription.Upload(context.Background(), user, UploadCommand{OrderID: &other.ID, ContentType: "image/jpeg", Size: 1, Body: bytes.NewReader([]byte("x"))})
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeOrderNotFound))
	assert.Empty(t, f.storage.Objects)
}

func TestReview_RequiresAdmin(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.prescription.Review(context.Background(), domain.Actor{UserID: "user-1"}, ReviewCommand{PrescriptionID: uuid.New(), Status: domain.PrescriptionApproved})
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeForbidden))
}

func TestReview_RejectKeepsOrderGated(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(requiringPrescription(false))
	f.seedPayment(order, domain.MethodMpesa, domain.PaymentCompleted, "ws_CO_rx1")
	rx := domain.Prescription{ID: uuid.New(), UserID: "user-1", Status: domain.PrescriptionPending, OrderID: &order.ID}
	f.repo.SeedPrescription(rx)

	reviewed, applied, err := f.prescription.Review(context.Background(), admin, ReviewCommand{
		PrescriptionID: rx.ID,
		Status:         domain.PrescriptionRejected,
		AdminNotes:     "illegible",
	})
	require.NoError(t, err)
	assert.Nil(t, applied)
	assert.Equal(t, domain.PrescriptionRejected, reviewed.Status)
	assert.NotNil(t, reviewed.ReviewedAt)
	assert.Equal(t, domain.OrderPending, f.order(t, order.ID).Status)
	assert.Equal(t, 0, f.publisher.Count())
}

func TestReview_ResetBeforeFulfilment(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(requiringPrescription(true), withStatus(domain.OrderConfirmed))
	rx := domain.Prescription{ID: uuid.New(), UserID: "user-1", Status: domain.PrescriptionApproved, OrderID: &order.ID}
	f.repo.SeedPrescription(rx)

	_, _, err := f.prescription.Review(context.Background(), admin, ReviewCommand{PrescriptionID: rx.ID, Status: domain.PrescriptionPending})
	require.NoError(t, err)
	assert.False(t, f.order(t, order.ID).PrescriptionApproved)
}

func TestReview_ResetAfterFulfilmentStarted(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(requiringPrescription(true), withStatus(domain.OrderShipped))
	rx := domain.Prescription{ID: uuid.New(), UserID: "user-1", Status: domain.PrescriptionApproved, OrderID: &order.ID}
	f.repo.SeedPrescription(rx)

	_, _, err := f.prescription.Review(context.Background(), admin, ReviewCommand{PrescriptionID: rx.ID, Status: domain.PrescriptionPending})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeGuardViolation))
}

func TestReview_UnknownPrescription(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.prescription.Review(context.Background(), admin, ReviewCommand{PrescriptionID: uuid.New(), Status: domain.PrescriptionApproved})
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodePrescriptionNotFound))
}

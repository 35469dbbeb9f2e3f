package service

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fixture struct {
	repo         *MockRepository
	mpesa        *MockGateway
	paypal       *MockGateway
	publisher    *MockPublisher
	storage      *MockStorage
	callbacks    *MockCallbackLog
	gateways     *Gateways
	reconciler   *ReconcileService
	checkout     *CheckoutService
	prescription *PrescriptionService
	callback     *CallbackService
	query        *QueryService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()

	f := &fixture{
		repo:      NewMockRepository(),
		mpesa:     NewMockGateway(domain.MethodMpesa),
		paypal:    NewMockGateway(domain.MethodPayPal),
		publisher: &MockPublisher{},
		storage:   NewMockStorage(),
		callbacks: &MockCallbackLog{},
	}
	f.gateways = NewGateways(f.mpesa, f.paypal)
	f.reconciler = NewReconcileService(f.repo, f.gateways, NewNotificationTrigger(f.publisher, logger), logger)
	f.checkout = NewCheckoutService(f.repo, f.gateways, "https://shop.test/", logger)
	f.prescription = NewPrescriptionService(f.repo, f.storage, f.reconciler, logger)
	f.callback = NewCallbackService(f.gateways, f.reconciler, f.callbacks, logger)
	f.query = NewQueryService(f.repo)
	return f
}

type orderOpt func(*domain.Order)

func requiringPrescription(approved bool) orderOpt {
	return func(o *domain.Order) {
		o.RequiresPrescription = true
		o.PrescriptionApproved = approved
	}
}

func withStatus(s domain.OrderStatus) orderOpt {
	return func(o *domain.Order) { o.Status = s }
}

func (f *fixture) seedOrder(opts ...orderOpt) domain.Order {
	o := domain.Order{
		ID:              uuid.New(),
		UserID:          "user-1",
		TotalAmount:     decimal.RequireFromString("1500.00"),
		Currency:        "KES",
		DeliveryAddress: "Moi Avenue, Nairobi",
		ContactEmail:    "jane@example.com",
		ContactPhone:    "254712345678",
		PaymentMethod:   domain.MethodMpesa,
		Status:          domain.OrderPending,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	f.repo.SeedOrder(o)
	return o
}

func (f *fixture) seedPayment(order domain.Order, method domain.PaymentMethod, status domain.PaymentStatus, ref string) domain.Payment {
	orderID := order.ID
	p := domain.Payment{
		ID:                uuid.New(),
		OrderID:           &orderID,
		UserID:            order.UserID,
		Amount:            order.TotalAmount,
		Currency:          order.Currency,
		Method:            method,
		Status:            status,
		ExternalReference: &ref,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	f.repo.SeedPayment(p)
	return p
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.repo.FindOrderByID(t.Context(), id)
	if err != nil {
		t.Fatalf("order %s: %v", id, err)
	}
	return o
}

func (f *fixture) trackingCount(t *testing.T, id uuid.UUID) int {
	t.Helper()
	entries, err := f.repo.FindTrackingByOrderID(t.Context(), id)
	if err != nil {
		t.Fatalf("tracking %s: %v", id, err)
	}
	return len(entries)
}

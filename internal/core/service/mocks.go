package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
)

// MockRepository is an in-memory ports.Repository. Conditional updates are atomic
// under its lock, matching the guarantees of the SQL implementation.
type MockRepository struct {
	mu            sync.Mutex
	orders        map[uuid.UUID]domain.Order
	payments      map[uuid.UUID]domain.Payment
	prescriptions map[uuid.UUID]domain.Prescription
	tracking      []domain.TrackingEntry

	CreatePaymentFn            func(ctx context.Context, payment *domain.Payment) error
	AttachExternalReferenceFn  func(ctx context.Context, id uuid.UUID, ref string, metadata json.RawMessage) error
	FindStalePendingPaymentsFn func(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
	AppendTrackingFn           func(ctx context.Context, entry *domain.TrackingEntry) error
	WithTxFn                   func(ctx context.Context, fn func(repo ports.Repository) error) error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		orders:        make(map[uuid.UUID]domain.Order),
		payments:      make(map[uuid.UUID]domain.Payment),
		prescriptions: make(map[uuid.UUID]domain.Prescription),
	}
}

func (m *MockRepository) CreateOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = *order
	return nil
}

func (m *MockRepository) FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.NewOrderNotFoundError(id.String())
	}
	return &o, nil
}

func (m *MockRepository) FindOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return m.FindOrderByID(ctx, id)
}

func (m *MockRepository) FindOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*domain.Order{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return domain.NewInvalidTransitionError(from, to)
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	m.orders[id] = o
	return nil
}

func (m *MockRepository) SetPrescriptionApproved(ctx context.Context, id uuid.UUID, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return domain.NewOrderNotFoundError(id.String())
	}
	o.PrescriptionApproved = approved
	m.orders[id] = o
	return nil
}

func (m *MockRepository) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	if m.CreatePaymentFn != nil {
		return m.CreatePaymentFn(ctx, payment)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.Status == domain.PaymentPending && p.Method == payment.Method &&
			p.OrderID != nil && payment.OrderID != nil && *p.OrderID == *payment.OrderID {
			return domain.NewDuplicatePendingPaymentError(payment.OrderID.String(), payment.Method)
		}
	}
	m.payments[payment.ID] = *payment
	return nil
}

func (m *MockRepository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, domain.NewPaymentNotFoundError(id.String())
	}
	return &p, nil
}

func (m *MockRepository) FindPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.byReference(ref); ok {
		return &p, nil
	}
	return nil, domain.NewPaymentNotFoundError(ref)
}

func (m *MockRepository) byReference(ref string) (domain.Payment, bool) {
	for _, p := range m.payments {
		if p.Reference() == ref {
			return p, true
		}
	}
	return domain.Payment{}, false
}

func (m *MockRepository) FindPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockRepository) AttachExternalReference(ctx context.Context, id uuid.UUID, ref string, metadata json.RawMessage) error {
	if m.AttachExternalReferenceFn != nil {
		return m.AttachExternalReferenceFn(ctx, id, ref, metadata)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return domain.NewPaymentNotFoundError(id.String())
	}
	p.ExternalReference = &ref
	p.Metadata = metadata
	m.payments[id] = p
	return nil
}

func (m *MockRepository) CompletePayment(ctx context.Context, ref string, metadata json.RawMessage, at time.Time) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byReference(ref)
	if !ok || p.Status != domain.PaymentPending {
		return nil, false, nil
	}
	p.Status = domain.PaymentCompleted
	p.Metadata = metadata
	p.CompletedAt = &at
	p.UpdatedAt = at
	m.payments[p.ID] = p
	return &p, true, nil
}

func (m *MockRepository) FailPayment(ctx context.Context, ref, reason string, metadata json.RawMessage, at time.Time) (*domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byReference(ref)
	if !ok || p.Status != domain.PaymentPending {
		return nil, false, nil
	}
	p.Status = domain.PaymentFailed
	p.FailureReason = &reason
	p.Metadata = metadata
	p.UpdatedAt = at
	m.payments[p.ID] = p
	return &p, true, nil
}

func (m *MockRepository) AbandonPayment(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != domain.PaymentPending {
		return nil
	}
	p.Status = domain.PaymentFailed
	p.FailureReason = &reason
	m.payments[id] = p
	return nil
}

func (m *MockRepository) CountPendingPayments(ctx context.Context, orderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID && p.Status == domain.PaymentPending {
			n++
		}
	}
	return n, nil
}

func (m *MockRepository) HasCompletedPayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID && p.IsCompleted() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockRepository) FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	if m.FindStalePendingPaymentsFn != nil {
		return m.FindStalePendingPaymentsFn(ctx, olderThan, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*domain.Payment
	for _, p := range m.payments {
		if p.Status == domain.PaymentPending && p.ExternalReference != nil && p.CreatedAt.Before(cutoff) {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockRepository) AppendTracking(ctx context.Context, entry *domain.TrackingEntry) error {
	if m.AppendTrackingFn != nil {
		return m.AppendTrackingFn(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.tracking) + 1)
	m.tracking = append(m.tracking, *entry)
	return nil
}

func (m *MockRepository) FindTrackingByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.TrackingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.TrackingEntry
	for _, e := range m.tracking {
		if e.OrderID == orderID {
			e := e
			out = append(out, &e)
		}
	}
	return out, nil
}

func (m *MockRepository) CreatePrescription(ctx context.Context, p *domain.Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prescriptions[p.ID] = *p
	return nil
}

func (m *MockRepository) FindPrescriptionByID(ctx context.Context, id uuid.UUID) (*domain.Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, domain.NewPrescriptionNotFoundError(id.String())
	}
	return &p, nil
}

func (m *MockRepository) FindPrescriptionByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Prescription, error) {
	return m.FindPrescriptionByID(ctx, id)
}

func (m *MockRepository) FindPrescriptionsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Prescription
	for _, p := range m.prescriptions {
		if p.OrderID != nil && *p.OrderID == orderID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m *MockRepository) UpdatePrescriptionReview(ctx context.Context, p *domain.Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prescriptions[p.ID]; !ok {
		return domain.NewPrescriptionNotFoundError(p.ID.String())
	}
	m.prescriptions[p.ID] = *p
	return nil
}

func (m *MockRepository) LinkPrescription(ctx context.Context, id, orderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prescriptions[id]
	if !ok {
		return domain.NewPrescriptionNotFoundError(id.String())
	}
	p.OrderID = &orderID
	m.prescriptions[id] = p
	return nil
}

func (m *MockRepository) WithTx(ctx context.Context, fn func(repo ports.Repository) error) error {
	if m.WithTxFn != nil {
		return m.WithTxFn(ctx, fn)
	}
	return fn(m)
}

// Seed helpers for tests.

func (m *MockRepository) SeedOrder(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *MockRepository) SeedPayment(p domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
}

func (m *MockRepository) SeedPrescription(p domain.Prescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prescriptions[p.ID] = p
}

// MockGateway is a scripted ports.Gateway.
type MockGateway struct {
	mu     sync.Mutex
	method domain.PaymentMethod
	calls  map[string]int

	InitiateFn      func(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error)
	ConfirmFn       func(ctx context.Context, ref string) (*domain.Outcome, error)
	ParseCallbackFn func(body []byte, header http.Header, query url.Values) (*domain.CallbackNotice, error)
}

func NewMockGateway(method domain.PaymentMethod) *MockGateway {
	return &MockGateway{method: method, calls: make(map[string]int)}
}

func (g *MockGateway) Method() domain.PaymentMethod { return g.method }

func (g *MockGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	g.count("Initiate")
	if g.InitiateFn != nil {
		return g.InitiateFn(ctx, req)
	}
	return &domain.InitiateResult{ExternalReference: "ref-" + req.PaymentID.String()}, nil
}

func (g *MockGateway) Confirm(ctx context.Context, ref string) (*domain.Outcome, error) {
	g.count("Confirm")
	if g.ConfirmFn != nil {
		return g.ConfirmFn(ctx, ref)
	}
	return &domain.Outcome{Status: domain.OutcomePending}, nil
}

func (g *MockGateway) ParseCallback(body []byte, header http.Header, query url.Values) (*domain.CallbackNotice, error) {
	g.count("ParseCallback")
	if g.ParseCallbackFn != nil {
		return g.ParseCallbackFn(body, header, query)
	}
	var notice struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body, &notice); err != nil || notice.Reference == "" {
		return nil, domain.NewInvalidRequestError("malformed callback")
	}
	return &domain.CallbackNotice{ExternalReference: notice.Reference}, nil
}

func (g *MockGateway) count(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[name]++
}

func (g *MockGateway) Calls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[name]
}

// MockPublisher records published notifications.
type MockPublisher struct {
	mu        sync.Mutex
	Published []domain.Notification
	PublishFn func(ctx context.Context, n domain.Notification) error
}

func (p *MockPublisher) Publish(ctx context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublishFn != nil {
		if err := p.PublishFn(ctx, n); err != nil {
			return err
		}
	}
	p.Published = append(p.Published, n)
	return nil
}

func (p *MockPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}

// MockStorage keeps uploaded objects in memory.
type MockStorage struct {
	mu      sync.Mutex
	Objects map[string][]byte
	PutFn   func(ctx context.Context, key string) error
}

func NewMockStorage() *MockStorage {
	return &MockStorage{Objects: make(map[string][]byte)}
}

func (s *MockStorage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	if s.PutFn != nil {
		if err := s.PutFn(ctx, key); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Objects[key] = buf.Bytes()
	return nil
}

func (s *MockStorage) PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://storage.test/" + key + "?expires=" + expiry.String(), nil
}

// MockCallbackLog records callbacks in memory.
type MockCallbackLog struct {
	mu      sync.Mutex
	Records []ports.CallbackRecord
}

func (l *MockCallbackLog) Record(ctx context.Context, rec ports.CallbackRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Records = append(l.Records, rec)
	return nil
}

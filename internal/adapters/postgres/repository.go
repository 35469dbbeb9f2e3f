package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	orderColumns = `id, user_id, total_amount, currency, delivery_address, contact_email, contact_phone,
				payment_method, status, requires_prescription, prescription_approved, created_at, updated_at`

	paymentColumns = `id, order_id, user_id, amount, currency, method, status, external_reference,
				failure_reason, metadata, created_at, updated_at, completed_at`

	prescriptionColumns = `id, user_id, image_ref, status, admin_notes, order_id, created_at, reviewed_at`

	onePendingPerOrderMethod = "payments_one_pending_per_order_method"
)

type Repository struct {
	pool *pgxpool.Pool
	q    Executor
}

func NewRepository(db *DB) *Repository {
	return &Repository{
		pool: db.Pool,
		q:    db.Pool,
	}
}

var _ ports.Repository = (*Repository)(nil)

// ============================================================================
// ORDERS
// ============================================================================

func (r *Repository) CreateOrder(ctx context.Context, o *domain.Order) error {
	query := `INSERT INTO orders (` + orderColumns + `)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		o.ID,
		o.UserID,
		o.TotalAmount,
		o.Currency,
		o.DeliveryAddress,
		o.ContactEmail,
		o.ContactPhone,
		o.PaymentMethod,
		o.Status,
		o.RequiresPrescription,
		o.PrescriptionApproved,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *Repository) FindOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.q.QueryRow(ctx, query, id), id)
}

// FindOrderByIDForUpdate locks the order row for the rest of the transaction.
func (r *Repository) FindOrderByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return scanOrder(r.q.QueryRow(ctx, query, id), id)
}

func (r *Repository) FindOrdersByUserID(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + `
			FROM orders
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3`

	rows, err := r.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders by user_id: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Order, error) {
		return scanOrder(row, uuid.Nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan orders: %w", err)
	}
	return orders, nil
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	query := `UPDATE orders SET status = $3, updated_at = NOW()
			  WHERE id = $1 AND status = $2`

	tag, err := r.q.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// another writer moved the order first
		return domain.NewInvalidTransitionError(from, to)
	}
	return nil
}

func (r *Repository) SetPrescriptionApproved(ctx context.Context, id uuid.UUID, approved bool) error {
	tag, err := r.q.Exec(ctx, `UPDATE orders SET prescription_approved = $2, updated_at = NOW() WHERE id = $1`, id, approved)
	if err != nil {
		return fmt.Errorf("failed to update prescription flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewOrderNotFoundError(id.String())
	}
	return nil
}

// ============================================================================
// PAYMENTS
// ============================================================================

func (r *Repository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.UserID,
		p.Amount,
		p.Currency,
		p.Method,
		p.Status,
		p.ExternalReference,
		p.FailureReason,
		p.Metadata,
		p.CreatedAt,
		p.UpdatedAt,
		p.CompletedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) && violatedConstraint(err) == onePendingPerOrderMethod && p.OrderID != nil {
			return domain.NewDuplicatePendingPaymentError(p.OrderID.String(), p.Method)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (r *Repository) FindPaymentByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.q.QueryRow(ctx, query, id), id.String())
}

func (r *Repository) FindPaymentByExternalReference(ctx context.Context, ref string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE external_reference = $1`
	return scanPayment(r.q.QueryRow(ctx, query, ref), ref)
}

func (r *Repository) FindPaymentsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + `
			FROM payments
			WHERE order_id = $1
			ORDER BY created_at ASC`

	return r.collectPayments(ctx, query, orderID)
}

func (r *Repository) AttachExternalReference(ctx context.Context, id uuid.UUID, ref string, metadata json.RawMessage) error {
	query := `UPDATE payments SET external_reference = $2, metadata = $3, updated_at = NOW()
			  WHERE id = $1`

	tag, err := r.q.Exec(ctx, query, id, ref, metadata)
	if err != nil {
		return fmt.Errorf("failed to attach external reference: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewPaymentNotFoundError(id.String())
	}
	return nil
}

// CompletePayment is the idempotency point for success events: only the delivery
// that flips a pending row gets ok=true.
func (r *Repository) CompletePayment(ctx context.Context, ref string, metadata json.RawMessage, at time.Time) (*domain.Payment, bool, error) {
	query := `UPDATE payments
			  SET status = 'completed', metadata = COALESCE($2, metadata), completed_at = $3, updated_at = $3
			  WHERE external_reference = $1 AND status = 'pending'
			  RETURNING ` + paymentColumns

	return r.conditionalPaymentUpdate(ctx, query, ref, nullableJSON(metadata), at)
}

func (r *Repository) FailPayment(ctx context.Context, ref, reason string, metadata json.RawMessage, at time.Time) (*domain.Payment, bool, error) {
	query := `UPDATE payments
			  SET status = 'failed', failure_reason = $2, metadata = COALESCE($3, metadata), updated_at = $4
			  WHERE external_reference = $1 AND status = 'pending'
			  RETURNING ` + paymentColumns

	return r.conditionalPaymentUpdate(ctx, query, ref, reason, nullableJSON(metadata), at)
}

func (r *Repository) conditionalPaymentUpdate(ctx context.Context, query, ref string, args ...any) (*domain.Payment, bool, error) {
	p, err := scanPayment(r.q.QueryRow(ctx, query, append([]any{ref}, args...)...), ref)
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodePaymentNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func (r *Repository) AbandonPayment(ctx context.Context, id uuid.UUID, reason string) error {
	query := `UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = NOW()
			  WHERE id = $1 AND status = 'pending'`

	if _, err := r.q.Exec(ctx, query, id, reason); err != nil {
		return fmt.Errorf("failed to abandon payment: %w", err)
	}
	return nil
}

func (r *Repository) CountPendingPayments(ctx context.Context, orderID uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE order_id = $1 AND status = 'pending'`, orderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending payments: %w", err)
	}
	return n, nil
}

func (r *Repository) HasCompletedPayment(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var paid bool
	query := `SELECT EXISTS (
				SELECT 1 FROM payments WHERE order_id = $1 AND status IN ('completed', 'success')
			  )`
	if err := r.q.QueryRow(ctx, query, orderID).Scan(&paid); err != nil {
		return false, fmt.Errorf("check completed payments: %w", err)
	}
	return paid, nil
}

// FindStalePendingPayments returns attempts that reached a gateway but never heard back.
func (r *Repository) FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `SELECT ` + paymentColumns + `
			FROM payments
			WHERE status = 'pending'
				AND external_reference IS NOT NULL
				AND created_at < $1
			ORDER BY created_at ASC
			LIMIT $2`

	return r.collectPayments(ctx, query, cutoff, limit)
}

func (r *Repository) collectPayments(ctx context.Context, query string, args ...any) ([]*domain.Payment, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	payments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Payment, error) {
		return scanPayment(row, "")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}
	return payments, nil
}

// ============================================================================
// TRACKING
// ============================================================================

func (r *Repository) AppendTracking(ctx context.Context, e *domain.TrackingEntry) error {
	query := `INSERT INTO order_tracking (order_id, status, location, note, created_at)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := r.q.QueryRow(ctx, query, e.OrderID, e.Status, e.Location, e.Note, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to append tracking: %w", err)
	}
	return nil
}

func (r *Repository) FindTrackingByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.TrackingEntry, error) {
	query := `SELECT id, order_id, status, location, note, created_at
			  FROM order_tracking
			  WHERE order_id = $1
			  ORDER BY id ASC`

	rows, err := r.q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query tracking: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.TrackingEntry, error) {
		var e domain.TrackingEntry
		err := row.Scan(&e.ID, &e.OrderID, &e.Status, &e.Location, &e.Note, &e.CreatedAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tracking: %w", err)
	}
	return entries, nil
}

// ============================================================================
// PRESCRIPTIONS
// ============================================================================

func (r *Repository) CreatePrescription(ctx context.Context, p *domain.Prescription) error {
	query := `INSERT INTO prescriptions (` + prescriptionColumns + `)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.q.Exec(ctx, query,
		p.ID,
		p.UserID,
		p.ImageRef,
		p.Status,
		p.AdminNotes,
		p.OrderID,
		p.CreatedAt,
		p.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

func (r *Repository) FindPrescriptionByID(ctx context.Context, id uuid.UUID) (*domain.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	return scanPrescription(r.q.QueryRow(ctx, query, id), id)
}

func (r *Repository) FindPrescriptionByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1 FOR UPDATE`
	return scanPrescription(r.q.QueryRow(ctx, query, id), id)
}

func (r *Repository) FindPrescriptionsByOrderID(ctx context.Context, orderID uuid.UUID) ([]*domain.Prescription, error) {
	query := `SELECT ` + prescriptionColumns + `
			FROM prescriptions
			WHERE order_id = $1
			ORDER BY created_at ASC`

	rows, err := r.q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Prescription, error) {
		return scanPrescription(row, uuid.Nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan prescriptions: %w", err)
	}
	return out, nil
}

func (r *Repository) UpdatePrescriptionReview(ctx context.Context, p *domain.Prescription) error {
	query := `UPDATE prescriptions SET status = $2, admin_notes = $3, reviewed_at = $4
			  WHERE id = $1`

	tag, err := r.q.Exec(ctx, query, p.ID, p.Status, p.AdminNotes, p.ReviewedAt)
	if err != nil {
		return fmt.Errorf("failed to update prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewPrescriptionNotFoundError(p.ID.String())
	}
	return nil
}

// LinkPrescription attaches a loose prescription to an order. A prescription belongs to at most one order.
func (r *Repository) LinkPrescription(ctx context.Context, id, orderID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `UPDATE prescriptions SET order_id = $2 WHERE id = $1 AND order_id IS NULL`, id, orderID)
	if err != nil {
		return fmt.Errorf("failed to link prescription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewInvalidRequestError("prescription is already attached to another order")
	}
	return nil
}

// WithTx executes a function within a database transaction
func (r *Repository) WithTx(ctx context.Context, fn func(ports.Repository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	repoWithTx := &Repository{
		pool: r.pool,
		q:    tx,
	}

	if err := fn(repoWithTx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func scanOrder(row pgx.Row, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.TotalAmount,
		&o.Currency,
		&o.DeliveryAddress,
		&o.ContactEmail,
		&o.ContactPhone,
		&o.PaymentMethod,
		&o.Status,
		&o.RequiresPrescription,
		&o.PrescriptionApproved,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewOrderNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	return &o, nil
}

func scanPayment(row pgx.Row, key string) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.Currency,
		&p.Method,
		&p.Status,
		&p.ExternalReference,
		&p.FailureReason,
		&p.Metadata,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewPaymentNotFoundError(key)
		}
		return nil, fmt.Errorf("failed to scan payment: %w", err)
	}
	return &p, nil
}

func scanPrescription(row pgx.Row, id uuid.UUID) (*domain.Prescription, error) {
	var p domain.Prescription
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.ImageRef,
		&p.Status,
		&p.AdminNotes,
		&p.OrderID,
		&p.CreatedAt,
		&p.ReviewedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewPrescriptionNotFoundError(id.String())
		}
		return nil, fmt.Errorf("failed to scan prescription: %w", err)
	}
	return &p, nil
}

// nullableJSON keeps a missing gateway payload from overwriting stored metadata.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

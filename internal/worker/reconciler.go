package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
)

type StalePaymentFinder interface {
	FindStalePendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error)
}

// PaymentConfirmer asks the gateway for a payment's outcome and feeds it to the state machine.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, payment *domain.Payment) (*domain.ApplyResult, error)
}

// Reconciler picks up payments whose webhook never arrived. It only applies outcomes the
// gateway reports; a payment the gateway still calls pending stays pending.
type Reconciler struct {
	repo       StalePaymentFinder
	confirmer  PaymentConfirmer
	interval   time.Duration
	batchSize  int
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewReconciler(
	repo StalePaymentFinder,
	confirmer PaymentConfirmer,
	interval time.Duration,
	batchSize int,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		repo:       repo,
		confirmer:  confirmer,
		interval:   interval,
		batchSize:  batchSize,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("starting payment reconciler",
		"interval", r.interval,
		"batch_size", r.batchSize,
		"stale_after", r.staleAfter,
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping payment reconciler")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single reconciliation cycle and reports how many payments reached a terminal state.
func (r *Reconciler) RunOnce(ctx context.Context) int {
	stale, err := r.repo.FindStalePendingPayments(ctx, r.staleAfter, r.batchSize)
	if err != nil {
		r.logger.Error("failed to fetch stale payments", "error", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	r.logger.Info("reconciling stale payments", "count", len(stale))

	var settled int
	for _, p := range stale {
		if ctx.Err() != nil {
			return settled
		}

		result, err := r.confirmer.ConfirmPayment(ctx, p)
		if err != nil {
			level := slog.LevelError
			if domain.IsErrorCode(err, domain.ErrCodeGatewayUnavailable) {
				// next cycle tries again
				level = slog.LevelWarn
			}
			r.logger.Log(ctx, level, "reconciliation failed for payment",
				"payment_id", p.ID,
				"method", p.Method,
				"external_reference", p.Reference(),
				"error", err,
			)
			continue
		}

		if result.Payment == nil || !result.Payment.IsTerminal() {
			continue
		}
		settled++
		r.logger.Info("reconciled payment",
			"payment_id", p.ID,
			"status", result.Payment.Status,
			"duplicate", result.Duplicate,
			"order_status", result.To,
		)
	}
	return settled
}

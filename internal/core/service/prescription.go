package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
)

const (
	MaxPrescriptionSize = 10 << 20
	presignExpiry       = 15 * time.Minute
)

var prescriptionContentTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
}

type UploadCommand struct {
	OrderID     *uuid.UUID
	ContentType string
	Size        int64
	Body        io.Reader
}

type ReviewCommand struct {
	PrescriptionID uuid.UUID
	Status         domain.PrescriptionStatus
	AdminNotes     string
}

// PrescriptionService owns the prescription gate: uploads, reviews, and the
// approval event that unblocks paid orders.
type PrescriptionService struct {
	repo       ports.Repository
	storage    ports.PrescriptionStorage
	reconciler *ReconcileService
	logger     *slog.Logger
}

func NewPrescriptionService(
	repo ports.Repository,
	storage ports.PrescriptionStorage,
	reconciler *ReconcileService,
	logger *slog.Logger,
) *PrescriptionService {
	return &PrescriptionService{
		repo:       repo,
		storage:    storage,
		reconciler: reconciler,
		logger:     logger,
	}
}

func (s *PrescriptionService) Upload(ctx context.Context, actor domain.Actor, cmd UploadCommand) (*domain.Prescription, error) {
	contentType := strings.ToLower(strings.TrimSpace(strings.Split(cmd.ContentType, ";")[0]))
	ext, ok := prescriptionContentTypes[contentType]
	if !ok {
		return nil, domain.NewInvalidRequestError("prescription must be a JPEG, PNG or PDF file")
	}
	if cmd.Size <= 0 || cmd.Size > MaxPrescriptionSize {
		return nil, domain.NewInvalidRequestError(fmt.Sprintf("prescription must be between 1 byte and %d MB", MaxPrescriptionSize>>20))
	}

	if cmd.OrderID != nil {
		order, err := s.repo.FindOrderByID(ctx, *cmd.OrderID)
		if err != nil {
			return nil, asPersistenceError("load order", err)
		}
		if order.UserID != actor.UserID {
			return nil, domain.NewOrderNotFoundError(cmd.OrderID.String())
		}
		if order.Status.IsTerminal() {
			return nil, domain.NewGuardViolationError(fmt.Sprintf("order is %s", order.Status))
		}
	}

	p := &domain.Prescription{
		ID:        uuid.New(),
		UserID:    actor.UserID,
		Status:    domain.PrescriptionPending,
		OrderID:   cmd.OrderID,
		CreatedAt: time.Now().UTC(),
	}
	p.ImageRef = path.Join(actor.UserID, p.ID.String()+ext)

	if err := s.storage.Put(ctx, p.ImageRef, cmd.Body, cmd.Size, contentType); err != nil {
		return nil, fmt.Errorf("store prescription image: %w", err)
	}

	if err := s.repo.CreatePrescription(ctx, p); err != nil {
		return nil, asPersistenceError("create prescription", err)
	}

	s.logger.Info("prescription uploaded", "prescription_id", p.ID, "user_id", p.UserID, "order_id", p.OrderID)
	return p, nil
}

// Review records a pharmacist decision. Approving a prescription linked to an order
// applies PrescriptionApprovedEvent in the same transaction.
func (s *PrescriptionService) Review(ctx context.Context, actor domain.Actor, cmd ReviewCommand) (*domain.Prescription, *domain.ApplyResult, error) {
	if !actor.Admin {
		return nil, nil, domain.NewForbiddenError("only staff can review prescriptions")
	}

	var (
		reviewed *domain.Prescription
		result   *domain.ApplyResult
	)

	err := s.repo.WithTx(ctx, func(tx ports.Repository) error {
		p, err := tx.FindPrescriptionByIDForUpdate(ctx, cmd.PrescriptionID)
		if err != nil {
			return err
		}
		if err := p.CanReviewTo(cmd.Status); err != nil {
			return err
		}

		previous := p.Status
		now := time.Now().UTC()
		p.Status = cmd.Status
		p.AdminNotes = cmd.AdminNotes
		p.ReviewedAt = &now
		if cmd.Status == domain.PrescriptionPending {
			p.ReviewedAt = nil
		}

		if err := tx.UpdatePrescriptionReview(ctx, p); err != nil {
			return err
		}
		reviewed = p

		if p.OrderID == nil {
			return nil
		}

		switch {
		case cmd.Status == domain.PrescriptionApproved:
			result, err = s.reconciler.apply(ctx, tx, domain.PrescriptionApprovedEvent{OrderID: *p.OrderID})
			return err
		case previous == domain.PrescriptionApproved:
			return s.revokeApproval(ctx, tx, *p.OrderID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, asPersistenceError("review prescription", err)
	}

	s.logger.Info("prescription reviewed",
		"prescription_id", reviewed.ID,
		"status", reviewed.Status,
		"reviewer", actor.UserID,
	)

	if result != nil {
		s.reconciler.afterCommit(ctx, domain.PrescriptionApprovedEvent{OrderID: *reviewed.OrderID}, result)
	}
	return reviewed, result, nil
}

// revokeApproval clears the order's approval flag once no linked prescription remains approved.
func (s *PrescriptionService) revokeApproval(ctx context.Context, tx ports.Repository, orderID uuid.UUID) error {
	linked, err := tx.FindPrescriptionsByOrderID(ctx, orderID)
	if err != nil {
		return err
	}
	for _, other := range linked {
		if other.Status == domain.PrescriptionApproved {
			return nil
		}
	}

	order, err := tx.FindOrderByIDForUpdate(ctx, orderID)
	if err != nil {
		return err
	}
	if !order.PrescriptionApproved {
		return nil
	}
	if order.RequiresPrescription && order.Status.Rank() > domain.OrderConfirmed.Rank() {
		return domain.NewGuardViolationError(fmt.Sprintf("order is already %s, its prescription can no longer be withdrawn", order.Status))
	}
	return tx.SetPrescriptionApproved(ctx, orderID, false)
}

// ImageURL returns a short-lived link to the prescription image.
func (s *PrescriptionService) ImageURL(ctx context.Context, actor domain.Actor, id uuid.UUID) (string, error) {
	p, err := s.repo.FindPrescriptionByID(ctx, id)
	if err != nil {
		return "", asPersistenceError("load prescription", err)
	}
	if !actor.CanAccess(p.UserID) {
		return "", domain.NewPrescriptionNotFoundError(id.String())
	}
	return s.storage.PresignedURL(ctx, p.ImageRef, presignExpiry)
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	PrescriptionPending  PrescriptionStatus = "pending"
	PrescriptionApproved PrescriptionStatus = "approved"
	PrescriptionRejected PrescriptionStatus = "rejected"
)

func ParsePrescriptionStatus(s string) (PrescriptionStatus, bool) {
	switch st := PrescriptionStatus(s); st {
	case PrescriptionPending, PrescriptionApproved, PrescriptionRejected:
		return st, true
	default:
		return "", false
	}
}

type Prescription struct {
	ID         uuid.UUID
	UserID     string
	ImageRef   string
	Status     PrescriptionStatus
	AdminNotes string
	OrderID    *uuid.UUID
	CreatedAt  time.Time
	ReviewedAt *time.Time
}

// CanReviewTo allows pending -> approved|rejected, and an explicit reset back to pending.
func (p *Prescription) CanReviewTo(target PrescriptionStatus) error {
	switch {
	case target == p.Status:
		return NewInvalidRequestError("prescription is already " + string(target))
	case p.Status == PrescriptionPending:
		return nil
	case target == PrescriptionPending:
		return nil
	default:
		return NewInvalidRequestError("prescription must be reset to pending before it is reviewed again")
	}
}

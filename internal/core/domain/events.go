package domain

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is an input to the order/payment state machine.
type Event interface {
	eventName() string
}

// PaymentSucceededEvent is raised once a gateway has confirmed funds server-side.
type PaymentSucceededEvent struct {
	ExternalReference string
	// Amount reported by the gateway. Zero means the gateway did not report one.
	Amount decimal.Decimal
	// Currency reported by the gateway. Empty means the gateway did not report one.
	Currency string
	Receipt  string
	Metadata json.RawMessage
}

type PaymentFailedEvent struct {
	ExternalReference string
	Reason            string
	Metadata          json.RawMessage
}

type PrescriptionApprovedEvent struct {
	OrderID uuid.UUID
}

type AdminStatusUpdate struct {
	OrderID  uuid.UUID
	Status   OrderStatus
	Location string
	Note     string
	ActorID  string
}

func (PaymentSucceededEvent) eventName() string     { return "payment_succeeded" }
func (PaymentFailedEvent) eventName() string        { return "payment_failed" }
func (PrescriptionApprovedEvent) eventName() string { return "prescription_approved" }
func (AdminStatusUpdate) eventName() string         { return "admin_status_update" }

// EventName returns a stable name for logging.
func EventName(e Event) string {
	return e.eventName()
}

// ApplyResult describes what the state machine did with an event.
type ApplyResult struct {
	Order   *Order
	Payment *Payment
	// Duplicate is set when the event had already been applied; nothing changed.
	Duplicate bool
	// Transitioned is set when the order status changed.
	Transitioned bool
	From         OrderStatus
	To           OrderStatus
}

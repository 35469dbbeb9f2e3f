package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending        OrderStatus = "pending"
	OrderConfirmed      OrderStatus = "confirmed"
	OrderProcessing     OrderStatus = "processing"
	OrderShipped        OrderStatus = "shipped"
	OrderOutForDelivery OrderStatus = "out_for_delivery"
	OrderDelivered      OrderStatus = "delivered"
	OrderCancelled      OrderStatus = "cancelled"
	OrderPaymentFailed  OrderStatus = "payment_failed"
)

// pipeline ranks the forward fulfilment states. Cancelled and payment_failed sit outside it.
var pipeline = map[OrderStatus]int{
	OrderPending:        0,
	OrderConfirmed:      1,
	OrderProcessing:     2,
	OrderShipped:        3,
	OrderOutForDelivery: 4,
	OrderDelivered:      5,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	switch status {
	case OrderCancelled, OrderPaymentFailed:
		return status, true
	}
	_, ok := pipeline[status]
	return status, ok
}

// Rank returns the position along the fulfilment pipeline, or -1 for states outside it.
func (s OrderStatus) Rank() int {
	if r, ok := pipeline[s]; ok {
		return r
	}
	return -1
}

// IsTerminal reports whether no further transition may leave this state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderDelivered, OrderCancelled, OrderPaymentFailed:
		return true
	default:
		return false
	}
}

type Order struct {
	ID                   uuid.UUID
	UserID               string
	TotalAmount          decimal.Decimal
	Currency             string
	DeliveryAddress      string
	ContactEmail         string
	ContactPhone         string
	PaymentMethod        PaymentMethod
	Status               OrderStatus
	RequiresPrescription bool
	PrescriptionApproved bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CanFulfill is the prescription gate: an order may move beyond confirmed only when it passes.
func (o *Order) CanFulfill() bool {
	return !o.RequiresPrescription || o.PrescriptionApproved
}

// CanTransitionTo validates an administrative move of the order to target.
// paid reports whether the order has a completed payment.
//
// Rules:
//   - terminal orders never move
//   - cancelled is reachable from every non-terminal state
//   - otherwise the target must rank strictly above the current state
//   - confirmed and later require a completed payment
//   - anything beyond confirmed also requires the prescription gate
func (o *Order) CanTransitionTo(target OrderStatus, paid bool) error {
	if o.Status.IsTerminal() {
		return NewInvalidTransitionError(o.Status, target)
	}

	if target == OrderCancelled {
		return nil
	}

	if target == OrderPaymentFailed || target.Rank() <= o.Status.Rank() {
		return NewInvalidTransitionError(o.Status, target)
	}

	if !paid {
		return NewGuardViolationError("order cannot progress before payment is completed")
	}

	if target.Rank() > OrderConfirmed.Rank() && !o.CanFulfill() {
		return NewGuardViolationError("order requires an approved prescription before fulfilment")
	}

	return nil
}

package domain

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type NotificationKind string

const (
	NotifyOrderConfirmed NotificationKind = "order_confirmed"
	NotifyOrderDelivered NotificationKind = "order_delivered"
	NotifyOrderCancelled NotificationKind = "order_cancelled"
	NotifyPaymentFailed  NotificationKind = "payment_failed"
)

// NotificationKindFor maps an order status to its customer message, if any.
func NotificationKindFor(status OrderStatus) (NotificationKind, bool) {
	switch status {
	case OrderConfirmed:
		return NotifyOrderConfirmed, true
	case OrderDelivered:
		return NotifyOrderDelivered, true
	case OrderCancelled:
		return NotifyOrderCancelled, true
	case OrderPaymentFailed:
		return NotifyPaymentFailed, true
	default:
		return "", false
	}
}

type Notification struct {
	Kind     NotificationKind `json:"kind"`
	OrderID  uuid.UUID        `json:"order_id"`
	UserID   string           `json:"user_id"`
	Email    string           `json:"email,omitempty"`
	Phone    string           `json:"phone,omitempty"`
	Status   OrderStatus      `json:"status"`
	Amount   decimal.Decimal  `json:"amount"`
	Currency string           `json:"currency"`
}

func NewNotification(kind NotificationKind, o *Order) Notification {
	return Notification{
		Kind:     kind,
		OrderID:  o.ID,
		UserID:   o.UserID,
		Email:    o.ContactEmail,
		Phone:    o.ContactPhone,
		Status:   o.Status,
		Amount:   o.TotalAmount,
		Currency: o.Currency,
	}
}

// Subject is a short human title used by email and SMS senders.
func (n Notification) Subject() string {
	short := n.OrderID.String()[:8]
	switch n.Kind {
	case NotifyOrderConfirmed:
		return fmt.Sprintf("Order %s confirmed", short)
	case NotifyOrderDelivered:
		return fmt.Sprintf("Order %s delivered", short)
	case NotifyOrderCancelled:
		return fmt.Sprintf("Order %s cancelled", short)
	case NotifyPaymentFailed:
		return fmt.Sprintf("Payment for order %s failed", short)
	default:
		return fmt.Sprintf("Order %s update", short)
	}
}

// Body is the plain text message shared by every channel.
func (n Notification) Body() string {
	amount := n.Amount.StringFixed(2) + " " + n.Currency
	switch n.Kind {
	case NotifyOrderConfirmed:
		return fmt.Sprintf("We have received your payment of %s. Your order is confirmed and will be prepared shortly.", amount)
	case NotifyOrderDelivered:
		return "Your order has been delivered. Thank you for shopping with us."
	case NotifyOrderCancelled:
		return "Your order has been cancelled. If you were charged, a refund will be processed."
	case NotifyPaymentFailed:
		return fmt.Sprintf("Your payment of %s was not completed. You can try again from your orders page.", amount)
	default:
		return fmt.Sprintf("Your order status is now %s.", n.Status)
	}
}

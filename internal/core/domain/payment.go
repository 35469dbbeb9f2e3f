package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the gateway an attempt is made through.
type PaymentMethod string

const (
	MethodMpesa       PaymentMethod = "mpesa"
	MethodCard        PaymentMethod = "card"
	MethodPayPal      PaymentMethod = "paypal"
	MethodPesapal     PaymentMethod = "pesapal"
	MethodFlutterwave PaymentMethod = "flutterwave"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch m := PaymentMethod(s); m {
	case MethodMpesa, MethodCard, MethodPayPal, MethodPesapal, MethodFlutterwave:
		return m, true
	default:
		return "", false
	}
}

// PaymentStatus represents the current state of a payment attempt
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	// PaymentSuccess is carried by older rows and is read as completed. It is never written.
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Payment is a single attempt to pay for an order through one gateway.
type Payment struct {
	ID                uuid.UUID
	OrderID           *uuid.UUID
	UserID            string
	Amount            decimal.Decimal
	Currency          string
	Method            PaymentMethod
	Status            PaymentStatus
	ExternalReference *string
	FailureReason     *string
	Metadata          json.RawMessage

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (p *Payment) IsCompleted() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentSuccess
}

func (p *Payment) IsTerminal() bool {
	return p.IsCompleted() || p.Status == PaymentFailed
}

// Reference returns the gateway reference, or "" before initiation has returned.
func (p *Payment) Reference() string {
	if p.ExternalReference == nil {
		return ""
	}
	return *p.ExternalReference
}

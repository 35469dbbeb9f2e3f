package handler

import (
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderResponse struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               string          `json:"user_id"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	Currency             string          `json:"currency"`
	DeliveryAddress      string          `json:"delivery_address"`
	PaymentMethod        string          `json:"payment_method"`
	Status               string          `json:"status"`
	RequiresPrescription bool            `json:"requires_prescription"`
	PrescriptionApproved bool            `json:"prescription_approved"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type PaymentResponse struct {
	ID                uuid.UUID       `json:"id"`
	OrderID           *uuid.UUID      `json:"order_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Method            string          `json:"method"`
	Status            string          `json:"status"`
	ExternalReference string          `json:"external_reference,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

type TrackingResponse struct {
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type PrescriptionResponse struct {
	ID         uuid.UUID  `json:"id"`
	Status     string     `json:"status"`
	AdminNotes string     `json:"admin_notes,omitempty"`
	OrderID    *uuid.UUID `json:"order_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

type OrderDetailsResponse struct {
	Order        OrderResponse      `json:"order"`
	Payments     []PaymentResponse  `json:"payments"`
	Tracking     []TrackingResponse `json:"tracking"`
	PaymentState string             `json:"payment_state"`
	Message      string             `json:"message"`
}

type CheckoutResponse struct {
	Order           OrderResponse   `json:"order"`
	Payment         PaymentResponse `json:"payment"`
	RedirectURL     string          `json:"redirect_url,omitempty"`
	CustomerMessage string          `json:"customer_message,omitempty"`
}

type PaymentStatusResponse struct {
	Payment      *PaymentResponse `json:"payment,omitempty"`
	Order        *OrderResponse   `json:"order,omitempty"`
	PaymentState string           `json:"payment_state"`
	Message      string           `json:"message,omitempty"`
	Attempts     int              `json:"attempts"`
}

// TransitionResponse reports what an event did to an order.
type TransitionResponse struct {
	Order        *OrderResponse   `json:"order,omitempty"`
	Payment      *PaymentResponse `json:"payment,omitempty"`
	Duplicate    bool             `json:"duplicate"`
	Transitioned bool             `json:"transitioned"`
	From         string           `json:"from,omitempty"`
	To           string           `json:"to,omitempty"`
}

type CallbackRecordResponse struct {
	Method            string            `json:"method"`
	ExternalReference string            `json:"external_reference"`
	EventType         string            `json:"event_type,omitempty"`
	RemoteAddr        string            `json:"remote_addr"`
	Headers           map[string]string `json:"headers,omitempty"`
	Body              string            `json:"body"`
	Result            string            `json:"result"`
	ReceivedAt        time.Time         `json:"received_at"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:                   o.ID,
		UserID:               o.UserID,
		TotalAmount:          o.TotalAmount,
		Currency:             o.Currency,
		DeliveryAddress:      o.DeliveryAddress,
		PaymentMethod:        string(o.PaymentMethod),
		Status:               string(o.Status),
		RequiresPrescription: o.RequiresPrescription,
		PrescriptionApproved: o.PrescriptionApproved,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func toPaymentResponse(p *domain.Payment) PaymentResponse {
	status := p.Status
	if p.IsCompleted() {
		status = domain.PaymentCompleted
	}
	resp := PaymentResponse{
		ID:                p.ID,
		OrderID:           p.OrderID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Method:            string(p.Method),
		Status:            string(status),
		ExternalReference: p.Reference(),
		CreatedAt:         p.CreatedAt,
		CompletedAt:       p.CompletedAt,
	}
	if p.FailureReason != nil {
		resp.FailureReason = *p.FailureReason
	}
	return resp
}

func toPrescriptionResponse(p *domain.Prescription) PrescriptionResponse {
	return PrescriptionResponse{
		ID:         p.ID,
		Status:     string(p.Status),
		AdminNotes: p.AdminNotes,
		OrderID:    p.OrderID,
		CreatedAt:  p.CreatedAt,
		ReviewedAt: p.ReviewedAt,
	}
}

func toTransitionResponse(result *domain.ApplyResult) TransitionResponse {
	var resp TransitionResponse
	if result == nil {
		return resp
	}
	if result.Order != nil {
		o := toOrderResponse(result.Order)
		resp.Order = &o
	}
	if result.Payment != nil {
		p := toPaymentResponse(result.Payment)
		resp.Payment = &p
	}
	resp.Duplicate = result.Duplicate
	resp.Transitioned = result.Transitioned
	if result.Transitioned {
		resp.From = string(result.From)
		resp.To = string(result.To)
	}
	return resp
}

func toCallbackRecordResponse(rec ports.CallbackRecord) CallbackRecordResponse {
	return CallbackRecordResponse{
		Method:            string(rec.Method),
		ExternalReference: rec.ExternalReference,
		EventType:         rec.EventType,
		RemoteAddr:        rec.RemoteAddr,
		Headers:           rec.Headers,
		Body:              rec.Body,
		Result:            rec.Result,
		ReceivedAt:        rec.ReceivedAt,
	}
}

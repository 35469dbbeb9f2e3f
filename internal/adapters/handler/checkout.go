package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency" validate:"required,len=3"`
	DeliveryAddress      string          `json:"delivery_address" validate:"required,max=500"`
	Email                string          `json:"email" validate:"omitempty,email"`
	Phone                string          `json:"phone" validate:"omitempty,max=20"`
	PaymentMethod        string          `json:"payment_method" validate:"required"`
	RequiresPrescription bool            `json:"requires_prescription"`
	PrescriptionID       *uuid.UUID      `json:"prescription_id"`
}

type RetryPaymentRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	Phone         string `json:"phone" validate:"omitempty,max=20"`
}

func toCheckoutResponse(res *service.CheckoutResult) CheckoutResponse {
	return CheckoutResponse{
		Order:           toOrderResponse(res.Order),
		Payment:         toPaymentResponse(res.Payment),
		RedirectURL:     res.RedirectURL,
		CustomerMessage: res.CustomerMessage,
	}
}

// HandleCheckout creates an order and starts the first payment attempt.
// The order stays pending; only a confirmed gateway outcome moves it.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req CheckoutRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		badRequest(w, "unsupported payment method "+req.PaymentMethod)
		return
	}
	if req.PrescriptionID != nil {
		req.RequiresPrescription = true
	}

	res, err := h.checkout.Checkout(r.Context(), service.CheckoutCommand{
		UserID:               actor.UserID,
		Amount:               req.Amount,
		Currency:             req.Currency,
		DeliveryAddress:      req.DeliveryAddress,
		Email:                req.Email,
		Phone:                req.Phone,
		Method:               method,
		RequiresPrescription: req.RequiresPrescription,
		PrescriptionID:       req.PrescriptionID,
	})
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toCheckoutResponse(res))
}

func (h *Handler) HandleRetryPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	orderID, err := pathUUID(r, "orderID")
	if err != nil {
		badRequest(w, "orderID must be a UUID")
		return
	}

	var req RetryPaymentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	method, ok := domain.ParsePaymentMethod(req.PaymentMethod)
	if !ok {
		badRequest(w, "unsupported payment method "+req.PaymentMethod)
		return
	}

	res, err := h.checkout.RetryPayment(r.Context(), actor, orderID, method, req.Phone)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, toCheckoutResponse(res))
}

func (h *Handler) HandleGetPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := pathUUID(r, "paymentID")
	if err != nil {
		badRequest(w, "paymentID must be a UUID")
		return
	}

	payment, err := h.queries.GetPayment(r.Context(), actor, paymentID)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toPaymentResponse(payment))
}

// HandleVerifyPayment is called when the customer returns from a hosted checkout.
// It asks the gateway for the outcome and never trusts anything the client sends.
func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := pathUUID(r, "paymentID")
	if err != nil {
		badRequest(w, "paymentID must be a UUID")
		return
	}

	result, err := h.reconciler.Verify(r.Context(), actor, paymentID)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	respondWithJSON(w, http.StatusOK, toTransitionResponse(result))
}

// HandlePaymentStatus blocks until the payment is terminal or the poll window runs out.
// A timeout is reported as a state, not an error, and leaves the order pending.
func (h *Handler) HandlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	paymentID, err := pathUUID(r, "paymentID")
	if err != nil {
		badRequest(w, "paymentID must be a UUID")
		return
	}

	res, err := h.poller.Await(r.Context(), actor, paymentID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// client went away
			return
		}
		respondWithError(w, r, h.logger, err)
		return
	}

	resp := PaymentStatusResponse{
		PaymentState: string(res.PaymentState),
		Message:      res.Message,
		Attempts:     res.Attempts,
	}
	if res.Payment != nil {
		p := toPaymentResponse(res.Payment)
		resp.Payment = &p
	}
	if res.Order != nil {
		o := toOrderResponse(res.Order)
		resp.Order = &o
	}
	respondWithJSON(w, http.StatusOK, resp)
}

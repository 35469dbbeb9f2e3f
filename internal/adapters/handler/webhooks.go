package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/service"
	"github.com/goccy/go-json"
)

const (
	maxCallbackBody = 256 << 10
	codeCallback    = "CALLBACK_NOT_PROCESSED"
)

// receive reads the callback and hands it to the callback service. On failure it has already
// written a non-2xx reply so the provider re-delivers, and the caller must return.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request, method domain.PaymentMethod) (*domain.CallbackNotice, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		h.logger.Warn("unreadable callback body", "gateway", method, "error", err)
		h.rejectCallback(w, http.StatusBadRequest)
		return nil, false
	}

	notice, _, err := h.callbacks.Handle(r.Context(), method, service.InboundCallback{
		Body:       body,
		Header:     r.Header,
		Query:      r.URL.Query(),
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		// the callback service has logged the cause
		h.rejectCallback(w, callbackStatus(err))
		return nil, false
	}
	return notice, true
}

func callbackStatus(err error) int {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}
	switch domainErr.Code {
	case domain.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case domain.ErrCodeForbidden:
		return http.StatusUnauthorized
	case domain.ErrCodeGatewayUnavailable:
		return http.StatusBadGateway
	case domain.ErrCodePersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) rejectCallback(w http.ResponseWriter, status int) {
	respondWithJSON(w, status, &APIError{
		Code:    codeCallback,
		Message: "we could not process this update",
	})
}

// writeRaw writes a provider-specific acknowledgement outside the API envelope.
func writeRaw(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type mpesaAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func (h *Handler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.receive(w, r, domain.MethodMpesa); !ok {
		return
	}
	writeRaw(w, http.StatusOK, mpesaAck{ResultCode: 0, ResultDesc: "Accepted"})
}

type pesapalAck struct {
	OrderNotificationType  string `json:"orderNotificationType"`
	OrderTrackingID        string `json:"orderTrackingId"`
	OrderMerchantReference string `json:"orderMerchantReference"`
	Status                 int    `json:"status"`
}

// HandlePesapalIPN serves both the GET and POST IPN styles. Pesapal expects its fields echoed back.
func (h *Handler) HandlePesapalIPN(w http.ResponseWriter, r *http.Request) {
	notice, ok := h.receive(w, r, domain.MethodPesapal)
	if !ok {
		return
	}
	writeRaw(w, http.StatusOK, pesapalAck{
		OrderNotificationType:  notice.EventType,
		OrderTrackingID:        notice.ExternalReference,
		OrderMerchantReference: notice.MerchantReference,
		Status:                 http.StatusOK,
	})
}

func (h *Handler) HandlePayPalWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.receive(w, r, domain.MethodPayPal); !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// HandleFlutterwaveWebhook also receives card charges, which run through Flutterwave.
func (h *Handler) HandleFlutterwaveWebhook(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.receive(w, r, domain.MethodFlutterwave); !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

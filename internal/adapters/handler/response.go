package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/goccy/go-json"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeInternal     = "INTERNAL_ERROR"
	codeUnauthorized = "UNAUTHORIZED"
	codeTimeout      = "TIMEOUT"
)

func respondWithJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := APIResponse{
		Success: status >= 200 && status < 300,
	}

	if response.Success {
		response.Data = data
	} else if apiErr, ok := data.(*APIError); ok {
		response.Error = apiErr
	}

	_ = json.NewEncoder(w).Encode(response)
}

// statusFor maps a DomainError code onto an HTTP status.
func statusFor(code string) int {
	switch code {
	case domain.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case domain.ErrCodeForbidden:
		return http.StatusForbidden
	case domain.ErrCodeOrderNotFound, domain.ErrCodePaymentNotFound,
		domain.ErrCodePrescriptionNotFound, domain.ErrCodeUnknownPayment:
		return http.StatusNotFound
	case domain.ErrCodeGuardViolation, domain.ErrCodeInvalidTransition, domain.ErrCodeDuplicatePendingPayment:
		return http.StatusConflict
	case domain.ErrCodeGatewayUnavailable:
		return http.StatusBadGateway
	case domain.ErrCodePersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError writes a DomainError as is. Anything else is logged and hidden behind a
// generic message.
func respondWithError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		logger.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		respondWithJSON(w, http.StatusInternalServerError, &APIError{
			Code:    codeInternal,
			Message: "something went wrong, please try again",
		})
		return
	}

	status := statusFor(domainErr.Code)
	message := domainErr.Message
	switch {
	case status >= 500:
		logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", domainErr.Code, "error", err)
		if domainErr.Code == domain.ErrCodePersistenceFailure {
			message = "we could not save your request, please try again"
		}
	case status == http.StatusConflict:
		logger.Info("request rejected", "method", r.Method, "path", r.URL.Path, "code", domainErr.Code)
	}

	respondWithJSON(w, status, &APIError{Code: domainErr.Code, Message: message})
}

func badRequest(w http.ResponseWriter, message string) {
	respondWithJSON(w, http.StatusBadRequest, &APIError{Code: domain.ErrCodeInvalidRequest, Message: message})
}

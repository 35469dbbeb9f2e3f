package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
	ErrCodeGatewayUnavailable      = "GATEWAY_UNAVAILABLE"
	ErrCodeUnknownPayment          = "UNKNOWN_PAYMENT"
	ErrCodePersistenceFailure      = "PERSISTENCE_FAILURE"
	ErrCodeGuardViolation          = "GUARD_VIOLATION"
	ErrCodeInvalidTransition       = "INVALID_TRANSITION"
	ErrCodeOrderNotFound           = "ORDER_NOT_FOUND"
	ErrCodePaymentNotFound         = "PAYMENT_NOT_FOUND"
	ErrCodePrescriptionNotFound    = "PRESCRIPTION_NOT_FOUND"
	ErrCodeDuplicatePendingPayment = "DUPLICATE_PENDING_PAYMENT"
	ErrCodeForbidden               = "FORBIDDEN"
)

func NewInvalidRequestError(message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
	}
}

func NewGatewayUnavailableError(gateway PaymentMethod, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeGatewayUnavailable,
		Message: fmt.Sprintf("%s is currently unavailable", gateway),
		Err:     err,
	}
}

func NewUnknownPaymentError(externalReference string) *DomainError {
	return &DomainError{
		Code:    ErrCodeUnknownPayment,
		Message: fmt.Sprintf("no payment matches reference %q", externalReference),
	}
}

func NewPersistenceError(operation string, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodePersistenceFailure,
		Message: fmt.Sprintf("failed to %s", operation),
		Err:     err,
	}
}

func NewGuardViolationError(message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeGuardViolation,
		Message: message,
	}
}

func NewInvalidTransitionError(from, to OrderStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewOrderNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeOrderNotFound,
		Message: fmt.Sprintf("order with ID %s not found", id),
	}
}

func NewPaymentNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodePaymentNotFound,
		Message: fmt.Sprintf("payment with ID %s not found", id),
	}
}

func NewPrescriptionNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodePrescriptionNotFound,
		Message: fmt.Sprintf("prescription with ID %s not found", id),
	}
}

func NewDuplicatePendingPaymentError(orderID string, method PaymentMethod) *DomainError {
	return &DomainError{
		Code:    ErrCodeDuplicatePendingPayment,
		Message: fmt.Sprintf("order %s already has a %s payment in progress", orderID, method),
	}
}

func NewForbiddenError(message string) *DomainError {
	return &DomainError{
		Code:    ErrCodeForbidden,
		Message: message,
	}
}

// IsErrorCode reports whether err carries a DomainError with the given code.
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

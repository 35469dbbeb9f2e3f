package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
)

// RetryGateway wraps a provider adapter with bounded exponential backoff.
type RetryGateway struct {
	inner      ports.Gateway
	baseDelay  time.Duration
	maxRetries int
}

func NewRetryGateway(inner ports.Gateway, cfg config.RetryConfig) *RetryGateway {
	maxRetries := int(cfg.MaxRetries)
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RetryGateway{
		inner:      inner,
		baseDelay:  time.Duration(cfg.BaseDelay) * time.Second,
		maxRetries: maxRetries,
	}
}

func (r *RetryGateway) Method() domain.PaymentMethod { return r.inner.Method() }

// Initiate is only repeated when the provider explicitly answered with a temporary
// failure. A transport error may mean the session was created, and repeating it could
// push a second prompt to the customer's phone.
func (r *RetryGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	return retry(r, ctx, isRetryableInitiate, func(ctx context.Context) (*domain.InitiateResult, error) {
		return r.inner.Initiate(ctx, req)
	})
}

// Confirm is a read and is repeated on any transient failure.
func (r *RetryGateway) Confirm(ctx context.Context, ref string) (*domain.Outcome, error) {
	return retry(r, ctx, isRetryable, func(ctx context.Context) (*domain.Outcome, error) {
		return r.inner.Confirm(ctx, ref)
	})
}

func (r *RetryGateway) ParseCallback(body []byte, header http.Header, query url.Values) (*domain.CallbackNotice, error) {
	return r.inner.ParseCallback(body, header, query)
}

func retry[T any](r *RetryGateway, ctx context.Context, retryable func(error) bool, operation func(ctx context.Context) (*T, error)) (*T, error) {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		resp, err := operation(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, classify(r.inner.Method(), err)
		}

		if attempt < r.maxRetries-1 {
			timer := time.NewTimer(r.backoff(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return nil, classify(r.inner.Method(), fmt.Errorf("maximum retries exceeded: %w", lastErr))
}

func isRetryable(err error) bool {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Temporary()
	}
	// network errors and timeouts
	return true
}

func isRetryableInitiate(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Temporary()
}

// classify turns a provider rejection of our request into INVALID_REQUEST. Everything
// else is left for the service to report as the gateway being unavailable.
func classify(method domain.PaymentMethod, err error) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && !gwErr.Temporary() && gwErr.StatusCode >= 400 &&
		gwErr.StatusCode != http.StatusUnauthorized && gwErr.StatusCode != http.StatusForbidden {
		return &domain.DomainError{
			Code:    domain.ErrCodeInvalidRequest,
			Message: fmt.Sprintf("%s rejected the payment request", method),
			Err:     err,
		}
	}
	return err
}

// backoff is exponential with up to a second of jitter.
func (r *RetryGateway) backoff(attempt int) time.Duration {
	if r.baseDelay <= 0 {
		return 0
	}
	base := r.baseDelay * time.Duration(1<<attempt)
	jitter := time.Duration(rand.IntN(1000)) * time.Millisecond
	return base + jitter
}

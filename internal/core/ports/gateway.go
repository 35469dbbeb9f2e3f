package ports

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
)

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Method() domain.PaymentMethod
	// Initiate starts a payment session. It never touches order state.
	Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error)
	// Confirm asks the provider, server to server, what happened to a session.
	Confirm(ctx context.Context, externalReference string) (*domain.Outcome, error)
	// ParseCallback extracts the reference from an inbound webhook. The payload is never trusted for the outcome.
	ParseCallback(body []byte, header http.Header, query url.Values) (*domain.CallbackNotice, error)
}

// TokenCache stores short-lived gateway access tokens.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

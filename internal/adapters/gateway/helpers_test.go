package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memCache is an in-process TokenCache.
type memCache struct {
	mu     sync.Mutex
	tokens map[string]string
	ttls   map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{tokens: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	return t, ok, nil
}

func (c *memCache) Set(_ context.Context, key, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = token
	c.ttls[key] = ttl
	return nil
}

// provider is a scripted fake of a gateway API.
type provider struct {
	t      *testing.T
	mu     sync.Mutex
	hits   map[string]int
	routes map[string]http.HandlerFunc
}

func newProvider(t *testing.T) (*provider, *httptest.Server) {
	p := &provider{t: t, hits: map[string]int{}, routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		p.mu.Lock()
		p.hits[key]++
		h, ok := p.routes[key]
		p.mu.Unlock()
		if !ok {
			t.Errorf("unexpected request %s", key)
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *provider) handle(method, path string, h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[method+" "+path] = h
}

func (p *provider) count(method, path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits[method+" "+path]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("decode request body: %v", err)
	}
	return body
}

func initiateRequest(amount, currency string) domain.InitiateRequest {
	return domain.InitiateRequest{
		PaymentID:   uuid.MustParse("0b7e6a3c-3a41-4f55-9d1f-6c1e2f7a9b10"),
		OrderID:     uuid.MustParse("5f0c2d1e-8b7a-4c3d-9e2f-1a0b9c8d7e6f"),
		UserID:      "auth0|user-1",
		Amount:      decimal.RequireFromString(amount),
		Currency:    currency,
		Description: "Order 5f0c2d1e",
		Email:       "jane@example.com",
		Phone:       "0712345678",
		ReturnURL:   "https://shop.test/orders/5f0c2d1e-8b7a-4c3d-9e2f-1a0b9c8d7e6f/payment-return",
	}
}

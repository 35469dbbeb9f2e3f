package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/goccy/go-json"
)

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 1 << 20

// GatewayError is a non-2xx answer from a provider.
type GatewayError struct {
	Method     domain.PaymentMethod
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Method, e.StatusCode, e.Body)
}

// Temporary reports whether repeating the call may succeed.
func (e *GatewayError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// httpClient is the JSON transport shared by the adapters.
type httpClient struct {
	method     domain.PaymentMethod
	baseURL    string
	httpClient *http.Client
}

func newHTTPClient(method domain.PaymentMethod, baseURL string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpClient{
		method:     method,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type requestOption func(*http.Request)

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withBasicAuth(user, pass string) requestOption {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// doJSON sends in as JSON (when non-nil) and decodes the response into out (when non-nil).
// The raw response body is returned for metadata.
func (c *httpClient) doJSON(ctx context.Context, method, path string, in, out any, opts ...requestOption) ([]byte, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("error marshalling json: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}

	return c.do(req, out)
}

// doForm posts a form body, as OAuth token endpoints expect.
func (c *httpClient) doForm(ctx context.Context, path, form string, out any, opts ...requestOption) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, opt := range opts {
		opt(req)
	}
	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("error reading %s response: %w", c.method, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return raw, &GatewayError{Method: c.method, StatusCode: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, fmt.Errorf("error decoding %s response: %w", c.method, err)
		}
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// tokenFunc fetches a fresh access token and its lifetime.
type tokenFunc func(ctx context.Context) (string, time.Duration, error)

// tokenSource hands out provider access tokens, going through the shared cache when there is one.
type tokenSource struct {
	method domain.PaymentMethod
	key    string
	cache  ports.TokenCache
	fetch  tokenFunc
	logger *slog.Logger
}

func (s *tokenSource) Token(ctx context.Context) (string, error) {
	if s.cache != nil {
		token, ok, err := s.cache.Get(ctx, s.key)
		if err != nil {
			s.logger.Warn("token cache read failed", "key", s.key, "error", err)
		} else if ok {
			return token, nil
		}
	}

	token, expiresIn, err := s.fetch(ctx)
	if err != nil {
		// a refused handshake is our credentials or the provider, never the customer's request
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && !gwErr.Temporary() {
			return "", domain.NewGatewayUnavailableError(s.method, err)
		}
		return "", err
	}

	// refresh a minute early so a token never expires mid-request
	if ttl := expiresIn - time.Minute; s.cache != nil && ttl > 0 {
		if err := s.cache.Set(ctx, s.key, token, ttl); err != nil {
			s.logger.Warn("token cache write failed", "key", s.key, "error", err)
		}
	}
	return token, nil
}

// rawJSON compacts a provider response for storage as payment metadata.
func rawJSON(raw []byte) []byte {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil
	}
	return buf.Bytes()
}

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway returns the queued errors in order, then succeeds.
type scriptedGateway struct {
	errs   []error
	calls  int
	onCall func()
}

func (s *scriptedGateway) Method() domain.PaymentMethod { return domain.MethodMpesa }

func (s *scriptedGateway) next() error {
	s.calls++
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedGateway) Initiate(context.Context, domain.InitiateRequest) (*domain.InitiateResult, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &domain.InitiateResult{ExternalReference: "ws_CO_1"}, nil
}

func (s *scriptedGateway) Confirm(context.Context, string) (*domain.Outcome, error) {
	if err := s.next(); err != nil {
		return nil, err
	}
	return &domain.Outcome{Status: domain.OutcomeSucceeded}, nil
}

func (s *scriptedGateway) ParseCallback([]byte, http.Header, url.Values) (*domain.CallbackNotice, error) {
	return &domain.CallbackNotice{ExternalReference: "ws_CO_1"}, nil
}

func gwErr(status int) error {
	return &GatewayError{Method: domain.MethodMpesa, StatusCode: status, Body: "{}"}
}

var errNetwork = errors.New("dial tcp: connection reset by peer")

func TestRetryGateway_Confirm(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
		wantCode  string
	}{
		{name: "first try", wantCalls: 1},
		{name: "recovers from 503", errs: []error{gwErr(503), gwErr(502)}, wantCalls: 3},
		{name: "recovers from network error", errs: []error{errNetwork}, wantCalls: 2},
		{name: "429 is retried", errs: []error{gwErr(429)}, wantCalls: 2},
		{name: "gives up", errs: []error{gwErr(500), gwErr(500), gwErr(500)}, wantCalls: 3, wantErr: true},
		{
			name:      "bad request is not retried",
			errs:      []error{gwErr(400)},
			wantCalls: 1,
			wantErr:   true,
			wantCode:  domain.ErrCodeInvalidRequest,
		},
		{
			name:      "unauthorized stays a gateway problem",
			errs:      []error{gwErr(401)},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "domain error passes through",
			errs:      []error{domain.NewForbiddenError("nope")},
			wantCalls: 1,
			wantErr:   true,
			wantCode:  domain.ErrCodeForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedGateway{errs: tt.errs}
			g := NewRetryGateway(inner, config.RetryConfig{BaseDelay: 0, MaxRetries: 3})

			out, err := g.Confirm(context.Background(), "ws_CO_1")
			assert.Equal(t, tt.wantCalls, inner.calls)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, domain.OutcomeSucceeded, out.Status)
				return
			}
			require.Error(t, err)
			if tt.wantCode != "" {
				assert.True(t, domain.IsErrorCode(err, tt.wantCode), "got %v", err)
			} else {
				var de *domain.DomainError
				assert.False(t, errors.As(err, &de), "got %v", err)
			}
		})
	}
}

func TestRetryGateway_InitiateNotRepeatedOnNetworkError(t *testing.T) {
	inner := &scriptedGateway{errs: []error{errNetwork}}
	g := NewRetryGateway(inner, config.RetryConfig{MaxRetries: 3})

	_, err := g.Initiate(context.Background(), initiateRequest("100", "KES"))
	require.ErrorIs(t, err, errNetwork)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryGateway_InitiateRepeatedOnTemporaryAnswer(t *testing.T) {
	inner := &scriptedGateway{errs: []error{gwErr(503)}}
	g := NewRetryGateway(inner, config.RetryConfig{MaxRetries: 3})

	res, err := g.Initiate(context.Background(), initiateRequest("100", "KES"))
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", res.ExternalReference)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryGateway_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &scriptedGateway{errs: []error{gwErr(503), gwErr(503)}, onCall: cancel}
	g := NewRetryGateway(inner, config.RetryConfig{BaseDelay: 1, MaxRetries: 3})

	_, err := g.Confirm(ctx, "ws_CO_1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryGateway_Passthrough(t *testing.T) {
	g := NewRetryGateway(&scriptedGateway{}, config.RetryConfig{})
	assert.Equal(t, domain.MethodMpesa, g.Method())

	notice, err := g.ParseCallback(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", notice.ExternalReference)
}

package service

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
)

// InboundCallback is a raw webhook or IPN request as received.
type InboundCallback struct {
	Body       []byte
	Header     http.Header
	Query      url.Values
	RemoteAddr string
}

// recordedHeaders are the only headers copied into the callback log.
var recordedHeaders = []string{"Content-Type", "User-Agent", "X-Forwarded-For", "Paypal-Transmission-Id"}

// CallbackService turns untrusted gateway callbacks into server-side verified events.
type CallbackService struct {
	gateways   *Gateways
	reconciler *ReconcileService
	log        ports.CallbackLog
	logger     *slog.Logger
}

func NewCallbackService(
	gateways *Gateways,
	reconciler *ReconcileService,
	log ports.CallbackLog,
	logger *slog.Logger,
) *CallbackService {
	return &CallbackService{
		gateways:   gateways,
		reconciler: reconciler,
		log:        log,
		logger:     logger,
	}
}

// Handle re-verifies the payment named by the callback with the gateway and applies the answer.
// The notice is returned whenever the callback could be parsed so acknowledgements can echo it.
func (s *CallbackService) Handle(ctx context.Context, method domain.PaymentMethod, in InboundCallback) (*domain.CallbackNotice, *domain.ApplyResult, error) {
	rec := ports.CallbackRecord{
		Method:     method,
		RemoteAddr: in.RemoteAddr,
		Headers:    pickHeaders(in.Header),
		Body:       string(in.Body),
		ReceivedAt: time.Now().UTC(),
	}

	notice, result, err := s.handle(ctx, method, in)
	if notice != nil {
		rec.ExternalReference = notice.ExternalReference
		rec.EventType = notice.EventType
	}
	rec.Result = describeResult(result, err)
	s.record(ctx, rec)

	if err != nil {
		s.logger.Error("callback processing failed",
			"gateway", method,
			"external_reference", rec.ExternalReference,
			"error", err,
		)
		return notice, nil, err
	}

	return notice, result, nil
}

func (s *CallbackService) handle(ctx context.Context, method domain.PaymentMethod, in InboundCallback) (*domain.CallbackNotice, *domain.ApplyResult, error) {
	gw, err := s.gateways.Get(method)
	if err != nil {
		return nil, nil, err
	}

	notice, err := gw.ParseCallback(in.Body, in.Header, in.Query)
	if err != nil {
		return nil, nil, err
	}
	// events we do not act on are acknowledged without a gateway round trip
	if notice.ExternalReference == "" {
		return notice, nil, nil
	}

	outcome, err := gw.Confirm(ctx, notice.ExternalReference)
	if err != nil {
		return notice, nil, asGatewayError(method, err)
	}

	result, err := s.reconciler.ApplyOutcome(ctx, notice.ExternalReference, outcome)
	return notice, result, err
}

func (s *CallbackService) record(ctx context.Context, rec ports.CallbackRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := s.log.Record(ctx, rec); err != nil {
		s.logger.Warn("failed to record callback", "gateway", rec.Method, "error", err)
	}
}

func pickHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(recordedHeaders))
	for _, name := range recordedHeaders {
		if v := h.Get(name); v != "" {
			out[name] = v
		}
	}
	return out
}

func describeResult(result *domain.ApplyResult, err error) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case result == nil:
		return "ignored"
	case result.Duplicate:
		return "duplicate"
	case result.Transitioned:
		return "transitioned: " + string(result.From) + " -> " + string(result.To)
	case result.Payment != nil:
		return "payment " + string(result.Payment.Status)
	default:
		return "applied"
	}
}

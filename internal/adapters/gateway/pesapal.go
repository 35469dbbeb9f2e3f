package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Pesapal GetTransactionStatus status codes.
const (
	pesapalInvalid   = 0
	pesapalCompleted = 1
	pesapalFailed    = 2
	pesapalReversed  = 3
)

// PesapalGateway implements the Pesapal API 3.0 hosted checkout.
type PesapalGateway struct {
	client *httpClient
	cfg    config.PesapalConfig
	tokens *tokenSource
	now    func() time.Time
}

func NewPesapalGateway(cfg config.PesapalConfig, cache ports.TokenCache, logger *slog.Logger) *PesapalGateway {
	g := &PesapalGateway{
		client: newHTTPClient(domain.MethodPesapal, cfg.BaseURL, cfg.Timeout),
		cfg:    cfg,
		now:    time.Now,
	}
	g.tokens = &tokenSource{
		method: domain.MethodPesapal,
		key:    "gateway:pesapal:token:" + cfg.ConsumerKey,
		cache:  cache,
		fetch:  g.fetchToken,
		logger: logger,
	}
	return g
}

func (g *PesapalGateway) Method() domain.PaymentMethod { return domain.MethodPesapal }

// pesapalError is embedded in every Pesapal response; a 200 can still carry one.
type pesapalError struct {
	Error *struct {
		ErrorType string `json:"error_type"`
		Code      string `json:"code"`
		Message   string `json:"message"`
	} `json:"error"`
}

func (e pesapalError) err() error {
	if e.Error == nil || (e.Error.Code == "" && e.Error.Message == "") {
		return nil
	}
	return fmt.Errorf("pesapal error %s: %s", e.Error.Code, e.Error.Message)
}

type pesapalTokenResponse struct {
	pesapalError
	Token      string `json:"token"`
	ExpiryDate string `json:"expiryDate"`
}

func (g *PesapalGateway) fetchToken(ctx context.Context) (string, time.Duration, error) {
	body := map[string]string{
		"consumer_key":    g.cfg.ConsumerKey,
		"consumer_secret": g.cfg.ConsumerSecret,
	}
	var resp pesapalTokenResponse
	if _, err := g.client.doJSON(ctx, http.MethodPost, "/api/Auth/RequestToken", body, &resp); err != nil {
		return "", 0, fmt.Errorf("pesapal auth: %w", err)
	}
	if err := resp.err(); err != nil {
		return "", 0, err
	}
	if resp.Token == "" {
		return "", 0, errors.New("pesapal auth: empty token")
	}

	// tokens live five minutes unless the response says otherwise
	ttl := 5 * time.Minute
	if expiry, err := time.Parse(time.RFC3339Nano, resp.ExpiryDate); err == nil {
		ttl = expiry.Sub(g.now())
	}
	return resp.Token, ttl, nil
}

type pesapalBillingAddress struct {
	EmailAddress string `json:"email_address,omitempty"`
	PhoneNumber  string `json:"phone_number,omitempty"`
}

type pesapalOrderRequest struct {
	ID             string                `json:"id"`
	Currency       string                `json:"currency"`
	Amount         float64               `json:"amount"`
	Description    string                `json:"description"`
	CallbackURL    string                `json:"callback_url"`
	NotificationID string                `json:"notification_id"`
	BillingAddress pesapalBillingAddress `json:"billing_address"`
}

type pesapalOrderResponse struct {
	pesapalError
	OrderTrackingID   string `json:"order_tracking_id"`
	MerchantReference string `json:"merchant_reference"`
	RedirectURL       string `json:"redirect_url"`
}

// Initiate submits an order. The merchant reference is our Payment id, never the user id.
func (g *PesapalGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if req.Email == "" && req.Phone == "" {
		return nil, domain.NewInvalidRequestError("Pesapal needs an email address or phone number")
	}
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := pesapalOrderRequest{
		ID:             req.PaymentID.String(),
		Currency:       strings.ToUpper(req.Currency),
		Amount:         req.Amount.Round(2).InexactFloat64(),
		Description:    truncate(req.Description, 97),
		CallbackURL:    req.ReturnURL,
		NotificationID: g.cfg.IPNID,
		BillingAddress: pesapalBillingAddress{EmailAddress: req.Email, PhoneNumber: req.Phone},
	}

	var resp pesapalOrderResponse
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/api/Transactions/SubmitOrderRequest", body, &resp, withBearer(token))
	if err != nil {
		return nil, err
	}
	if err := resp.err(); err != nil {
		return nil, domain.NewInvalidRequestError(err.Error())
	}
	if resp.OrderTrackingID == "" || resp.RedirectURL == "" {
		return nil, errors.New("pesapal returned no tracking id")
	}

	return &domain.InitiateResult{
		ExternalReference: resp.OrderTrackingID,
		RedirectURL:       resp.RedirectURL,
		Metadata:          rawJSON(raw),
	}, nil
}

type pesapalStatusResponse struct {
	pesapalError
	PaymentMethod            string          `json:"payment_method"`
	Amount                   decimal.Decimal `json:"amount"`
	ConfirmationCode         string          `json:"confirmation_code"`
	PaymentStatusDescription string          `json:"payment_status_description"`
	Description              string          `json:"description"`
	StatusCode               int             `json:"status_code"`
	MerchantReference        string          `json:"merchant_reference"`
	Currency                 string          `json:"currency"`
}

func (g *PesapalGateway) Confirm(ctx context.Context, ref string) (*domain.Outcome, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	path := "/api/Transactions/GetTransactionStatus?" + url.Values{"orderTrackingId": {ref}}.Encode()
	var resp pesapalStatusResponse
	raw, err := g.client.doJSON(ctx, http.MethodGet, path, nil, &resp, withBearer(token))
	if err != nil {
		return nil, err
	}

	outcome := &domain.Outcome{
		Amount:   resp.Amount,
		Currency: resp.Currency,
		Receipt:  resp.ConfirmationCode,
		Reason:   firstNonEmpty(resp.Description, resp.PaymentStatusDescription),
		Metadata: rawJSON(raw),
	}
	switch resp.StatusCode {
	case pesapalCompleted:
		outcome.Status = domain.OutcomeSucceeded
	case pesapalFailed:
		outcome.Status = domain.OutcomeFailed
	case pesapalReversed:
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = "payment reversed"
	default:
		// pesapalInvalid covers sessions the customer has not finished yet
		outcome.Status = domain.OutcomePending
	}
	return outcome, nil
}

type pesapalIPN struct {
	OrderTrackingID        string `json:"OrderTrackingId"`
	OrderMerchantReference string `json:"OrderMerchantReference"`
	OrderNotificationType  string `json:"OrderNotificationType"`
}

// ParseCallback accepts both GET (query string) and POST (JSON body) IPNs.
func (g *PesapalGateway) ParseCallback(body []byte, _ http.Header, query url.Values) (*domain.CallbackNotice, error) {
	ipn := pesapalIPN{
		OrderTrackingID:        query.Get("OrderTrackingId"),
		OrderMerchantReference: query.Get("OrderMerchantReference"),
		OrderNotificationType:  query.Get("OrderNotificationType"),
	}
	if ipn.OrderTrackingID == "" && len(body) > 0 {
		if err := json.Unmarshal(body, &ipn); err != nil {
			return nil, domain.NewInvalidRequestError("malformed Pesapal IPN")
		}
	}
	if ipn.OrderTrackingID == "" {
		return nil, domain.NewInvalidRequestError("Pesapal IPN has no OrderTrackingId")
	}
	return &domain.CallbackNotice{
		ExternalReference: ipn.OrderTrackingID,
		EventType:         ipn.OrderNotificationType,
		MerchantReference: ipn.OrderMerchantReference,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// FlutterwaveGateway uses Flutterwave Standard (v3 hosted payment links).
// The same account also serves the card method with payment options narrowed to cards.
type FlutterwaveGateway struct {
	client         *httpClient
	cfg            config.FlutterwaveConfig
	method         domain.PaymentMethod
	paymentOptions string
}

func NewFlutterwaveGateway(cfg config.FlutterwaveConfig) *FlutterwaveGateway {
	return &FlutterwaveGateway{
		client:         newHTTPClient(domain.MethodFlutterwave, cfg.BaseURL, cfg.Timeout),
		cfg:            cfg,
		method:         domain.MethodFlutterwave,
		paymentOptions: "card,mobilemoneykenya,banktransfer,ussd",
	}
}

// NewCardGateway is a Flutterwave checkout that only offers card payment.
func NewCardGateway(cfg config.FlutterwaveConfig) *FlutterwaveGateway {
	return &FlutterwaveGateway{
		client:         newHTTPClient(domain.MethodCard, cfg.BaseURL, cfg.Timeout),
		cfg:            cfg,
		method:         domain.MethodCard,
		paymentOptions: "card",
	}
}

func (g *FlutterwaveGateway) Method() domain.PaymentMethod { return g.method }

type flutterwaveCustomer struct {
	Email       string `json:"email"`
	PhoneNumber string `json:"phonenumber,omitempty"`
}

type flutterwavePaymentRequest struct {
	TxRef          string              `json:"tx_ref"`
	Amount         string              `json:"amount"`
	Currency       string              `json:"currency"`
	RedirectURL    string              `json:"redirect_url"`
	PaymentOptions string              `json:"payment_options"`
	Customer       flutterwaveCustomer `json:"customer"`
	Customizations struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"customizations"`
	Meta map[string]string `json:"meta"`
}

type flutterwavePaymentResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// Initiate creates a hosted payment link. tx_ref is the Payment id.
func (g *FlutterwaveGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if req.Email == "" {
		return nil, domain.NewInvalidRequestError("an email address is required for this payment method")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.NewInvalidRequestError("amount must be positive")
	}

	body := flutterwavePaymentRequest{
		TxRef:          req.PaymentID.String(),
		Amount:         req.Amount.StringFixed(2),
		Currency:       strings.ToUpper(req.Currency),
		RedirectURL:    req.ReturnURL,
		PaymentOptions: g.paymentOptions,
		Customer:       flutterwaveCustomer{Email: req.Email, PhoneNumber: req.Phone},
		Meta: map[string]string{
			"order_id": req.OrderID.String(),
			"user_id":  req.UserID,
		},
	}
	body.Customizations.Title = "Pharmacy order"
	body.Customizations.Description = req.Description

	var resp flutterwavePaymentResponse
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/v3/payments", body, &resp, withBearer(g.cfg.SecretKey))
	if err != nil {
		return nil, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return nil, errors.New("flutterwave: " + firstNonEmpty(resp.Message, "no payment link returned"))
	}

	return &domain.InitiateResult{
		ExternalReference: body.TxRef,
		RedirectURL:       resp.Data.Link,
		Metadata:          rawJSON(raw),
	}, nil
}

type flutterwaveVerifyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		ID                int64           `json:"id"`
		TxRef             string          `json:"tx_ref"`
		FlwRef            string          `json:"flw_ref"`
		Amount            decimal.Decimal `json:"amount"`
		Currency          string          `json:"currency"`
		Status            string          `json:"status"`
		ProcessorResponse string          `json:"processor_response"`
	} `json:"data"`
}

func (g *FlutterwaveGateway) Confirm(ctx context.Context, ref string) (*domain.Outcome, error) {
	path := "/v3/transactions/verify_by_reference?" + url.Values{"tx_ref": {ref}}.Encode()

	var resp flutterwaveVerifyResponse
	raw, err := g.client.doJSON(ctx, http.MethodGet, path, nil, &resp, withBearer(g.cfg.SecretKey))
	if err != nil {
		// no charge exists until the customer submits the hosted form
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && (gwErr.StatusCode == http.StatusNotFound ||
			strings.Contains(gwErr.Body, "No transaction was found")) {
			return &domain.Outcome{Status: domain.OutcomePending, Reason: "no transaction yet"}, nil
		}
		return nil, err
	}

	outcome := &domain.Outcome{
		Amount:   resp.Data.Amount,
		Currency: resp.Data.Currency,
		Receipt:  resp.Data.FlwRef,
		Reason:   resp.Data.ProcessorResponse,
		Metadata: rawJSON(raw),
	}
	switch strings.ToLower(resp.Data.Status) {
	case "successful":
		outcome.Status = domain.OutcomeSucceeded
	case "failed", "cancelled":
		outcome.Status = domain.OutcomeFailed
	default:
		outcome.Status = domain.OutcomePending
	}
	return outcome, nil
}

type flutterwaveWebhook struct {
	Event string `json:"event"`
	Data  struct {
		TxRef  string `json:"tx_ref"`
		FlwRef string `json:"flw_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

// ParseCallback checks the verif-hash header before reading anything from the body.
func (g *FlutterwaveGateway) ParseCallback(body []byte, header http.Header, _ url.Values) (*domain.CallbackNotice, error) {
	hash := header.Get("verif-hash")
	if hash == "" || subtle.ConstantTimeCompare([]byte(hash), []byte(g.cfg.WebhookHash)) != 1 {
		return nil, domain.NewForbiddenError("webhook signature mismatch")
	}

	var event flutterwaveWebhook
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, domain.NewInvalidRequestError("malformed Flutterwave webhook")
	}

	notice := &domain.CallbackNotice{EventType: event.Event}
	if event.Event == "charge.completed" {
		notice.ExternalReference = event.Data.TxRef
	}
	return notice, nil
}

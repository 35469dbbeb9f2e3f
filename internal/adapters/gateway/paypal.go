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

// PayPalGateway uses the Orders v2 API with intent CAPTURE.
type PayPalGateway struct {
	client *httpClient
	cfg    config.PayPalConfig
	tokens *tokenSource
}

func NewPayPalGateway(cfg config.PayPalConfig, cache ports.TokenCache, logger *slog.Logger) *PayPalGateway {
	g := &PayPalGateway{
		client: newHTTPClient(domain.MethodPayPal, cfg.BaseURL, cfg.Timeout),
		cfg:    cfg,
	}
	g.tokens = &tokenSource{
		method: domain.MethodPayPal,
		key:    "gateway:paypal:token:" + cfg.ClientID,
		cache:  cache,
		fetch:  g.fetchToken,
		logger: logger,
	}
	return g
}

func (g *PayPalGateway) Method() domain.PaymentMethod { return domain.MethodPayPal }

type paypalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (g *PayPalGateway) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var resp paypalTokenResponse
	_, err := g.client.doForm(ctx, "/v1/oauth2/token", "grant_type=client_credentials", &resp,
		withBasicAuth(g.cfg.ClientID, g.cfg.ClientSecret))
	if err != nil {
		return "", 0, fmt.Errorf("paypal oauth: %w", err)
	}
	if resp.AccessToken == "" {
		return "", 0, errors.New("paypal oauth: empty access token")
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
	Payments    *struct {
		Captures []paypalCapture `json:"captures"`
	} `json:"payments,omitempty"`
}

type paypalCapture struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Amount paypalAmount `json:"amount"`
}

type paypalApplicationContext struct {
	ReturnURL          string `json:"return_url"`
	CancelURL          string `json:"cancel_url"`
	UserAction         string `json:"user_action"`
	ShippingPreference string `json:"shipping_preference"`
}

type paypalCreateOrder struct {
	Intent             string                   `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit     `json:"purchase_units"`
	ApplicationContext paypalApplicationContext `json:"application_context"`
}

type paypalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type paypalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
	Links         []paypalLink         `json:"links"`
}

func (g *PayPalGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.NewInvalidRequestError("amount must be positive")
	}
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	body := paypalCreateOrder{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.PaymentID.String(),
			CustomID:    req.OrderID.String(),
			Description: truncate(req.Description, 120),
			Amount: paypalAmount{
				CurrencyCode: strings.ToUpper(req.Currency),
				Value:        req.Amount.StringFixed(2),
			},
		}},
		ApplicationContext: paypalApplicationContext{
			ReturnURL:          req.ReturnURL,
			CancelURL:          req.ReturnURL,
			UserAction:         "PAY_NOW",
			ShippingPreference: "NO_SHIPPING",
		},
	}

	var order paypalOrder
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", body, &order,
		withBearer(token),
		// PayPal deduplicates creates carrying the same request id
		withHeader("PayPal-Request-Id", req.PaymentID.String()),
	)
	if err != nil {
		return nil, err
	}

	approve := order.link("approve", "payer-action")
	if order.ID == "" || approve == "" {
		return nil, errors.New("paypal order has no approval link")
	}

	return &domain.InitiateResult{
		ExternalReference: order.ID,
		RedirectURL:       approve,
		Metadata:          rawJSON(raw),
	}, nil
}

// Confirm reads the order and captures it once the buyer has approved.
func (g *PayPalGateway) Confirm(ctx context.Context, ref string) (*domain.Outcome, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var order paypalOrder
	raw, err := g.client.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(ref), nil, &order, withBearer(token))
	if err != nil {
		return nil, err
	}

	if order.Status == "APPROVED" {
		captured, capturedRaw, err := g.capture(ctx, token, ref)
		if err != nil {
			if out, ok := refusedCapture(order.outcome(raw), err); ok {
				return out, nil
			}
			return nil, err
		}
		order, raw = captured, capturedRaw
	}

	return order.outcome(raw), nil
}

// paypalDeclines are capture issues that settle the attempt as failed.
var paypalDeclines = []string{"INSTRUMENT_DECLINED", "TRANSACTION_REFUSED", "PAYER_CANNOT_PAY", "PAYEE_BLOCKED_TRANSACTION"}

// refusedCapture turns a 422 from capture into an outcome. A decline fails the attempt;
// any other unprocessable answer leaves it pending for the buyer to act on.
func refusedCapture(approved *domain.Outcome, err error) (*domain.Outcome, bool) {
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.StatusCode != http.StatusUnprocessableEntity {
		return nil, false
	}
	for _, issue := range paypalDeclines {
		if strings.Contains(gwErr.Body, issue) {
			approved.Status = domain.OutcomeFailed
			approved.Reason = "capture refused: " + strings.ToLower(issue)
			return approved, true
		}
	}
	approved.Status = domain.OutcomePending
	return approved, true
}

func (g *PayPalGateway) capture(ctx context.Context, token, ref string) (paypalOrder, []byte, error) {
	var order paypalOrder
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(ref)+"/capture", struct{}{}, &order,
		withBearer(token),
		withHeader("PayPal-Request-Id", "capture-"+ref),
	)
	if err == nil {
		return order, raw, nil
	}

	// a concurrent capture won the race; read the settled order instead
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusUnprocessableEntity &&
		strings.Contains(gwErr.Body, "ORDER_ALREADY_CAPTURED") {
		raw, err = g.client.doJSON(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(ref), nil, &order, withBearer(token))
		return order, raw, err
	}
	return order, raw, err
}

func (o paypalOrder) link(rels ...string) string {
	for _, rel := range rels {
		for _, l := range o.Links {
			if l.Rel == rel {
				return l.Href
			}
		}
	}
	return ""
}

func (o paypalOrder) outcome(raw []byte) *domain.Outcome {
	out := &domain.Outcome{Metadata: rawJSON(raw)}

	var capture *paypalCapture
	if len(o.PurchaseUnits) > 0 {
		unit := o.PurchaseUnits[0]
		out.Currency = unit.Amount.CurrencyCode
		out.Amount, _ = decimal.NewFromString(unit.Amount.Value)
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			capture = &unit.Payments.Captures[0]
		}
	}

	switch o.Status {
	case "COMPLETED":
		out.Status = domain.OutcomeSucceeded
		if capture != nil {
			out.Receipt = capture.ID
			switch capture.Status {
			case "DECLINED", "FAILED":
				out.Status = domain.OutcomeFailed
				out.Reason = "capture " + strings.ToLower(capture.Status)
			case "PENDING":
				out.Status = domain.OutcomePending
			}
		}
	case "VOIDED":
		out.Status = domain.OutcomeFailed
		out.Reason = "order voided"
	default:
		// CREATED, SAVED, PAYER_ACTION_REQUIRED
		out.Status = domain.OutcomePending
	}
	return out
}

type paypalWebhook struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// ParseCallback maps order and capture events back to the PayPal order id.
// Events about anything else come back with an empty reference.
func (g *PayPalGateway) ParseCallback(body []byte, _ http.Header, _ url.Values) (*domain.CallbackNotice, error) {
	var event paypalWebhook
	if err := json.Unmarshal(body, &event); err != nil || event.EventType == "" {
		return nil, domain.NewInvalidRequestError("malformed PayPal webhook")
	}

	notice := &domain.CallbackNotice{EventType: event.EventType}
	switch {
	case strings.HasPrefix(event.EventType, "CHECKOUT.ORDER."):
		notice.ExternalReference = event.Resource.ID
	case strings.HasPrefix(event.EventType, "PAYMENT.CAPTURE."):
		notice.ExternalReference = event.Resource.SupplementaryData.RelatedIDs.OrderID
	}
	return notice, nil
}

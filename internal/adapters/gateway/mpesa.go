package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

const (
	mpesaTimestampLayout = "20060102150405"
	// Daraja answers a query on an unfinished prompt with this error code.
	mpesaStillProcessing = "500.001.1001"
)

var (
	// Daraja timestamps are East Africa Time.
	eat        = time.FixedZone("EAT", 3*60*60)
	decimalOne = decimal.NewFromInt(1)
)

// MpesaGateway drives Safaricom Daraja STK push (Lipa na M-PESA Online).
type MpesaGateway struct {
	client      *httpClient
	cfg         config.MpesaConfig
	callbackURL string
	tokens      *tokenSource
	now         func() time.Time
}

func NewMpesaGateway(cfg config.MpesaConfig, callbackURL string, cache ports.TokenCache, logger *slog.Logger) *MpesaGateway {
	g := &MpesaGateway{
		client:      newHTTPClient(domain.MethodMpesa, cfg.BaseURL, cfg.Timeout),
		cfg:         cfg,
		callbackURL: callbackURL,
		now:         time.Now,
	}
	g.tokens = &tokenSource{
		method: domain.MethodMpesa,
		key:    "gateway:mpesa:token:" + cfg.ShortCode,
		cache:  cache,
		fetch:  g.fetchToken,
		logger: logger,
	}
	return g
}

func (g *MpesaGateway) Method() domain.PaymentMethod { return domain.MethodMpesa }

type mpesaTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (g *MpesaGateway) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var resp mpesaTokenResponse
	_, err := g.client.doJSON(ctx, http.MethodGet, "/oauth/v1/generate?grant_type=client_credentials", nil, &resp,
		withBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret))
	if err != nil {
		return "", 0, fmt.Errorf("mpesa oauth: %w", err)
	}
	if resp.AccessToken == "" {
		return "", 0, errors.New("mpesa oauth: empty access token")
	}
	seconds, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil {
		seconds = 3599
	}
	return resp.AccessToken, time.Duration(seconds) * time.Second, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

func (g *MpesaGateway) Initiate(ctx context.Context, req domain.InitiateRequest) (*domain.InitiateResult, error) {
	if req.Currency != "" && !strings.EqualFold(req.Currency, "KES") {
		return nil, domain.NewInvalidRequestError("M-PESA only accepts KES")
	}
	if !req.Amount.IsInteger() || req.Amount.LessThan(decimalOne) {
		return nil, domain.NewInvalidRequestError("M-PESA amounts must be whole shillings of at least 1")
	}
	phone, err := NormalizeMSISDN(req.Phone)
	if err != nil {
		return nil, err
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := g.password()
	body := stkPushRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            req.Amount.IntPart(),
		PartyA:            phone,
		PartyB:            g.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       g.callbackURL,
		AccountReference:  accountReference(req.OrderID.String()),
		TransactionDesc:   "Pharmacy order",
	}

	var resp stkPushResponse
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/mpesa/stkpush/v1/processrequest", body, &resp, withBearer(token))
	if err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("mpesa rejected stk push: %s (%s)", resp.ResponseDescription, resp.ResponseCode)
	}

	return &domain.InitiateResult{
		ExternalReference: resp.CheckoutRequestID,
		CustomerMessage:   "Check your phone and enter your M-PESA PIN to complete the payment.",
		Metadata:          rawJSON(raw),
	}, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string    `json:"ResponseCode"`
	ResponseDescription string    `json:"ResponseDescription"`
	MerchantRequestID   string    `json:"MerchantRequestID"`
	CheckoutRequestID   string    `json:"CheckoutRequestID"`
	ResultCode          mpesaCode `json:"ResultCode"`
	ResultDesc          string    `json:"ResultDesc"`
}

// Confirm queries the STK push status.
func (g *MpesaGateway) Confirm(ctx context.Context, ref string) (*domain.Outcome, error) {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	password, timestamp := g.password()
	body := stkQueryRequest{
		BusinessShortCode: g.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: ref,
	}

	var resp stkQueryResponse
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/mpesa/stkpushquery/v1/query", body, &resp, withBearer(token))
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && strings.Contains(gwErr.Body, mpesaStillProcessing) {
			return &domain.Outcome{Status: domain.OutcomePending, Reason: "transaction is being processed"}, nil
		}
		return nil, err
	}

	outcome := &domain.Outcome{
		Currency: "KES",
		Reason:   resp.ResultDesc,
		Metadata: rawJSON(raw),
	}
	switch resp.ResultCode {
	case "0":
		outcome.Status = domain.OutcomeSucceeded
	case "", "4999":
		outcome.Status = domain.OutcomePending
	default:
		// 1032 cancelled by user, 1037 unreachable, 2001 wrong PIN, 1 insufficient funds
		outcome.Status = domain.OutcomeFailed
	}
	return outcome, nil
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string    `json:"MerchantRequestID"`
			CheckoutRequestID string    `json:"CheckoutRequestID"`
			ResultCode        mpesaCode `json:"ResultCode"`
			ResultDesc        string    `json:"ResultDesc"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

func (g *MpesaGateway) ParseCallback(body []byte, _ http.Header, _ url.Values) (*domain.CallbackNotice, error) {
	var env stkCallbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, domain.NewInvalidRequestError("malformed M-PESA callback")
	}
	cb := env.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, domain.NewInvalidRequestError("M-PESA callback has no CheckoutRequestID")
	}
	return &domain.CallbackNotice{
		ExternalReference: cb.CheckoutRequestID,
		EventType:         "stkCallback:" + string(cb.ResultCode),
		MerchantReference: cb.MerchantRequestID,
	}, nil
}

func (g *MpesaGateway) password() (string, string) {
	timestamp := g.now().In(eat).Format(mpesaTimestampLayout)
	raw := g.cfg.ShortCode + g.cfg.Passkey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

// NormalizeMSISDN turns the common Kenyan mobile formats into 2547XXXXXXXX or 2541XXXXXXXX.
func NormalizeMSISDN(phone string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "254"):
	case strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case len(p) == 9 && (p[0] == '7' || p[0] == '1'):
		p = "254" + p
	}

	if len(p) != 12 || (p[3] != '7' && p[3] != '1') {
		return "", domain.NewInvalidRequestError("enter a valid Safaricom number, e.g. 0712345678")
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", domain.NewInvalidRequestError("enter a valid Safaricom number, e.g. 0712345678")
		}
	}
	return p, nil
}

// AccountReference is limited to 12 characters by Daraja.
func accountReference(orderID string) string {
	ref := strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))
	if len(ref) > 12 {
		ref = ref[:12]
	}
	return ref
}

// mpesaCode accepts result codes sent as either JSON numbers or strings.
type mpesaCode string

func (c *mpesaCode) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*c = mpesaCode(s)
	return nil
}

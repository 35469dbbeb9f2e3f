package notifier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/gateway"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/domain"
	"github.com/goccy/go-json"
)

// SMSSender posts to an Africa's Talking compatible bulk SMS endpoint.
type SMSSender struct {
	baseURL    string
	username   string
	apiKey     string
	senderID   string
	httpClient *http.Client
}

func NewSMSSender(cfg *config.NotificationConfig) *SMSSender {
	return &SMSSender{
		baseURL:    strings.TrimRight(cfg.SMSBaseURL, "/"),
		username:   cfg.SMSUsername,
		apiKey:     cfg.SMSAPIKey,
		senderID:   cfg.SMSSenderID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *SMSSender) Channel() string { return "sms" }

type smsResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			Number     string `json:"number"`
			Status     string `json:"status"`
			StatusCode int    `json:"statusCode"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (s *SMSSender) Send(ctx context.Context, n domain.Notification) error {
	if n.Phone == "" {
		return ErrNoRecipient
	}
	msisdn, err := gateway.NormalizeMSISDN(n.Phone)
	if err != nil {
		return ErrNoRecipient
	}

	form := url.Values{
		"username": {s.username},
		"to":       {"+" + msisdn},
		"message":  {n.Subject() + ". " + n.Body()},
	}
	if s.senderID != "" {
		form.Set("from", s.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/version1/messaging", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sms request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms provider returned status %d", resp.StatusCode)
	}

	var out smsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("decode sms response: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("sms not accepted: %s", out.SMSMessageData.Message)
	}
	// 100 processed, 101 sent, 102 queued
	if r := out.SMSMessageData.Recipients[0]; r.StatusCode < 100 || r.StatusCode > 102 {
		return fmt.Errorf("sms to %s rejected: %s", r.Number, r.Status)
	}
	return nil
}

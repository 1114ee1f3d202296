// File: internal/infra/adapters/notify/sms_africastalking.go
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"
)

var _ adapter.Notifier = (*AfricasTalkingSMS)(nil)

// AfricasTalkingSMS sends customer SMS through the Africa's Talking
// messaging API.
type AfricasTalkingSMS struct {
	username string
	apiKey   string
	senderID string
	endpoint string
	client   *http.Client
}

func NewAfricasTalkingSMS(cfg config.SMSConfig) (*AfricasTalkingSMS, error) {
	if cfg.Username == "" || cfg.APIKey == "" {
		return nil, errors.New("africastalking credentials empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.africastalking.com"
	}
	return &AfricasTalkingSMS{
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		senderID: cfg.SenderID,
		endpoint: base + "/version1/messaging",
		client:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type atResponse struct {
	SMSMessageData struct {
		Message    string `json:"Message"`
		Recipients []struct {
			StatusCode int    `json:"statusCode"`
			Number     string `json:"number"`
			Status     string `json:"status"`
			MessageID  string `json:"messageId"`
		} `json:"Recipients"`
	} `json:"SMSMessageData"`
}

func (s *AfricasTalkingSMS) Send(ctx context.Context, to, message string) error {
	phone, err := model.NormalizePhone(to)
	if err != nil {
		return fmt.Errorf("sms recipient %q: %w", to, err)
	}
	form := url.Values{}
	form.Set("username", s.username)
	form.Set("to", "+"+phone)
	form.Set("message", message)
	if s.senderID != "" {
		form.Set("from", s.senderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apiKey", s.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("africastalking: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out atResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("africastalking: decode response: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("africastalking: no recipients accepted: %s", out.SMSMessageData.Message)
	}
	for _, r := range out.SMSMessageData.Recipients {
		// 100 processed, 101 sent, 102 queued
		if r.StatusCode < 100 || r.StatusCode > 102 {
			return fmt.Errorf("africastalking: %s: %s (%d)", r.Number, r.Status, r.StatusCode)
		}
	}
	return nil
}

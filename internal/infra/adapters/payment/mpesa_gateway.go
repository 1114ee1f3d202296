// File: internal/infra/adapters/payment/mpesa_gateway.go
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/model"
	"hotspot-billing/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

var _ adapter.PaymentGateway = (*MpesaGateway)(nil)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// Daraja answers a status query for an unanswered prompt with this code.
	queryInProgressCode = "500.001.1001"
)

// Daraja timestamps are East Africa Time regardless of where we run.
var eat = time.FixedZone("EAT", 3*60*60)

// MpesaGateway talks to the Safaricom Daraja STK push API.
type MpesaGateway struct {
	cfg     config.MpesaConfig
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	now     func() time.Time
	log     *zerolog.Logger

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewMpesaGateway(cfg config.MpesaConfig, logger *zerolog.Logger) (*MpesaGateway, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.ShortCode == "" || cfg.PassKey == "" {
		return nil, errors.New("mpesa credentials empty")
	}
	base := cfg.BaseURL
	if base == "" {
		base = sandboxBaseURL
		if cfg.Environment == "production" {
			base = productionBaseURL
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	compLog := logger.With().Str("component", "MpesaGateway").Logger()
	g := &MpesaGateway{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		log:     &compLog,
	}
	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "mpesa",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		// a refused request proves the API is up
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, domain.ErrGatewayRejected) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return g, nil
}

func (g *MpesaGateway) Name() string { return "mpesa" }

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	darajaError
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
	darajaError
}

// InitiatePush sends an STK push. Amounts are rounded to whole shillings.
func (g *MpesaGateway) InitiatePush(ctx context.Context, req adapter.PushRequest) (adapter.PushResult, error) {
	phone, err := model.NormalizePhone(req.Phone)
	if err != nil {
		return adapter.PushResult{}, fmt.Errorf("%w: phone %q", domain.ErrGatewayRejected, req.Phone)
	}
	amount := model.WholeUnits(req.Amount)
	if amount <= 0 {
		return adapter.PushResult{}, fmt.Errorf("%w: amount %d", domain.ErrGatewayRejected, req.Amount)
	}
	password, ts := g.password()
	payload := map[string]any{
		"BusinessShortCode": g.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            amount,
		"PartyA":            phone,
		"PartyB":            g.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       g.cfg.CallbackURL,
		"AccountReference":  truncate(req.Reference, 12),
		"TransactionDesc":   truncate(req.Description, 13),
	}

	var resp stkPushResponse
	_, err = g.guarded(func() (any, error) {
		return nil, g.call(ctx, "/mpesa/stkpush/v1/processrequest", payload, &resp)
	})
	if err != nil {
		return adapter.PushResult{}, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return adapter.PushResult{}, fmt.Errorf("%w: response code %q: %s", domain.ErrGatewayRejected, resp.ResponseCode, resp.ResponseDescription)
	}
	return adapter.PushResult{
		CorrelationID:     resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// QueryPush asks Daraja for the outcome of a push. A prompt the customer has
// not answered yet comes back with Pending set.
func (g *MpesaGateway) QueryPush(ctx context.Context, correlationID string) (adapter.CallbackResult, error) {
	if correlationID == "" {
		return adapter.CallbackResult{}, fmt.Errorf("%w: empty correlation id", domain.ErrInvalidArgument)
	}
	password, ts := g.password()
	payload := map[string]any{
		"BusinessShortCode": g.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         ts,
		"CheckoutRequestID": correlationID,
	}

	var resp stkQueryResponse
	_, err := g.guarded(func() (any, error) {
		err := g.call(ctx, "/mpesa/stkpushquery/v1/query", payload, &resp)
		if err != nil && resp.ErrorCode == queryInProgressCode {
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return adapter.CallbackResult{}, err
	}
	if resp.ErrorCode == queryInProgressCode || resp.ResultCode == "" {
		return adapter.CallbackResult{CorrelationID: correlationID, Pending: true}, nil
	}
	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return adapter.CallbackResult{}, fmt.Errorf("%w: result code %q", domain.ErrGatewayUnavailable, resp.ResultCode)
	}
	return adapter.CallbackResult{
		CorrelationID: correlationID,
		Success:       code == 0,
		ResultCode:    code,
		ResultDesc:    resp.ResultDesc,
	}, nil
}

// guarded runs fn behind the breaker; an open breaker reads as unavailable.
func (g *MpesaGateway) guarded(fn func() (any, error)) (any, error) {
	out, err := g.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	return out, err
}

// call posts payload with a bearer token and decodes the JSON answer into out
// whatever the status, so callers can inspect Daraja error codes.
func (g *MpesaGateway) call(ctx context.Context, path string, payload any, out any) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", domain.ErrGatewayUnavailable, err)
	}
	decodeErr := json.Unmarshal(raw, out)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		g.dropToken()
		return fmt.Errorf("%w: %s returned 401", domain.ErrGatewayUnavailable, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrGatewayUnavailable, path, resp.StatusCode, snippet(raw))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s returned %d: %s", domain.ErrGatewayRejected, path, resp.StatusCode, snippet(raw))
	case decodeErr != nil:
		return fmt.Errorf("%w: decode %s: %v", domain.ErrGatewayUnavailable, path, decodeErr)
	}
	return nil
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

// accessToken returns a cached OAuth token, refreshing it a minute early.
func (g *MpesaGateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && g.now().Before(g.tokenExp) {
		return g.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.SetBasicAuth(g.cfg.ConsumerKey, g.cfg.ConsumerSecret)
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %d: %s", domain.ErrGatewayUnavailable, resp.StatusCode, snippet(raw))
	}
	var tok oauthResponse
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: malformed token response", domain.ErrGatewayUnavailable)
	}
	ttl := time.Hour
	if secs, err := strconv.Atoi(tok.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	if ttl > 2*time.Minute {
		ttl -= time.Minute
	}
	g.token = tok.AccessToken
	g.tokenExp = g.now().Add(ttl)
	return g.token, nil
}

func (g *MpesaGateway) dropToken() {
	g.mu.Lock()
	g.token = ""
	g.mu.Unlock()
}

// password is base64(shortcode + passkey + timestamp).
func (g *MpesaGateway) password() (string, string) {
	ts := g.now().In(eat).Format("20060102150405")
	return base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.PassKey + ts)), ts
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

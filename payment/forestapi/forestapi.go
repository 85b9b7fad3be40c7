// Package forestapi implements market.PaymentGateway on top of the
// ForestAPI host to host deposit API.
package forestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	market "github.com/goliatone/go-market"
)

const (
	defaultBaseURL = "https://forestapi.web.id/api/h2h"
	statusSuccess  = "success"
	statusActive   = "active"
	expiresLayout  = "2006-01-02 15:04:05"
)

// Config holds the gateway credentials
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     market.Logger
}

// Client talks to ForestAPI
type Client struct {
	config     Config
	httpClient *http.Client
	logger     market.Logger
}

var _ market.PaymentGateway = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	return &Client{
		config:     cfg,
		httpClient: client,
		logger:     logger,
	}
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type methodPayload struct {
	Code    string `json:"metode"`
	Name    string `json:"name"`
	Minimum amount `json:"minimum"`
	Maximum amount `json:"maximum"`
	Status  string `json:"status"`
}

type depositPayload struct {
	ID            string `json:"id"`
	ReferenceID   string `json:"reff_id"`
	Nominal       amount `json:"nominal"`
	Fee           amount `json:"fee"`
	Balance       amount `json:"get_balance"`
	QRImageURL    string `json:"qr_image_url"`
	QRImageString string `json:"qr_image_string"`
	Status        string `json:"status"`
	ExpiredAt     string `json:"expired_at"`
}

// Methods lists every deposit method, active or not
func (c *Client) Methods(ctx context.Context) ([]market.PaymentMethod, error) {
	params := url.Values{"api_key": {c.config.APIKey}}

	env, err := c.get(ctx, "/deposit/methods", params)
	if err != nil {
		return nil, err
	}
	if env.Status != statusSuccess {
		return nil, market.WrapUpstream(fmt.Errorf("forestapi: %s", env.Message), "Could not load payment methods.")
	}

	var payload []methodPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("forestapi: decode methods: %w", err)
	}

	methods := make([]market.PaymentMethod, 0, len(payload))
	for _, m := range payload {
		methods = append(methods, market.PaymentMethod{
			Code:    m.Code,
			Name:    m.Name,
			Minimum: int64(m.Minimum),
			Maximum: int64(m.Maximum),
			Active:  m.Status == statusActive,
		})
	}
	return methods, nil
}

// CreateDeposit opens a deposit. The platform absorbs the fee, so the
// credited balance is the nominal minus the fee.
func (c *Client) CreateDeposit(ctx context.Context, req market.DepositRequest) (*market.DepositReceipt, error) {
	params := url.Values{
		"api_key":         {c.config.APIKey},
		"reff_id":         {req.ReferenceID},
		"method":          {req.Method},
		"phone_number":    {req.PhoneNumber},
		"fee_by_customer": {"false"},
		"nominal":         {strconv.FormatInt(req.Amount, 10)},
	}

	env, err := c.get(ctx, "/deposit/create", params)
	if err != nil {
		return nil, err
	}

	if env.Status != statusSuccess || len(env.Data) == 0 || string(env.Data) == "null" {
		msg := env.Message
		if msg == "" {
			msg = "Please try again."
		}
		return nil, market.WrapUpstream(
			fmt.Errorf("forestapi: deposit %s rejected: %s", req.ReferenceID, env.Message),
			"Payment initiation failed: "+msg,
		)
	}

	var payload depositPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("forestapi: decode deposit: %w", err)
	}

	raw := map[string]any{}
	if err := json.Unmarshal(env.raw, &raw); err != nil {
		c.logger.Warn("forestapi: keep raw reply: %v", err)
	}

	receipt := &market.DepositReceipt{
		GatewayID:     payload.ID,
		Amount:        int64(payload.Nominal),
		Fee:           int64(payload.Fee),
		NetAmount:     int64(payload.Balance),
		QRImageURL:    payload.QRImageURL,
		QRImageString: payload.QRImageString,
		Status:        market.DepositStatus(strings.ToLower(payload.Status)),
		Raw:           raw,
	}
	if receipt.Amount == 0 {
		receipt.Amount = req.Amount
	}
	if payload.ExpiredAt != "" {
		if at, err := time.ParseInLocation(expiresLayout, payload.ExpiredAt, time.UTC); err == nil {
			receipt.ExpiresAt = &at
		} else {
			c.logger.Warn("forestapi: unparsable expired_at %q: %v", payload.ExpiredAt, err)
		}
	}
	return receipt, nil
}

type reply struct {
	envelope
	raw []byte
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forestapi: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("forestapi: read %s: %w", path, err)
	}

	out := &reply{raw: body}
	if err := json.Unmarshal(body, &out.envelope); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("forestapi: %s returned status %d", path, resp.StatusCode)
		}
		return nil, fmt.Errorf("forestapi: decode %s: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest && out.Status != statusSuccess {
		c.logger.Warn("forestapi: %s returned status %d: %s", path, resp.StatusCode, out.Message)
		if out.Message == "" {
			return nil, fmt.Errorf("forestapi: %s returned status %d", path, resp.StatusCode)
		}
	}
	return out, nil
}

// amount accepts both JSON numbers and numeric strings
type amount int64

func (a *amount) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", string(b), err)
	}
	*a = amount(f)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrGatewayTimeout means the provider never answered within the retry
// budget. Distinct from a definitive decline: the caller may safely retry
// the same call, nothing was settled either way.
var ErrGatewayTimeout = errors.New("payment gateway timed out")

// GatewayError is a definitive provider-side rejection carrying the
// provider's own message.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return "paystack: " + e.Message
	}
	return fmt.Sprintf("paystack: error (%d)", e.StatusCode)
}

type Client struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration // per attempt
	Retries   int           // extra attempts for idempotent calls
	HTTP      *http.Client
}

func New(baseURL, secretKey string, timeout time.Duration, retries int) *Client {
	return &Client{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		Timeout:   timeout,
		Retries:   retries,
		HTTP:      &http.Client{},
	}
}

type Metadata struct {
	OrderID string `json:"order_id"`
}

type InitializeRequest struct {
	Email       string   `json:"email"`
	AmountKobo  int      `json:"amount"`
	Reference   string   `json:"reference"`
	Subaccount  string   `json:"subaccount,omitempty"`
	CallbackURL string   `json:"callback_url"`
	Metadata    Metadata `json:"metadata"`
}

type Session struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Verification struct {
	Succeeded     bool
	GatewayStatus string
	OrderID       string
}

type apiResponse struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initialize opens a payment session. Never retried: a replay could create a
// second session on the provider for the same order.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (Session, error) {
	var s Session
	data, err := c.request(ctx, http.MethodPost, "/transaction/initialize", req, 0)
	if err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, fmt.Errorf("decode initialize response: %w", err)
	}
	return s, nil
}

// Verify asks the provider for the final word on a reference. Safe to retry,
// so transport failures are retried with linear backoff before giving up
// with ErrGatewayTimeout. A decline is a result, not an error.
func (c *Client) Verify(ctx context.Context, reference string) (Verification, error) {
	data, err := c.request(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, c.Retries)
	if err != nil {
		return Verification{}, err
	}
	var body struct {
		Status    string   `json:"status"`
		Reference string   `json:"reference"`
		Metadata  Metadata `json:"metadata"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return Verification{}, fmt.Errorf("decode verify response: %w", err)
	}
	return Verification{
		Succeeded:     body.Status == "success",
		GatewayStatus: body.Status,
		OrderID:       body.Metadata.OrderID,
	}, nil
}

type SubaccountRequest struct {
	BusinessName     string  `json:"business_name"`
	BankCode         string  `json:"bank_code"`
	AccountNumber    string  `json:"account_number"`
	PercentageCharge float64 `json:"percentage_charge"`
}

// CreateSubaccount registers a settlement split account for a store.
func (c *Client) CreateSubaccount(ctx context.Context, req SubaccountRequest) (string, error) {
	data, err := c.request(ctx, http.MethodPost, "/subaccount", req, 0)
	if err != nil {
		return "", err
	}
	var body struct {
		SubaccountCode string `json:"subaccount_code"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return "", fmt.Errorf("decode subaccount response: %w", err)
	}
	return body.SubaccountCode, nil
}

type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Slug string `json:"slug"`
}

func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	data, err := c.request(ctx, http.MethodGet, "/bank?country=nigeria", nil, c.Retries)
	if err != nil {
		return nil, err
	}
	var banks []Bank
	if err := json.Unmarshal(data, &banks); err != nil {
		return nil, fmt.Errorf("decode banks response: %w", err)
	}
	return banks, nil
}

// request runs one call with a per-attempt timeout. Transport failures are
// retried up to retries times with linear backoff; an HTTP response with a
// non-2xx code or status=false is definitive and never retried.
func (c *Client) request(ctx context.Context, method, path string, payload any, retries int) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, ctx.Err())
			}
		}

		data, err := c.attempt(ctx, method, path, body)
		if err == nil {
			return data, nil
		}
		var ge *GatewayError
		if errors.As(err, &ge) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayTimeout, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	actx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(actx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 || !out.Status {
		return nil, &GatewayError{StatusCode: res.StatusCode, Message: out.Message}
	}
	return out.Data, nil
}

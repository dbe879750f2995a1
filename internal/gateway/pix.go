package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// Typed gateway failures. CreateCharge never mutates local state, so every
// one of these is safe to surface to the user as "try again shortly" or to
// retry outright.
var (
	ErrAuthFailure = errors.New("gateway rejected credentials")
	ErrRateLimited = errors.New("gateway rate limited")
	ErrGatewayDown = errors.New("gateway unavailable")
)

// Client is the outbound adapter for the PIX provider's charge API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	http         *http.Client
}

// Charge is the provider's answer to a charge creation: the copia-e-cola
// payload the user pays, plus the provider-side transaction id that will come
// back on the webhook.
type Charge struct {
	Identifier    string    `json:"identifier"`
	TransactionID string    `json:"transactionId"`
	QRCodeText    string    `json:"qrcode"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// ChargeRequest carries everything the provider needs to emit a PIX QR code.
// Amount is in centavos.
type ChargeRequest struct {
	Identifier    string `json:"identifier"`
	Amount        int64  `json:"amount"`
	PayerName     string `json:"payerName"`
	PayerDocument string `json:"payerDocument"`
	ExpiresIn     int    `json:"expiresIn"` // seconds
}

// WebhookPayload is the gateway's payment-event body for POST /webhook/pix.
type WebhookPayload struct {
	Event       string `json:"event"`
	Status      string `json:"status"`
	Transaction struct {
		Identifier    string `json:"identifier"`
		TransactionID string `json:"transactionId"`
		Amount        int64  `json:"amount"`
	} `json:"transaction"`
}

// Gateway statuses reported on webhooks.
const (
	StatusPaid     = "PAID"
	StatusFailed   = "FAILED"
	StatusExpired  = "EXPIRED"
	StatusRefunded = "REFUNDED"
)

func NewClient() *Client {
	viper.SetDefault("gateway.base_url", "https://api.pix-provider.example")
	viper.SetDefault("gateway.timeout", 15*time.Second)

	return &Client{
		baseURL:      viper.GetString("gateway.base_url"),
		clientID:     viper.GetString("gateway.client_id"),
		clientSecret: viper.GetString("gateway.client_secret"),
		http:         &http.Client{Timeout: viper.GetDuration("gateway.timeout")},
	}
}

// NewClientWith builds a client against an explicit endpoint. Used by tests.
func NewClientWith(baseURL, clientID, clientSecret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: baseURL, clientID: clientID, clientSecret: clientSecret, http: httpClient}
}

// CreateCharge asks the provider for a PIX QR code. On any failure the caller
// holds no local state yet; a DepositIntent is only persisted after this
// returns successfully.
func (c *Client) CreateCharge(ctx context.Context, req *ChargeRequest) (*Charge, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/pix/qrcode", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("ci", c.clientID)
	httpReq.Header.Set("cs", c.clientSecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Printf("[GATEWAY] Create charge network error for %s: %v", req.Identifier, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayDown, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp.StatusCode); err != nil {
		log.Printf("[GATEWAY] Create charge for %s returned %d", req.Identifier, resp.StatusCode)
		return nil, err
	}

	var charge Charge
	if err := json.NewDecoder(resp.Body).Decode(&charge); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrGatewayDown, err)
	}
	charge.Identifier = req.Identifier
	charge.Amount = req.Amount
	if charge.ExpiresAt.IsZero() {
		charge.ExpiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}

	return &charge, nil
}

// ChargeStatus polls the provider for a transaction's current status. The
// local database stays the source of truth; this exists for diagnostics and
// late-settlement review.
func (c *Client) ChargeStatus(ctx context.Context, transactionID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/pix/qrcode/"+transactionID, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("ci", c.clientID)
	httpReq.Header.Set("cs", c.clientSecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayDown, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp.StatusCode); err != nil {
		return "", err
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: malformed response: %v", ErrGatewayDown, err)
	}
	return body.Status, nil
}

func (c *Client) checkStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthFailure
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrGatewayDown
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrGatewayDown, code)
	}
}

// VerifyWebhookSignature checks the HMAC-SHA256 of the raw body against the
// hex signature header the gateway sends.
func VerifyWebhookSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignWebhookBody produces the signature the gateway would send. Used by
// tests and the local webhook replay tool.
func SignWebhookBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

/**
 * @description
 * This package provides a client for the Paystack payment aggregator. It builds the
 * vendor-shaped payloads (amounts in kobo), executes authenticated HTTP requests and
 * parses responses into normalized results. It also verifies webhook signatures.
 * The client holds no ledger state.
 *
 * @dependencies
 * - bytes, context, crypto/hmac, crypto/sha512, encoding/json, net/http: Standard Go libraries.
 * - github.com/shopspring/decimal: Fixed-point money and minor-unit scaling.
 * - pkg/gateway: Error classification shared by all adapters.
 */
package paystackclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/shopspring/decimal"
)

const (
	provider = "paystack"

	// SignatureHeader carries the HMAC-SHA512 of the raw webhook body.
	SignatureHeader = "x-paystack-signature"

	// EventChargeSuccess is the only webhook event that settles a pending credit.
	EventChargeSuccess = "charge.success"

	defaultBaseURL = "https://api.paystack.co"
)

var minorUnitFactor = decimal.NewFromInt(100)

// Client is a client for the Paystack API.
type Client struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	HTTPClient  *http.Client
}

// NewClient creates a new Paystack API client. The timeout bounds every call.
func NewClient(baseURL, secretKey, callbackURL string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		SecretKey:   secretKey,
		CallbackURL: callbackURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ToMinorUnits converts a naira amount to kobo.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// FromMinorUnits converts kobo to a naira amount with two fractional digits.
func FromMinorUnits(kobo int64) decimal.Decimal {
	return decimal.New(kobo, -2)
}

// Metadata is attached to a charge and echoed back on verify and webhook payloads.
type Metadata struct {
	AccountNumber string `json:"account_number"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Amount        string `json:"amount,omitempty"`
}

// InitializeRequest is the input for starting a charge.
type InitializeRequest struct {
	Email     string
	Amount    decimal.Decimal
	Reference string
	Metadata  Metadata
}

type initializePayload struct {
	Email       string   `json:"email"`
	Amount      int64    `json:"amount"`
	Reference   string   `json:"reference,omitempty"`
	CallbackURL string   `json:"callback_url,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// InitializeResult is the normalized response of a successful initialization.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// VerifyResult is the normalized response of verify-by-reference.
type VerifyResult struct {
	Status          gateway.Status
	RawStatus       string
	Reference       string
	Amount          decimal.Decimal
	Currency        string
	GatewayResponse string
	Metadata        Metadata
}

// Bank is one entry of Paystack's bank list.
type Bank struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Slug             string `json:"slug"`
	Code             string `json:"code"`
	LongCode         string `json:"longcode"`
	PayWithBank      bool   `json:"pay_with_bank"`
	SupportsTransfer bool   `json:"supports_transfer"`
	Active           bool   `json:"active"`
	Country          string `json:"country"`
	Currency         string `json:"currency"`
	Type             string `json:"type"`
}

// ResolvedAccount is the account holder returned by bank resolve.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankID        int64  `json:"bank_id"`
}

// envelope is the shape shared by every Paystack response.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeTransaction starts a charge for the given amount. The returned reference is the
// idempotency key for the pending credit.
func (c *Client) InitializeTransaction(ctx context.Context, in InitializeRequest) (*InitializeResult, error) {
	payload := initializePayload{
		Email:       in.Email,
		Amount:      ToMinorUnits(in.Amount),
		Reference:   in.Reference,
		CallbackURL: c.CallbackURL,
		Metadata:    in.Metadata,
	}
	if payload.Metadata.Amount == "" {
		payload.Metadata.Amount = in.Amount.StringFixed(2)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}
	if data.Reference == "" {
		return nil, gateway.Rejected(provider, "initialize", "response carried no reference")
	}

	return &InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// VerifyTransaction fetches the authoritative state of a charge by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	var data struct {
		Reference       string          `json:"reference"`
		Status          string          `json:"status"`
		Amount          int64           `json:"amount"`
		Currency        string          `json:"currency"`
		GatewayResponse string          `json:"gateway_response"`
		Metadata        json.RawMessage `json:"metadata"`
	}
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, "verify", http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Status:          NormalizeChargeStatus(data.Status),
		RawStatus:       data.Status,
		Reference:       data.Reference,
		Amount:          FromMinorUnits(data.Amount),
		Currency:        data.Currency,
		GatewayResponse: data.GatewayResponse,
	}
	// metadata is an object when set at initialization but Paystack returns "" or 0 otherwise.
	if len(data.Metadata) > 0 && data.Metadata[0] == '{' {
		if err := json.Unmarshal(data.Metadata, &result.Metadata); err != nil {
			log.Printf("level=warn component=paystack_client op=verify reference=%s msg=\"metadata not decodable\" err=%v", reference, err)
		}
	}
	return result, nil
}

// ListBanks returns the Nigerian bank catalog.
func (c *Client) ListBanks(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	if err := c.do(ctx, "list_banks", http.MethodGet, "/bank?country=nigeria&perPage=100", nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

// ResolveAccount confirms the holder name of an external bank account.
func (c *Client) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	query := url.Values{}
	query.Set("account_number", accountNumber)
	query.Set("bank_code", bankCode)

	var resolved ResolvedAccount
	if err := c.do(ctx, "resolve_account", http.MethodGet, "/bank/resolve?"+query.Encode(), nil, &resolved); err != nil {
		return nil, err
	}
	return &resolved, nil
}

// VerifySignature checks the webhook signature header against the raw body.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	return ValidSignature(c.SecretKey, body, signature)
}

// ValidSignature reports whether signature is the hex HMAC-SHA512 of body under secret.
func ValidSignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign returns the signature Paystack would send for body. Used by tests and tooling.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// NormalizeChargeStatus maps Paystack charge statuses to the gateway vocabulary.
func NormalizeChargeStatus(status string) gateway.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return gateway.StatusSuccess
	case "failed", "abandoned", "reversed":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

// do executes a request and decodes the envelope's data field into out.
func (c *Client) do(ctx context.Context, op, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return gateway.TransportError(provider, op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.TransportError(provider, op, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := env.Message
		if decodeErr != nil || message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		log.Printf("level=warn component=paystack_client op=%s status=%d msg=%q", op, resp.StatusCode, message)
		return gateway.StatusError(provider, op, resp.StatusCode, message)
	}
	if decodeErr != nil {
		return gateway.TransportError(provider, op, fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if !env.Status {
		log.Printf("level=warn component=paystack_client op=%s msg=%q", op, env.Message)
		return gateway.Rejected(provider, op, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return gateway.TransportError(provider, op, fmt.Errorf("failed to decode response data: %w", err))
	}
	return nil
}

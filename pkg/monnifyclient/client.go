/**
 * @description
 * This package provides a client for the Monnify transfer gateway used for outbound bank
 * disbursements. Access tokens are short-lived and fetched per call by the caller; the
 * client keeps no credential cache and performs no ledger writes.
 *
 * @dependencies
 * - bytes, context, encoding/base64, encoding/json, net/http, time: Standard Go libraries.
 * - github.com/shopspring/decimal: Disbursement amounts in naira.
 * - pkg/gateway: Error classification shared by all adapters.
 */
package monnifyclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/shopspring/decimal"
)

const (
	provider        = "monnify"
	defaultCurrency = "NGN"
)

// Client is a client for the Monnify API.
type Client struct {
	BaseURL             string
	APIKey              string
	SecretKey           string
	SourceAccountNumber string
	HTTPClient          *http.Client
}

// NewClient creates a new Monnify API client. The timeout bounds every call.
func NewClient(baseURL, apiKey, secretKey, sourceAccountNumber string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:             strings.TrimSuffix(baseURL, "/"),
		APIKey:              apiKey,
		SecretKey:           secretKey,
		SourceAccountNumber: sourceAccountNumber,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ReceiverDetails identifies the external beneficiary in disbursement metadata.
type ReceiverDetails struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
}

// DisbursementRequest is the input for a single outbound transfer.
type DisbursementRequest struct {
	Amount                   decimal.Decimal
	Reference                string
	Narration                string
	DestinationBankCode      string
	DestinationAccountNumber string
	Receiver                 ReceiverDetails
	SenderUserID             string
}

type disbursementPayload struct {
	Amount                   json.Number          `json:"amount"`
	Reference                string               `json:"reference"`
	Narration                string               `json:"narration"`
	DestinationBankCode      string               `json:"destinationBankCode"`
	DestinationAccountNumber string               `json:"destinationAccountNumber"`
	SourceAccountNumber      string               `json:"sourceAccountNumber"`
	Currency                 string               `json:"currency"`
	Metadata                 disbursementMetadata `json:"metadata"`
}

type disbursementMetadata struct {
	ReceiverDetails ReceiverDetails `json:"receiverDetails"`
	SenderDetails   struct {
		UserID string `json:"user_id"`
	} `json:"senderDetails"`
}

// DisbursementResult is the normalized synchronous response of a disbursement.
type DisbursementResult struct {
	Status              gateway.Status
	RawStatus           string
	Reference           string
	Amount              decimal.Decimal
	DestinationBankName string
}

// envelope is the shape shared by every Monnify response.
type envelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

// Login exchanges the API key and secret for a bearer token.
func (c *Client) Login(ctx context.Context) (string, error) {
	credential := base64.StdEncoding.EncodeToString([]byte(c.APIKey + ":" + c.SecretKey))

	var body struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := c.do(ctx, "login", "/api/v1/auth/login", "Basic "+credential, struct{}{}, &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", gateway.Rejected(provider, "login", "response carried no access token")
	}
	return body.AccessToken, nil
}

// InitiateSingleTransfer requests a single disbursement with a bearer token from Login.
func (c *Client) InitiateSingleTransfer(ctx context.Context, accessToken string, in DisbursementRequest) (*DisbursementResult, error) {
	payload := disbursementPayload{
		Amount:                   json.Number(in.Amount.StringFixed(2)),
		Reference:                in.Reference,
		Narration:                in.Narration,
		DestinationBankCode:      in.DestinationBankCode,
		DestinationAccountNumber: in.DestinationAccountNumber,
		SourceAccountNumber:      c.SourceAccountNumber,
		Currency:                 defaultCurrency,
	}
	payload.Metadata.ReceiverDetails = in.Receiver
	payload.Metadata.SenderDetails.UserID = in.SenderUserID

	var body struct {
		Amount              decimal.Decimal `json:"amount"`
		Reference           string          `json:"reference"`
		Status              string          `json:"status"`
		DestinationBankName string          `json:"destinationBankName"`
	}
	if err := c.do(ctx, "disburse", "/api/v2/disbursements/single", "Bearer "+accessToken, payload, &body); err != nil {
		return nil, err
	}

	result := &DisbursementResult{
		Status:              NormalizeDisbursementStatus(body.Status),
		RawStatus:           body.Status,
		Reference:           body.Reference,
		Amount:              body.Amount,
		DestinationBankName: body.DestinationBankName,
	}
	if result.Reference == "" {
		result.Reference = in.Reference
	}
	return result, nil
}

// NormalizeDisbursementStatus maps Monnify disbursement statuses to the gateway vocabulary.
// Anything not explicitly terminal is treated as pending.
func NormalizeDisbursementStatus(status string) gateway.Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS":
		return gateway.StatusSuccess
	case "FAILED", "REVERSED", "EXPIRED":
		return gateway.StatusFailed
	default:
		return gateway.StatusPending
	}
}

// do posts payload and decodes the envelope's responseBody into out.
func (c *Client) do(ctx context.Context, op, path, authorization string, payload interface{}, out interface{}) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", authorization)

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
		message := env.ResponseMessage
		if decodeErr != nil || message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		log.Printf("level=warn component=monnify_client op=%s status=%d code=%s msg=%q", op, resp.StatusCode, env.ResponseCode, message)
		return gateway.StatusError(provider, op, resp.StatusCode, message)
	}
	if decodeErr != nil {
		return gateway.TransportError(provider, op, fmt.Errorf("failed to decode response: %w", decodeErr))
	}
	if !env.RequestSuccessful {
		log.Printf("level=warn component=monnify_client op=%s code=%s msg=%q", op, env.ResponseCode, env.ResponseMessage)
		return gateway.Rejected(provider, op, env.ResponseMessage)
	}
	if len(env.ResponseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.ResponseBody, out); err != nil {
		return gateway.TransportError(provider, op, fmt.Errorf("failed to decode response body: %w", err))
	}
	return nil
}

// Package gateway is the HTTP adapter for the external bank-transfer
// charge API. Only the contract this pipeline consumes is modelled:
// create a one-time transfer charge, read back the authorization.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jcmexdev/marketplace/internal/core/ports"
)

// Client implements ports.PaymentGateway against the provider's REST
// API. Every call is bounded by the configured client timeout on top of
// whatever deadline the caller's context carries.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

// chargePayload is the provider's charge-creation request body.
// is_permanent is always false: the virtual account exists only for
// this one checkout.
type chargePayload struct {
	Email       string `json:"email"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	TxRef       string `json:"tx_ref"`
	FullName    string `json:"fullname"`
	PhoneNumber string `json:"phone_number"`
	IsPermanent bool   `json:"is_permanent"`
}

type chargeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Meta    struct {
		Authorization json.RawMessage `json:"authorization"`
	} `json:"meta"`
}

type chargeAuthorization struct {
	TransferReference string `json:"transfer_reference"`
}

// CreateCharge posts a bank-transfer charge and extracts the transfer
// reference plus the verbatim authorization object. Transport errors,
// non-2xx statuses, malformed bodies and explicit non-success statuses
// all map to ports.ErrPaymentInitiation so the caller treats them
// uniformly.
func (c *Client) CreateCharge(ctx context.Context, req ports.ChargeRequest) (*ports.ChargeAuthorization, error) {
	body, err := json.Marshal(chargePayload{
		Email:       req.Email,
		Amount:      req.Amount.String(),
		Currency:    req.Currency,
		TxRef:       req.TxRef,
		FullName:    req.FullName,
		PhoneNumber: req.Phone,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal charge: %w", err)
	}

	url := c.baseURL + "/charges?type=bank_transfer"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: charge request: %v: %w", err, ports.ErrPaymentInitiation)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway: read response: %v: %w", err, ports.ErrPaymentInitiation)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway: charge returned HTTP %d: %w", resp.StatusCode, ports.ErrPaymentInitiation)
	}

	var parsed chargeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("gateway: malformed response: %v: %w", err, ports.ErrPaymentInitiation)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("gateway: charge declined (%s): %w", parsed.Message, ports.ErrPaymentInitiation)
	}

	var auth chargeAuthorization
	if err := json.Unmarshal(parsed.Meta.Authorization, &auth); err != nil || auth.TransferReference == "" {
		return nil, fmt.Errorf("gateway: response missing transfer reference: %w", ports.ErrPaymentInitiation)
	}

	return &ports.ChargeAuthorization{
		TransferReference: auth.TransferReference,
		Raw:               parsed.Meta.Authorization,
	}, nil
}

// Package ml is the HTTP client for the external fraud-scoring model.
// The model is a collaborator: its score feeds the ensemble, and when it is
// unreachable the pipeline degrades its contribution to zero.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// PredictRequest is the wire request to the model endpoint.
type PredictRequest struct {
	TransactionID string                 `json:"transactionId"`
	TenantID      string                 `json:"tenantId"`
	Amount        float64                `json:"amount"`
	Currency      string                 `json:"currency"`
	Channel       string                 `json:"channel"`
	Type          string                 `json:"type"`
	UserID        string                 `json:"userId"`
	MerchantID    string                 `json:"merchantId,omitempty"`
	DeviceID      string                 `json:"deviceId,omitempty"`
	IPAddress     string                 `json:"ipAddress,omitempty"`
	Country       string                 `json:"country,omitempty"`
	PaymentMethod string                 `json:"paymentMethod,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Features      map[string]interface{} `json:"features,omitempty"`
}

// PredictResponse is the wire response from the model endpoint.
type PredictResponse struct {
	Score        float64                `json:"score"` // 0-100
	IsFraudulent bool                   `json:"isFraudulent"`
	Explanation  map[string]interface{} `json:"explanation,omitempty"`
}

// Client calls the model over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the given endpoint. The timeout bounds the
// whole request; the pipeline adds its own context deadline on top.
func NewClient(cfg domain.MLConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

// Predict scores the transaction. The response score is clamped to [0, 100]
// so a misbehaving model cannot push the ensemble out of range.
func (c *Client) Predict(ctx context.Context, tx *domain.Transaction) (*domain.MLResult, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ml endpoint not configured")
	}

	body, err := json.Marshal(PredictRequest{
		TransactionID: tx.ID,
		TenantID:      tx.TenantID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Channel:       string(tx.Channel),
		Type:          tx.Type,
		UserID:        tx.UserID,
		MerchantID:    tx.MerchantID,
		DeviceID:      tx.DeviceID,
		IPAddress:     tx.IPAddress,
		Country:       tx.Country,
		PaymentMethod: tx.PaymentMethod,
		Timestamp:     tx.Timestamp,
		Features:      tx.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("model returned %d: %s", resp.StatusCode, snippet)
	}

	var pr PredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	return &domain.MLResult{
		Score:        domain.ClampScore(pr.Score),
		IsFraudulent: pr.IsFraudulent,
		Explanation:  pr.Explanation,
	}, nil
}

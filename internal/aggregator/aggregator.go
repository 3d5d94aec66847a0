// Package aggregator is the client for the external swap aggregator: one
// quote request returns an assembled, ready-to-sign swap transaction.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"clmm-agent/internal/chain"
)

// DefaultTimeout bounds a quote request.
const DefaultTimeout = 10 * time.Second

// ErrEmptyCalldata is returned when the aggregator's assembled transaction
// carries no calldata. Submitting it would burn gas for nothing.
var ErrEmptyCalldata = errors.New("aggregator returned empty calldata")

// QuoteRequest asks for a swap quote and an assembled transaction.
type QuoteRequest struct {
	TokenIn     string `json:"tokenIn"`
	TokenOut    string `json:"tokenOut"`
	AmountIn    string `json:"amountIn"` // decimal string, base units
	SlippageBps int    `json:"slippageBps"`
	Recipient   string `json:"recipient"`
}

// Quote is an assembled swap. Spender is the contract that must hold an
// allowance on TokenIn before the swap executes.
type Quote struct {
	Tx        chain.TxRequest `json:"tx"`
	AmountOut string          `json:"amountOut"`
	Spender   string          `json:"spender"`
}

// Client talks to the swap aggregator's quote endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an aggregator client.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("aggregator base URL required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}, nil
}

// Quote requests an assembled swap transaction. Quotes with empty calldata
// are rejected here so no execution path can submit one.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal quote request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/quote", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator status %d: %s", resp.StatusCode, string(respBody))
	}

	var quote Quote
	if err := json.Unmarshal(respBody, &quote); err != nil {
		return nil, fmt.Errorf("unmarshal quote: %w", err)
	}
	if quote.Tx.Data == "" || quote.Tx.Data == "0x" {
		return nil, ErrEmptyCalldata
	}
	if quote.Tx.To == "" {
		return nil, errors.New("aggregator returned no target contract")
	}
	return &quote, nil
}

// Package chain provides the EVM JSON-RPC collaborator: pool and position
// reads, token balances and allowances, raw transaction submission and
// bounded confirmation waits. Calls rotate through an ordered list of
// fallback endpoints until one responds.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// DefaultConfirmTimeout bounds a transaction confirmation wait. The tx
	// may still confirm later on-chain; the caller reconciles on next poll.
	DefaultConfirmTimeout = 2 * time.Minute
	DefaultConfirmPoll    = 3 * time.Second
)

// Client is an HTTP JSON-RPC 2.0 client over one or more endpoints.
type Client struct {
	endpoints   []string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	confirmPoll time.Duration
	requestID   atomic.Uint64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithMaxRetries sets maximum retry sweeps across the endpoint list.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithConfirmPoll sets the receipt polling interval.
func WithConfirmPoll(d time.Duration) Option {
	return func(c *Client) { c.confirmPoll = d }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// NewClient creates a chain RPC client. The first endpoint is primary; the
// rest are fallbacks tried in order.
func NewClient(endpoints []string, opts ...Option) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("chain client needs at least one endpoint")
	}
	c := &Client{
		endpoints:   append([]string(nil), endpoints...),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		confirmPoll: DefaultConfirmPoll,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error returned by a node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// isRevert reports whether an eth_call error is an execution revert rather
// than a transport or node problem.
func isRevert(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code == 3 || strings.Contains(strings.ToLower(rpcErr.Message), "revert")
}

// call performs a JSON-RPC call, rotating through fallback endpoints and
// retrying transport failures with exponential backoff. Node-level RPC
// errors (reverts, bad params) are returned immediately, never retried.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: reqID, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		for _, endpoint := range c.endpoints {
			resp, err := c.post(ctx, endpoint, body)
			if err != nil {
				lastErr = err
				continue // next fallback endpoint
			}

			var rpcResp rpcResponse
			if err := json.Unmarshal(resp, &rpcResp); err != nil {
				lastErr = fmt.Errorf("unmarshal response: %w", err)
				continue
			}
			if rpcResp.Error != nil {
				return rpcResp.Error
			}
			if result != nil && rpcResp.Result != nil {
				if err := json.Unmarshal(rpcResp.Result, result); err != nil {
					return fmt.Errorf("unmarshal result: %w", err)
				}
			}
			return nil
		}
	}

	return fmt.Errorf("all endpoints failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// ethCall performs eth_call against latest and returns the raw return data.
func (c *Client) ethCall(ctx context.Context, to string, data []byte) ([]byte, error) {
	var out string
	params := []interface{}{
		map[string]string{"to": to, "data": encodeHexBytes(data)},
		"latest",
	}
	if err := c.call(ctx, "eth_call", params, &out); err != nil {
		return nil, err
	}
	return decodeHexBytes(out)
}

// PoolState reads slot0 of a pool: current sqrt price and tick.
func (c *Client) PoolState(ctx context.Context, pool string) (*PoolState, error) {
	ret, err := c.ethCall(ctx, pool, selectorSlot0[:])
	if err != nil {
		return nil, fmt.Errorf("slot0 %s: %w", pool, err)
	}
	if len(ret) < 2*wordSize {
		return nil, fmt.Errorf("slot0 %s: short return (%d bytes)", pool, len(ret))
	}
	tick, err := wordToInt32(word(ret, 1))
	if err != nil {
		return nil, fmt.Errorf("slot0 %s: %w", pool, err)
	}
	return &PoolState{
		SqrtPriceX96: new(big.Int).SetBytes(word(ret, 0)),
		Tick:         tick,
	}, nil
}

// Position reads a position manager position by NFT token id.
// Returns nil when the token no longer exists (closed and burned).
func (c *Client) Position(ctx context.Context, manager string, tokenID uint64) (*PositionData, error) {
	data := packCall(selectorPositions, packUint64(tokenID))
	ret, err := c.ethCall(ctx, manager, data)
	if err != nil {
		if isRevert(err) {
			// Token burned or never existed.
			return nil, nil
		}
		return nil, fmt.Errorf("positions %d: %w", tokenID, err)
	}
	if len(ret) < 8*wordSize {
		// Revert data or empty return also means the token is gone.
		return nil, nil
	}

	tickLower, err := wordToInt32(word(ret, 5))
	if err != nil {
		return nil, fmt.Errorf("positions %d: %w", tokenID, err)
	}
	tickUpper, err := wordToInt32(word(ret, 6))
	if err != nil {
		return nil, fmt.Errorf("positions %d: %w", tokenID, err)
	}
	return &PositionData{
		TokenID:   tokenID,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Liquidity: new(big.Int).SetBytes(word(ret, 7)),
	}, nil
}

// OwnerOf returns the NFT owner address, or "" when the token is burned.
func (c *Client) OwnerOf(ctx context.Context, manager string, tokenID uint64) (string, error) {
	data := packCall(selectorOwnerOf, packUint64(tokenID))
	ret, err := c.ethCall(ctx, manager, data)
	if err != nil {
		if isRevert(err) {
			return "", nil
		}
		return "", fmt.Errorf("ownerOf %d: %w", tokenID, err)
	}
	if len(ret) < wordSize {
		return "", nil
	}
	return wordToAddress(word(ret, 0)), nil
}

// BalanceOf reads an ERC-20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, owner string) (*uint256.Int, error) {
	data := packCall(selectorBalanceOf, packAddress(owner))
	ret, err := c.ethCall(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s: %w", token, err)
	}
	if len(ret) < wordSize {
		return nil, fmt.Errorf("balanceOf %s: short return", token)
	}
	return new(uint256.Int).SetBytes(word(ret, 0)), nil
}

// Allowance reads an ERC-20 spender allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender string) (*uint256.Int, error) {
	data := packCall(selectorAllowance, packAddress(owner), packAddress(spender))
	ret, err := c.ethCall(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token, err)
	}
	if len(ret) < wordSize {
		return nil, fmt.Errorf("allowance %s: short return", token)
	}
	return new(uint256.Int).SetBytes(word(ret, 0)), nil
}

// GasPrice returns the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*uint256.Int, error) {
	var out string
	if err := c.call(ctx, "eth_gasPrice", nil, &out); err != nil {
		return nil, err
	}
	price, err := uint256.FromHex(out)
	if err != nil {
		return nil, fmt.Errorf("parse gas price %q: %w", out, err)
	}
	return price, nil
}

// SendRawTransaction submits a signed raw transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var hash string
	if err := c.call(ctx, "eth_sendRawTransaction", []interface{}{rawTx}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// TransactionReceipt fetches a receipt, or nil while the tx is pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var rec *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// WaitForReceipt polls until the transaction confirms or the bounded wait
// expires. A timeout is reported as an error; the caller must reconcile
// position state from chain truth on its next poll rather than assume.
func (c *Client) WaitForReceipt(ctx context.Context, hash string, timeout time.Duration) (*Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()

	for {
		rec, err := c.TransactionReceipt(waitCtx, hash)
		if err == nil && rec != nil {
			return rec, nil
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("confirmation wait for %s expired: %w", hash, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

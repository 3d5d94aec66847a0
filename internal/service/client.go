// Package service is the HTTP client for the remote decision service: intent
// polling, signing-key discovery, tier allocations, policy snapshots,
// transaction-building assistance and receipt reporting.
package service

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"clmm-agent/internal/chain"
	"clmm-agent/internal/domain"
)

// DefaultTimeout bounds every service call. Correctness never depends on
// waiting longer; the engine reconciles from chain truth instead.
const DefaultTimeout = 10 * time.Second

// ErrUnauthorized is returned when a call still fails after the one
// refresh-and-retry pass.
var ErrUnauthorized = errors.New("service session unauthorized")

// Config configures the service client.
type Config struct {
	BaseURL      string
	SessionToken string
	RefreshToken string
	Timeout      time.Duration
	Logger       *log.Logger
}

// Client talks to the remote decision service. A 401 triggers one token
// refresh and one retry of the original request; a second 401 is terminal.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger

	mu           sync.Mutex
	sessionToken string
	refreshToken string
}

// NewClient creates a service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("service base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		http:         &http.Client{Timeout: timeout},
		logger:       logger,
		sessionToken: cfg.SessionToken,
		refreshToken: cfg.RefreshToken,
	}, nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionToken
}

// refresh exchanges the refresh token for a new session token.
func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()
	if refreshToken == "" {
		return errors.New("no refresh token configured")
	}

	body, _ := json.Marshal(map[string]string{"refreshToken": refreshToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh status %d", resp.StatusCode)
	}

	var out struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if out.SessionToken == "" {
		return errors.New("refresh returned empty session token")
	}

	c.mu.Lock()
	c.sessionToken = out.SessionToken
	c.mu.Unlock()
	return nil
}

// doJSON performs an authenticated JSON call. On 401 it refreshes the session
// token and retries the original request exactly once.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	refreshed := false
	for {
		var body io.Reader
		if in != nil {
			buf, err := json.Marshal(in)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			body = bytes.NewReader(buf)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token())
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s %s: read response: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized {
			if refreshed {
				return fmt.Errorf("%w: %s %s", ErrUnauthorized, method, path)
			}
			refreshed = true
			c.logger.Printf("[service] 401 on %s %s, refreshing session", method, path)
			if err := c.refresh(ctx); err != nil {
				return fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
		}
		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s %s: unmarshal: %w", method, path, err)
			}
		}
		return nil
	}
}

// PollIntents fetches pending signed intent envelopes.
func (c *Client) PollIntents(ctx context.Context) ([]string, error) {
	var out struct {
		Envelopes []string `json:"envelopes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/intents", nil, &out); err != nil {
		return nil, err
	}
	return out.Envelopes, nil
}

// jwk is the subset of a JWKS entry the engine reads.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
}

// FetchSigningKey discovers the service's current Ed25519 signing key from
// its JWKS endpoint.
func (c *Client) FetchSigningKey(ctx context.Context) (ed25519.PublicKey, error) {
	var out struct {
		Keys []jwk `json:"keys"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/keys", nil, &out); err != nil {
		return nil, err
	}
	for _, k := range out.Keys {
		if k.Kty != "OKP" || k.Crv != "Ed25519" {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, fmt.Errorf("decode jwk x: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("jwk key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)
		}
		return ed25519.PublicKey(raw), nil
	}
	return nil, errors.New("no Ed25519 key in JWKS response")
}

// TierAllocations fetches tier sizing parameters. Never generated locally:
// the sizing strategy stays on the service side.
func (c *Client) TierAllocations(ctx context.Context) (*Allocations, error) {
	var out Allocations
	if err := c.doJSON(ctx, http.MethodGet, "/allocations", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Policy fetches the current policy snapshot. Callers must re-fetch per
// intent batch rather than cache across polls.
func (c *Client) Policy(ctx context.Context) (*domain.Policy, error) {
	var out domain.Policy
	if err := c.doJSON(ctx, http.MethodGet, "/policy", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Positions fetches the service's view of tracked positions, used by the
// grace period monitor.
func (c *Client) Positions(ctx context.Context) ([]domain.PositionStatus, error) {
	var out struct {
		Positions []domain.PositionStatus `json:"positions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/positions", nil, &out); err != nil {
		return nil, err
	}
	return out.Positions, nil
}

// RebalanceBundle asks the service to build the close+reopen bundle.
func (c *Client) RebalanceBundle(ctx context.Context, req BundleRequest) (*RebalanceBundle, error) {
	var out RebalanceBundle
	if err := c.doJSON(ctx, http.MethodPost, "/tx/rebalance", req, &out); err != nil {
		return nil, err
	}
	if out.Close == nil || out.Reopen == nil {
		return nil, errors.New("incomplete rebalance bundle from service")
	}
	return &out, nil
}

// ReopenTx asks for a refreshed reopen transaction at the current tick.
func (c *Client) ReopenTx(ctx context.Context, req ReopenRequest) (*chain.TxRequest, error) {
	var out chain.TxRequest
	if err := c.doJSON(ctx, http.MethodPost, "/tx/reopen", req, &out); err != nil {
		return nil, err
	}
	if out.To == "" || out.Data == "" {
		return nil, errors.New("empty reopen transaction from service")
	}
	return &out, nil
}

// LogicPurchaseTx fetches the service-built opaque purchase transaction.
func (c *Client) LogicPurchaseTx(ctx context.Context, orderID string) (*chain.TxRequest, error) {
	var out chain.TxRequest
	req := map[string]string{"orderId": orderID}
	if err := c.doJSON(ctx, http.MethodPost, "/tx/logic-purchase", req, &out); err != nil {
		return nil, err
	}
	if out.To == "" || out.Data == "" {
		return nil, errors.New("empty purchase transaction from service")
	}
	return &out, nil
}

// ReportResult reports a terminal execution outcome. Reporting failures are
// logged by callers, never propagated into the execution path.
func (c *Client) ReportResult(ctx context.Context, result *domain.ExecutionResult) error {
	return c.doJSON(ctx, http.MethodPost, "/receipts", result, nil)
}

package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Signer signs transactions. The wallet keystore lives outside the engine;
// the reference implementation is the local wallet sidecar's HTTP surface.
type Signer interface {
	SignTx(ctx context.Context, tx TxRequest) (rawTx string, err error)
}

// HTTPSigner asks the local wallet service to sign a transaction.
type HTTPSigner struct {
	endpoint string
	client   *http.Client
}

// NewHTTPSigner creates a signer client for the local wallet endpoint.
func NewHTTPSigner(endpoint string) *HTTPSigner {
	return &HTTPSigner{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SignTx posts the unsigned transaction and returns the signed raw tx hex.
func (s *HTTPSigner) SignTx(ctx context.Context, tx TxRequest) (string, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("marshal sign request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/sign", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read sign response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer status %d: %s", resp.StatusCode, string(respBody))
	}

	var out struct {
		RawTx string `json:"rawTx"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal sign response: %w", err)
	}
	if out.RawTx == "" {
		return "", errors.New("signer returned empty raw tx")
	}
	return out.RawTx, nil
}

var _ Signer = (*HTTPSigner)(nil)

// Route selects how a transaction reaches the chain.
type Route int

const (
	// RouteDirect submits the calldata straight to the target contract.
	RouteDirect Route = iota
	// RouteProxy wraps the call in the execution proxy's execute(address,bytes).
	RouteProxy
)

// selectorExecute is execute(address,bytes) on the execution proxy.
var selectorExecute = [4]byte{0x1c, 0xff, 0x79, 0xcd}

// ErrExecutionReverted is returned when a submitted transaction confirmed
// with a failed status: submission succeeded but execution did not.
var ErrExecutionReverted = errors.New("transaction reverted on-chain")

// Submitter signs, submits and confirms transactions, abstracting the
// direct-vs-proxy routing decision per call.
type Submitter struct {
	client         *Client
	signer         Signer
	proxyAddr      string
	confirmTimeout time.Duration
}

// NewSubmitter creates a Submitter. proxyAddr may be empty when no
// execution proxy is configured, which forces RouteDirect.
func NewSubmitter(client *Client, signer Signer, proxyAddr string, confirmTimeout time.Duration) *Submitter {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	return &Submitter{client: client, signer: signer, proxyAddr: proxyAddr, confirmTimeout: confirmTimeout}
}

// Execute signs and submits the transaction over the given route, waits for
// confirmation within the bounded window, and treats a reverted status as a
// hard failure even though submission succeeded.
func (s *Submitter) Execute(ctx context.Context, tx TxRequest, route Route) (*Receipt, error) {
	if route == RouteProxy && s.proxyAddr != "" {
		inner, err := decodeHexBytes(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("proxy route: bad calldata: %w", err)
		}
		wrapped := packCall(selectorExecute, packAddress(tx.To))
		wrapped = append(wrapped, PackBytesArg(inner)...)
		tx = TxRequest{
			To:          s.proxyAddr,
			Data:        encodeHexBytes(wrapped),
			Value:       tx.Value,
			GasPriceWei: tx.GasPriceWei,
		}
	}

	rawTx, err := s.signer.SignTx(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	hash, err := s.client.SendRawTransaction(ctx, rawTx)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	rec, err := s.client.WaitForReceipt(ctx, hash, s.confirmTimeout)
	if err != nil {
		return nil, err
	}
	if !rec.Succeeded() {
		return rec, fmt.Errorf("%w: %s", ErrExecutionReverted, hash)
	}
	return rec, nil
}

// PackBytesArg ABI-encodes a single dynamic bytes argument positioned after
// one static argument (the execute(address,bytes) layout).
func PackBytesArg(data []byte) []byte {
	var out []byte
	out = append(out, packUint64(2*wordSize)...) // offset past the two head words
	out = append(out, packUint64(uint64(len(data)))...)
	out = append(out, data...)
	if rem := len(data) % wordSize; rem != 0 {
		out = append(out, make([]byte, wordSize-rem)...)
	}
	return out
}

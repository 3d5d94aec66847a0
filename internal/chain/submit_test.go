package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	lastTx TxRequest
}

func (s *fakeSigner) SignTx(_ context.Context, tx TxRequest) (string, error) {
	s.lastTx = tx
	return "0xsigned", nil
}

func newSubmitTestClient(t *testing.T, status string) (*Client, func()) {
	t.Helper()
	srv := newRPCServer(t, func(method string, _ []json.RawMessage) (interface{}, *RPCError) {
		switch method {
		case "eth_sendRawTransaction":
			return "0xhash", nil
		case "eth_getTransactionReceipt":
			return map[string]interface{}{
				"transactionHash": "0xhash",
				"status":          status,
				"blockNumber":     "0x1",
				"gasUsed":         "0x100",
			}, nil
		default:
			return nil, &RPCError{Code: -32601, Message: "unknown method"}
		}
	})
	c, err := NewClient([]string{srv.URL}, WithConfirmPoll(5*time.Millisecond))
	require.NoError(t, err)
	return c, srv.Close
}

func TestSubmitter_ExecuteDirect(t *testing.T) {
	client, closeSrv := newSubmitTestClient(t, "0x1")
	defer closeSrv()

	signer := &fakeSigner{}
	sub := NewSubmitter(client, signer, "", time.Second)

	tx := TxRequest{To: "0x00000000000000000000000000000000000000cc", Data: "0x42966c68"}
	rec, err := sub.Execute(context.Background(), tx, RouteDirect)
	require.NoError(t, err)
	assert.True(t, rec.Succeeded())
	assert.Equal(t, tx.To, signer.lastTx.To)
}

func TestSubmitter_ExecuteProxyWrapsCalldata(t *testing.T) {
	client, closeSrv := newSubmitTestClient(t, "0x1")
	defer closeSrv()

	signer := &fakeSigner{}
	proxy := "0x00000000000000000000000000000000000000dd"
	sub := NewSubmitter(client, signer, proxy, time.Second)

	target := "0x00000000000000000000000000000000000000cc"
	inner := BurnCalldata(7)
	_, err := sub.Execute(context.Background(), TxRequest{To: target, Data: encodeHexBytes(inner)}, RouteProxy)
	require.NoError(t, err)

	// The signed tx targets the proxy with execute(address,bytes) calldata
	// carrying the original target and inner call.
	assert.Equal(t, proxy, signer.lastTx.To)
	signed := strings.TrimPrefix(signer.lastTx.Data, "0x")
	assert.True(t, strings.HasPrefix(signed, "1cff79cd"))
	assert.Contains(t, signed, strings.TrimPrefix(target, "0x"))
	assert.Contains(t, signed, hex.EncodeToString(inner))
}

func TestSubmitter_RevertedStatusIsFailure(t *testing.T) {
	client, closeSrv := newSubmitTestClient(t, "0x0")
	defer closeSrv()

	sub := NewSubmitter(client, &fakeSigner{}, "", time.Second)
	rec, err := sub.Execute(context.Background(), TxRequest{To: "0x00000000000000000000000000000000000000cc", Data: "0x"}, RouteDirect)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecutionReverted)
	require.NotNil(t, rec)
	assert.False(t, rec.Succeeded())
}

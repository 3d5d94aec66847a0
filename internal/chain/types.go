package chain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// PoolState is the slot0 view of a pool.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int32
}

// PositionData is a fresh on-chain read of one liquidity position.
type PositionData struct {
	TokenID   uint64
	TickLower int32
	TickUpper int32
	Liquidity *big.Int
}

// InRange reports whether the current tick sits inside the position range.
func (p *PositionData) InRange(tick int32) bool {
	return tick >= p.TickLower && tick < p.TickUpper
}

// Receipt is a confirmed transaction receipt. Status 0 means the execution
// reverted even though submission succeeded.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	Status      uint64 `json:"-"`
	BlockNumber uint64 `json:"-"`
	GasUsed     uint64 `json:"-"`
	Logs        []Log  `json:"logs"`
}

// Log is one event log entry of a receipt.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Succeeded reports whether execution succeeded on-chain.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// receiptJSON mirrors the wire form with hex quantity fields.
type receiptJSON struct {
	TxHash      string `json:"transactionHash"`
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
	GasUsed     string `json:"gasUsed"`
	Logs        []Log  `json:"logs"`
}

// UnmarshalJSON decodes the hex quantity fields of a wire receipt.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var raw receiptJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status, err := parseHexUint(raw.Status)
	if err != nil {
		return fmt.Errorf("receipt status: %w", err)
	}
	block, err := parseHexUint(raw.BlockNumber)
	if err != nil {
		return fmt.Errorf("receipt blockNumber: %w", err)
	}
	gas, err := parseHexUint(raw.GasUsed)
	if err != nil {
		return fmt.Errorf("receipt gasUsed: %w", err)
	}
	r.TxHash = raw.TxHash
	r.Status = status
	r.BlockNumber = block
	r.GasUsed = gas
	r.Logs = raw.Logs
	return nil
}

func parseHexUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}

// ERC-721 Transfer(address,address,uint256) topic and the zero-address
// topic word of a mint.
const (
	transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	zeroTopic     = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

// MintedTokenID extracts the freshly minted position NFT id from a mint
// receipt: the ERC-721 Transfer log whose from-address is zero.
func MintedTokenID(rec *Receipt) (uint64, bool) {
	for _, lg := range rec.Logs {
		if len(lg.Topics) != 4 {
			continue
		}
		if !strings.EqualFold(lg.Topics[0], transferTopic) || lg.Topics[1] != zeroTopic {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(lg.Topics[3], "0x"), 16, 64)
		if err != nil {
			continue
		}
		return id, true
	}
	return 0, false
}

// TxRequest is an unsigned transaction the engine asks its signer to sign.
type TxRequest struct {
	To          string `json:"to"`
	Data        string `json:"data"`            // 0x-hex calldata
	Value       string `json:"value,omitempty"` // 0x-hex wei, empty for zero
	GasPriceWei uint64 `json:"gasPriceWei,omitempty"`
}

package chain

import (
	"math/big"
)

// maxUint128 is the "collect everything owed" sentinel for collect calls.
var maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// MintParams are the position manager mint arguments. All amounts are base
// units; Deadline is unix seconds.
type MintParams struct {
	Token0         string
	Token1         string
	Fee            uint64
	TickLower      int32
	TickUpper      int32
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      string
	Deadline       uint64
}

// MintCalldata encodes a position manager mint call.
func MintCalldata(p MintParams) []byte {
	return packCall(SelectorMint,
		packAddress(p.Token0),
		packAddress(p.Token1),
		packUint64(p.Fee),
		packInt32(p.TickLower),
		packInt32(p.TickUpper),
		packBig(p.Amount0Desired),
		packBig(p.Amount1Desired),
		packBig(p.Amount0Min),
		packBig(p.Amount1Min),
		packAddress(p.Recipient),
		packUint64(p.Deadline),
	)
}

// DecreaseLiquidityCalldata encodes a decrease of the full liquidity amount.
// Minimum amounts are zero: the caller is unwinding, not trading.
func DecreaseLiquidityCalldata(tokenID uint64, liquidity *big.Int, deadline uint64) []byte {
	return packCall(SelectorDecreaseLiquidity,
		packUint64(tokenID),
		packBig(liquidity),
		packBig(big.NewInt(0)),
		packBig(big.NewInt(0)),
		packUint64(deadline),
	)
}

// CollectCalldata encodes a collect of everything owed to the position.
func CollectCalldata(tokenID uint64, recipient string) []byte {
	return packCall(SelectorCollect,
		packUint64(tokenID),
		packAddress(recipient),
		packBig(maxUint128),
		packBig(maxUint128),
	)
}

// BurnCalldata encodes an NFT burn of an emptied position.
func BurnCalldata(tokenID uint64) []byte {
	return packCall(SelectorBurn, packUint64(tokenID))
}

// ApproveCalldata encodes an ERC-20 approve.
func ApproveCalldata(spender string, amount *big.Int) []byte {
	return packCall(SelectorApprove, packAddress(spender), packBig(amount))
}

// MulticallCalldata batches encoded calls into one multicall(bytes[]) tx.
func MulticallCalldata(calls [][]byte) []byte {
	out := make([]byte, 4, 4+len(calls)*4*wordSize)
	copy(out, SelectorMulticall[:])
	return append(out, PackBytesArray(calls)...)
}

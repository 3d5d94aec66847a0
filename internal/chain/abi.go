package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const wordSize = 32

// 4-byte function selectors the engine calls. Fixed signatures; anything
// beyond these is built by the remote service or the swap aggregator.
var (
	selectorSlot0     = [4]byte{0x38, 0x50, 0xc7, 0xbd} // slot0()
	selectorPositions = [4]byte{0x99, 0xfb, 0xab, 0x88} // positions(uint256)
	selectorOwnerOf   = [4]byte{0x63, 0x52, 0x21, 0x1e} // ownerOf(uint256)
	selectorBalanceOf = [4]byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selectorAllowance = [4]byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)

	// Write-path selectors used when assembling calldata locally.
	SelectorApprove           = [4]byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
	SelectorMint              = [4]byte{0x88, 0x31, 0x64, 0x56} // mint((...))
	SelectorDecreaseLiquidity = [4]byte{0x0c, 0x49, 0xcc, 0xbe} // decreaseLiquidity((...))
	SelectorCollect           = [4]byte{0xfc, 0x6f, 0x78, 0x65} // collect((...))
	SelectorBurn              = [4]byte{0x42, 0x96, 0x6c, 0x68} // burn(uint256)
	SelectorMulticall         = [4]byte{0xac, 0x96, 0x50, 0xd8} // multicall(bytes[])
)

// packCall concatenates a selector with pre-packed argument words.
func packCall(selector [4]byte, words ...[]byte) []byte {
	out := make([]byte, 4, 4+len(words)*wordSize)
	copy(out, selector[:])
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

// packUint64 left-pads a uint64 into one ABI word.
func packUint64(v uint64) []byte {
	w := make([]byte, wordSize)
	for i := 0; i < 8; i++ {
		w[wordSize-1-i] = byte(v >> (8 * i))
	}
	return w
}

// packBig left-pads a non-negative big integer into one ABI word.
func packBig(v *big.Int) []byte {
	w := make([]byte, wordSize)
	v.FillBytes(w)
	return w
}

// packInt32 sign-extends a signed tick into one ABI word (two's complement).
func packInt32(v int32) []byte {
	w := make([]byte, wordSize)
	if v >= 0 {
		for i := 0; i < 4; i++ {
			w[wordSize-1-i] = byte(uint32(v) >> (8 * i))
		}
		return w
	}
	// Negative: 2^256 + v.
	n := new(big.Int).Lsh(big.NewInt(1), 256)
	n.Add(n, big.NewInt(int64(v)))
	n.FillBytes(w)
	return w
}

// packAddress left-pads a 0x-hex address into one ABI word.
func packAddress(addr string) []byte {
	w := make([]byte, wordSize)
	b, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(addr), "0x"))
	if err != nil || len(b) != 20 {
		return w
	}
	copy(w[wordSize-20:], b)
	return w
}

// PackBytesArray ABI-encodes a bytes[] argument (for multicall).
func PackBytesArray(calls [][]byte) []byte {
	// Head: offset to array. Array: length, element offsets, then each
	// element as length + right-padded content.
	var out []byte
	out = append(out, packUint64(wordSize)...) // offset of the array
	out = append(out, packUint64(uint64(len(calls)))...)

	offsets := make([]uint64, len(calls))
	running := uint64(len(calls)) * wordSize
	for i, call := range calls {
		offsets[i] = running
		running += wordSize + padded(uint64(len(call)))
	}
	for _, off := range offsets {
		out = append(out, packUint64(off)...)
	}
	for _, call := range calls {
		out = append(out, packUint64(uint64(len(call)))...)
		out = append(out, call...)
		if rem := len(call) % wordSize; rem != 0 {
			out = append(out, make([]byte, wordSize-rem)...)
		}
	}
	return out
}

func padded(n uint64) uint64 {
	if rem := n % wordSize; rem != 0 {
		return n + wordSize - rem
	}
	return n
}

// word returns the i-th 32-byte word of return data.
func word(data []byte, i int) []byte {
	return data[i*wordSize : (i+1)*wordSize]
}

// wordToInt32 decodes a sign-extended int24/int32 word.
func wordToInt32(w []byte) (int32, error) {
	v := new(big.Int).SetBytes(w)
	if w[0]&0x80 != 0 {
		// Negative two's complement.
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	if !v.IsInt64() || v.Int64() > 1<<31-1 || v.Int64() < -(1<<31) {
		return 0, fmt.Errorf("word out of int32 range: %s", v)
	}
	return int32(v.Int64()), nil
}

// wordToAddress formats the low 20 bytes of a word as a 0x-hex address.
func wordToAddress(w []byte) string {
	return "0x" + hex.EncodeToString(w[wordSize-20:])
}

// wordToUint64 decodes an unsigned word that must fit in uint64.
func wordToUint64(w []byte) (uint64, error) {
	v := new(big.Int).SetBytes(w)
	if !v.IsUint64() {
		return 0, fmt.Errorf("word out of uint64 range: %s", v)
	}
	return v.Uint64(), nil
}

// encodeHexBytes renders calldata as 0x-hex.
func encodeHexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexCalldata renders locally assembled calldata as the 0x-hex Data field of
// a TxRequest.
func HexCalldata(b []byte) string {
	return encodeHexBytes(b)
}

// decodeHexBytes parses 0x-hex return data.
func decodeHexBytes(s string) ([]byte, error) {
	h := strings.TrimPrefix(s, "0x")
	if len(h)%2 == 1 {
		h = "0" + h
	}
	return hex.DecodeString(h)
}

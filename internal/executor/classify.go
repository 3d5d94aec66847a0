package executor

import (
	"context"
	"errors"
	"strings"

	"clmm-agent/internal/aggregator"
)

// Class buckets an execution failure for retry policy.
type Class int

const (
	// ClassPermanent failures are never retried: resubmitting cannot help.
	ClassPermanent Class = iota
	// ClassSlippage failures hint that a higher tolerance may succeed.
	ClassSlippage
	// ClassTransient failures may clear on their own: retried once after a
	// fixed delay (the rebalance ladder has its own schedule).
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassPermanent:
		return "permanent"
	case ClassSlippage:
		return "slippage"
	default:
		return "transient"
	}
}

var permanentMarkers = []string{
	"nonce too low",
	"nonce conflict",
	"already known",
	"invalid signature",
	"replacement transaction underpriced",
	"unknown intent action",
}

var slippageMarkers = []string{
	"slippage",
	"too little received",
	"too much requested",
	"price slippage check",
	"insufficient output amount",
	"excessive input amount",
}

// Classify buckets an execution error. Unknown failures default to transient:
// the retry budget is small and a wrong permanent verdict strands funds.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	if errors.Is(err, aggregator.ErrEmptyCalldata) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return ClassPermanent
		}
	}
	for _, marker := range slippageMarkers {
		if strings.Contains(msg, marker) {
			return ClassSlippage
		}
	}
	return ClassTransient
}

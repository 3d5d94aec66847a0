package intent

import (
	"time"

	"clmm-agent/internal/domain"
)

// Policy rejection reasons. Every fired rule is reported; the gate never
// short-circuits, so telemetry sees all violations at once.
const (
	RejectAutomationDisabled = "automation disabled"
	RejectEmergencyStop      = "emergency stop: balance below floor"
	RejectOutsideHours       = "outside allowed hours"
	RejectGasCeiling         = "gas price cap exceeds policy ceiling"
	RejectSlippageCeiling    = "slippage cap exceeds policy ceiling"
)

// PolicyDecision is the outcome of gating one intent against the policy
// snapshot.
type PolicyDecision struct {
	Allowed bool
	Reasons []string // every rule that fired, in evaluation order
}

// Reason returns the first fired rule, or "" when allowed.
func (d PolicyDecision) Reason() string {
	if len(d.Reasons) == 0 {
		return ""
	}
	return d.Reasons[0]
}

// ValidatePolicy is a pure decision function: identical (intent, policy, now)
// inputs always produce the identical decision.
func ValidatePolicy(in *domain.SignedIntent, policy *domain.Policy, now time.Time) PolicyDecision {
	var reasons []string

	if !policy.AutomationEnabled {
		reasons = append(reasons, RejectAutomationDisabled)
	}

	if policy.EmergencyStop && policy.CurrentBalanceUSD < policy.BalanceFloorUSD {
		reasons = append(reasons, RejectEmergencyStop)
	}

	if !policy.HourAllowed(now.Hour()) {
		reasons = append(reasons, RejectOutsideHours)
	}

	if c := in.Constraints; c != nil {
		if c.MaxGasPriceWei > 0 && policy.MaxGasPriceWei > 0 && c.MaxGasPriceWei > policy.MaxGasPriceWei {
			reasons = append(reasons, RejectGasCeiling)
		}
		if c.MaxSlippageBps > 0 && policy.MaxSlippageBps > 0 && c.MaxSlippageBps > policy.MaxSlippageBps {
			reasons = append(reasons, RejectSlippageCeiling)
		}
	}

	return PolicyDecision{Allowed: len(reasons) == 0, Reasons: reasons}
}

package intent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"clmm-agent/internal/domain"
)

func openPolicy() *domain.Policy {
	return &domain.Policy{
		AutomationEnabled: true,
		MaxGasPriceWei:    200_000_000_000, // 200 gwei
		MaxSlippageBps:    500,
	}
}

func gatedIntent(c *domain.Constraints) *domain.SignedIntent {
	return &domain.SignedIntent{
		IntentID:    "i1",
		Action:      domain.ActionDeploy,
		Constraints: c,
	}
}

func noon() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func TestValidatePolicy_Allows(t *testing.T) {
	d := ValidatePolicy(gatedIntent(nil), openPolicy(), noon())
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Reasons)
}

func TestValidatePolicy_AutomationDisabled(t *testing.T) {
	p := openPolicy()
	p.AutomationEnabled = false

	d := ValidatePolicy(gatedIntent(nil), p, noon())
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reasons, RejectAutomationDisabled)
}

func TestValidatePolicy_EmergencyStop(t *testing.T) {
	p := openPolicy()
	p.EmergencyStop = true
	p.BalanceFloorUSD = 100
	p.CurrentBalanceUSD = 50

	d := ValidatePolicy(gatedIntent(nil), p, noon())
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reasons, RejectEmergencyStop)

	// Stop enabled but balance healthy: allowed.
	p.CurrentBalanceUSD = 500
	d = ValidatePolicy(gatedIntent(nil), p, noon())
	assert.True(t, d.Allowed)
}

func TestValidatePolicy_AllowedHours(t *testing.T) {
	p := openPolicy()
	p.AllowedHourStart = 9
	p.AllowedHourEnd = 17

	d := ValidatePolicy(gatedIntent(nil), p, noon())
	assert.True(t, d.Allowed)

	night := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	d = ValidatePolicy(gatedIntent(nil), p, night)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reasons, RejectOutsideHours)

	// Window wrapping midnight.
	p.AllowedHourStart = 22
	p.AllowedHourEnd = 4
	d = ValidatePolicy(gatedIntent(nil), p, night)
	assert.True(t, d.Allowed)
	d = ValidatePolicy(gatedIntent(nil), p, noon())
	assert.False(t, d.Allowed)
}

func TestValidatePolicy_Ceilings(t *testing.T) {
	p := openPolicy()

	d := ValidatePolicy(gatedIntent(&domain.Constraints{MaxGasPriceWei: 500_000_000_000}), p, noon())
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reasons, RejectGasCeiling)

	d = ValidatePolicy(gatedIntent(&domain.Constraints{MaxSlippageBps: 1000}), p, noon())
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reasons, RejectSlippageCeiling)

	// Caps under the ceilings pass.
	d = ValidatePolicy(gatedIntent(&domain.Constraints{MaxGasPriceWei: 100_000_000_000, MaxSlippageBps: 100}), p, noon())
	assert.True(t, d.Allowed)
}

func TestValidatePolicy_AllReasonsReported(t *testing.T) {
	p := openPolicy()
	p.AutomationEnabled = false
	p.EmergencyStop = true
	p.BalanceFloorUSD = 100
	p.AllowedHourStart = 9
	p.AllowedHourEnd = 10

	d := ValidatePolicy(gatedIntent(&domain.Constraints{MaxGasPriceWei: 500_000_000_000, MaxSlippageBps: 1000}), p, noon())
	assert.False(t, d.Allowed)
	assert.Len(t, d.Reasons, 5, "no short-circuit: every fired rule reported")
	assert.Equal(t, RejectAutomationDisabled, d.Reason())
}

func TestValidatePolicy_Deterministic(t *testing.T) {
	p := openPolicy()
	p.AutomationEnabled = false
	in := gatedIntent(&domain.Constraints{MaxSlippageBps: 1000})

	first := ValidatePolicy(in, p, noon())
	for i := 0; i < 10; i++ {
		again := ValidatePolicy(in, p, noon())
		assert.Equal(t, first, again)
	}
}

package domain

// Policy is the externally-synchronized execution policy snapshot.
// Read-only to the engine; re-read per intent batch, never cached across polls.
type Policy struct {
	AutomationEnabled bool `json:"automationEnabled"`

	// Emergency stop: when enabled and the wallet's USD balance estimate is
	// below the floor, all execution is rejected.
	EmergencyStop     bool    `json:"emergencyStop"`
	BalanceFloorUSD   float64 `json:"balanceFloorUsd"`
	CurrentBalanceUSD float64 `json:"currentBalanceUsd"`

	// Allowed execution window in local hours [Start, End). The window may
	// wrap midnight (Start > End). Start == End means all hours allowed.
	AllowedHourStart int `json:"allowedHourStart"`
	AllowedHourEnd   int `json:"allowedHourEnd"`

	// Network ceilings. Intents declaring caps above these are rejected.
	MaxGasPriceWei uint64 `json:"maxGasPriceWei"`
	MaxSlippageBps int    `json:"maxSlippageBps"`

	Subscription Subscription `json:"subscription"`
}

// Subscription is plan metadata carried with the policy snapshot.
// The engine does not enforce it; it is reported for observability only.
type Subscription struct {
	Plan      string `json:"plan"`
	ExpiresAt int64  `json:"expiresAt"`
}

// HourAllowed reports whether the given local hour falls inside the policy
// window, handling windows that wrap midnight.
func (p *Policy) HourAllowed(hour int) bool {
	start, end := p.AllowedHourStart, p.AllowedHourEnd
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

package domain

// EventType identifies a real-time engine event emitted for observers.
type EventType string

const (
	EventPositionDeployed   EventType = "position_deployed"
	EventPositionRebalanced EventType = "position_rebalanced"
	EventFeesCollected      EventType = "fees_collected"
	EventRewardHarvested    EventType = "reward_harvested"
	EventIntentRejected     EventType = "intent_rejected"
	EventExecutionError     EventType = "execution_error"
)

// ActivityLevel is the severity of an activity entry.
type ActivityLevel string

const (
	LevelInfo  ActivityLevel = "info"
	LevelWarn  ActivityLevel = "warn"
	LevelError ActivityLevel = "error"
)

// ActivityEvent is one entry of the activity stream consumed by the GUI
// layer. Side-channel only: never part of the execution contract.
type ActivityEvent struct {
	Timestamp int64         `json:"timestamp"` // unix milliseconds
	Level     ActivityLevel `json:"level"`
	Type      EventType     `json:"type,omitempty"`
	IntentID  string        `json:"intentId,omitempty"`
	TokenID   uint64        `json:"tokenId,omitempty"`
	Message   string        `json:"message"`
}

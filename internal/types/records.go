package types

type TransitionEvent string

const (
	EventTrigger TransitionEvent = "trigger"
	EventRelease TransitionEvent = "release"
)

type TransitionReason string

const (
	ReasonHazard   TransitionReason = "hazard"
	ReasonCooldown TransitionReason = "cooldown"
	ReasonPaused   TransitionReason = "paused"
	ReasonEnded    TransitionReason = "ended"
	ReasonRemoved  TransitionReason = "removed"
)

type FrameRecord struct {
	Source      SourceID `json:"source"`
	Key         string   `json:"key"`
	TimestampMs int64    `json:"timestamp_ms"`
	Brightness  float64  `json:"brightness"`
	Delta       float64  `json:"delta"`
	FrequencyHz uint32   `json:"frequency_hz"`
	Hazard      bool     `json:"hazard"`
}

type TransitionRecord struct {
	Source      SourceID         `json:"source"`
	Key         string           `json:"key"`
	TimestampMs int64            `json:"timestamp_ms"`
	Event       TransitionEvent  `json:"event"`
	Reason      TransitionReason `json:"reason"`
}

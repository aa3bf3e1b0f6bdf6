package types

import "github.com/google/uuid"

// SourceID identifies one tracked video source for its whole lifetime.
// It is minted by the registry and never derived from the external source key.
type SourceID uuid.UUID

func NewSourceID() SourceID {
	return SourceID(uuid.New())
}

func ParseSourceID(s string) (SourceID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SourceID{}, err
	}
	return SourceID(id), nil
}

func (id SourceID) String() string {
	return uuid.UUID(id).String()
}

func (id SourceID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *SourceID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}

type PixelFormat string

const (
	FormatRGBA PixelFormat = "rgba"
	FormatRGB  PixelFormat = "rgb"
	FormatGray PixelFormat = "gray"
)

// Channels returns the bytes per pixel, or 0 for an unknown format.
func (f PixelFormat) Channels() int {
	switch f {
	case FormatRGBA, "":
		return 4
	case FormatRGB:
		return 3
	case FormatGray:
		return 1
	default:
		return 0
	}
}

type FrameSample struct {
	Source      SourceID    `json:"source"`
	Pixels      []byte      `json:"-"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Format      PixelFormat `json:"format"`
	TimestampMs int64       `json:"timestamp_ms"`
}

type Lifecycle string

const (
	LifecyclePaused  Lifecycle = "paused"
	LifecycleResumed Lifecycle = "resumed"
	LifecycleEnded   Lifecycle = "ended"
	LifecycleRemoved Lifecycle = "removed"
)

func ParseLifecycle(s string) (Lifecycle, bool) {
	switch l := Lifecycle(s); l {
	case LifecyclePaused, LifecycleResumed, LifecycleEnded, LifecycleRemoved:
		return l, true
	}
	return "", false
}

const (
	MessageFrame     = "frame"
	MessageLifecycle = "lifecycle"
)

// Message is one decoded ingest unit. Key is the external source key; the
// Frame's Source field is filled in by the registry.
type Message struct {
	Type        string
	Key         string
	Frame       FrameSample
	Lifecycle   Lifecycle
	TimestampMs int64
}

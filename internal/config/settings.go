package config

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"flashguard-go/internal/types"
)

var ErrInvalidConfig = errors.New("invalid detection config")

// Settings mirrors the user-facing settings document. Keys keep the names
// used by the settings UI so documents can be shared between surfaces.
type Settings struct {
	OverlayColor       string  `json:"overlayColor" yaml:"overlayColor" toml:"overlayColor"`
	OverlayOpacity     float64 `json:"overlayOpacity" yaml:"overlayOpacity" toml:"overlayOpacity"`
	CooldownTime       int     `json:"cooldownTime" yaml:"cooldownTime" toml:"cooldownTime"`
	FlashThreshold     float64 `json:"flashThreshold" yaml:"flashThreshold" toml:"flashThreshold"`
	FlashHzThreshold   int     `json:"flashHzThreshold" yaml:"flashHzThreshold" toml:"flashHzThreshold"`
	WindowMs           int     `json:"windowMs" yaml:"windowMs" toml:"windowMs"`
	ShowWarningText    bool    `json:"showWarningText" yaml:"showWarningText" toml:"showWarningText"`
	WarningText        string  `json:"warningText" yaml:"warningText" toml:"warningText"`
	EnableDebugLogging bool    `json:"enableDebugLogging" yaml:"enableDebugLogging" toml:"enableDebugLogging"`
}

const (
	DefaultOverlayColor     = "#003264"
	DefaultOverlayOpacity   = 0.95
	DefaultCooldownMs       = 500
	DefaultFlashThreshold   = 90
	DefaultFlashHzThreshold = 3
	DefaultWindowMs         = 1000
	DefaultWarningText      = "Flashing Blocked"
)

func Defaults() Settings {
	return Settings{
		OverlayColor:       DefaultOverlayColor,
		OverlayOpacity:     DefaultOverlayOpacity,
		CooldownTime:       DefaultCooldownMs,
		FlashThreshold:     DefaultFlashThreshold,
		FlashHzThreshold:   DefaultFlashHzThreshold,
		WindowMs:           DefaultWindowMs,
		ShowWarningText:    true,
		WarningText:        DefaultWarningText,
		EnableDebugLogging: false,
	}
}

// DetectionConfig is the snapshot consumed by one pipeline evaluation.
type DetectionConfig struct {
	BrightnessDeltaThreshold  float64
	FlashFrequencyThresholdHz uint32
	CooldownMs                uint32
	WindowMs                  uint32
}

func DefaultDetection() DetectionConfig {
	return Defaults().Detection()
}

func (c DetectionConfig) Validate() error {
	if math.IsNaN(c.BrightnessDeltaThreshold) || math.IsInf(c.BrightnessDeltaThreshold, 0) || c.BrightnessDeltaThreshold <= 0 {
		return fmt.Errorf("%w: brightness delta threshold must be finite and > 0, got %v", ErrInvalidConfig, c.BrightnessDeltaThreshold)
	}
	if c.FlashFrequencyThresholdHz == 0 {
		return fmt.Errorf("%w: flash frequency threshold must be > 0", ErrInvalidConfig)
	}
	if c.WindowMs == 0 {
		return fmt.Errorf("%w: window must be > 0", ErrInvalidConfig)
	}
	return nil
}

func (s Settings) Validate() error {
	if s.FlashHzThreshold <= 0 {
		return fmt.Errorf("%w: flashHzThreshold must be > 0, got %d", ErrInvalidConfig, s.FlashHzThreshold)
	}
	if s.WindowMs <= 0 {
		return fmt.Errorf("%w: windowMs must be > 0, got %d", ErrInvalidConfig, s.WindowMs)
	}
	if s.CooldownTime < 0 {
		return fmt.Errorf("%w: cooldownTime must be >= 0, got %d", ErrInvalidConfig, s.CooldownTime)
	}
	return s.Detection().Validate()
}

func (s Settings) Detection() DetectionConfig {
	return DetectionConfig{
		BrightnessDeltaThreshold:  s.FlashThreshold,
		FlashFrequencyThresholdHz: clampUint32(s.FlashHzThreshold),
		CooldownMs:                clampUint32(s.CooldownTime),
		WindowMs:                  clampUint32(s.WindowMs),
	}
}

func (s Settings) Appearance() types.Appearance {
	label := ""
	if s.ShowWarningText {
		label = s.WarningText
	}
	return types.Appearance{
		Color:     s.OverlayBackground(),
		Opacity:   clampOpacity(s.OverlayOpacity),
		LabelText: label,
	}
}

var hexColor = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// OverlayBackground converts the hex overlay color into a CSS rgba value
// carrying the clamped opacity.
func (s Settings) OverlayBackground() string {
	hex := strings.TrimPrefix(strings.TrimSpace(s.OverlayColor), "#")
	if !hexColor.MatchString(hex) {
		return fmt.Sprintf("rgba(0, 50, 100, %s)", formatOpacity(DefaultOverlayOpacity))
	}
	r, _ := strconv.ParseUint(hex[0:2], 16, 8)
	g, _ := strconv.ParseUint(hex[2:4], 16, 8)
	b, _ := strconv.ParseUint(hex[4:6], 16, 8)
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, formatOpacity(clampOpacity(s.OverlayOpacity)))
}

func clampOpacity(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultOverlayOpacity
	}
	return math.Min(1, math.Max(0, v))
}

func formatOpacity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clampUint32(v int) uint32 {
	if v < 0 {
		return 0
	}
	if int64(v) > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

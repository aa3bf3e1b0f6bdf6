package config

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	det := DefaultDetection()
	if det.BrightnessDeltaThreshold != 90 || det.FlashFrequencyThresholdHz != 3 || det.CooldownMs != 500 || det.WindowMs != 1000 {
		t.Fatalf("unexpected default detection config: %+v", det)
	}
}

func TestValidateRejectsNonPositive(t *testing.T) {
	cases := map[string]func(*Settings){
		"threshold": func(s *Settings) { s.FlashThreshold = 0 },
		"nan":       func(s *Settings) { s.FlashThreshold = math.NaN() },
		"inf":       func(s *Settings) { s.FlashThreshold = math.Inf(1) },
		"hz":        func(s *Settings) { s.FlashHzThreshold = -1 },
		"window":    func(s *Settings) { s.WindowMs = 0 },
		"cooldown":  func(s *Settings) { s.CooldownTime = -5 },
	}
	for name, mutate := range cases {
		s := Defaults()
		mutate(&s)
		if err := s.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestOverlayBackground(t *testing.T) {
	s := Defaults()
	if got := s.OverlayBackground(); got != "rgba(0, 50, 100, 0.95)" {
		t.Fatalf("unexpected background: %q", got)
	}

	s.OverlayColor = "#FF8000"
	s.OverlayOpacity = 1.7
	if got := s.OverlayBackground(); got != "rgba(255, 128, 0, 1)" {
		t.Fatalf("unexpected clamped background: %q", got)
	}

	s.OverlayColor = "red"
	s.OverlayOpacity = 0.2
	if got := s.OverlayBackground(); got != "rgba(0, 50, 100, 0.95)" {
		t.Fatalf("invalid color should fall back, got %q", got)
	}
}

func TestAppearanceLabel(t *testing.T) {
	s := Defaults()
	if got := s.Appearance().LabelText; got != DefaultWarningText {
		t.Fatalf("unexpected label: %q", got)
	}
	s.ShowWarningText = false
	if got := s.Appearance().LabelText; got != "" {
		t.Fatalf("label should be empty when warning text is hidden, got %q", got)
	}
}

func TestValidateRejectsInfiniteThresholdFromYAML(t *testing.T) {
	path := writeFile(t, "settings.yaml", "flashThreshold: .inf\n")
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := s.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for .inf threshold, got %v", err)
	}
}

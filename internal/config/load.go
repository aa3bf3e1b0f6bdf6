package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

const iniSection = "settings"

// LoadSettings reads a settings document and merges it over Defaults.
// The format is picked from the file extension.
func LoadSettings(path string) (Settings, error) {
	s := Defaults()
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".ini" {
		return loadINI(path, s)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return s, nil
	}

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &s)
	case ".toml":
		err = toml.Unmarshal(data, &s)
	case ".json", "":
		err = json.Unmarshal(data, &s)
	default:
		return Defaults(), fmt.Errorf("unsupported settings format %q", ext)
	}
	if err != nil {
		return Defaults(), fmt.Errorf("decode settings %s: %w", path, err)
	}
	return s, nil
}

func loadINI(path string, s Settings) (Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return s, fmt.Errorf("failed to load settings file: %w", err)
	}
	section := cfg.Section(iniSection)

	s.OverlayColor = section.Key("overlayColor").MustString(s.OverlayColor)
	s.OverlayOpacity = section.Key("overlayOpacity").MustFloat64(s.OverlayOpacity)
	s.CooldownTime = section.Key("cooldownTime").MustInt(s.CooldownTime)
	s.FlashThreshold = section.Key("flashThreshold").MustFloat64(s.FlashThreshold)
	s.FlashHzThreshold = section.Key("flashHzThreshold").MustInt(s.FlashHzThreshold)
	s.WindowMs = section.Key("windowMs").MustInt(s.WindowMs)
	s.ShowWarningText = section.Key("showWarningText").MustBool(s.ShowWarningText)
	s.WarningText = section.Key("warningText").MustString(s.WarningText)
	s.EnableDebugLogging = section.Key("enableDebugLogging").MustBool(s.EnableDebugLogging)
	return s, nil
}

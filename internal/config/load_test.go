package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSettingsFormats(t *testing.T) {
	files := map[string]string{
		"settings.yaml": "flashThreshold: 60\ncooldownTime: 750\n",
		"settings.toml": "flashThreshold = 60.0\ncooldownTime = 750\n",
		"settings.json": `{"flashThreshold": 60, "cooldownTime": 750}`,
		"settings.ini":  "[settings]\nflashThreshold = 60\ncooldownTime = 750\n",
	}
	for name, body := range files {
		path := writeFile(t, name, body)
		s, err := LoadSettings(path)
		if err != nil {
			t.Fatalf("%s: load: %v", name, err)
		}
		if s.FlashThreshold != 60 || s.CooldownTime != 750 {
			t.Fatalf("%s: unexpected values: %+v", name, s)
		}
		if s.FlashHzThreshold != DefaultFlashHzThreshold || s.WarningText != DefaultWarningText || !s.ShowWarningText {
			t.Fatalf("%s: defaults not preserved: %+v", name, s)
		}
	}
}

func TestLoadSettingsEmptyFile(t *testing.T) {
	path := writeFile(t, "settings.yaml", "")
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s != Defaults() {
		t.Fatalf("expected defaults, got %+v", s)
	}
}

func TestLoadSettingsUnsupported(t *testing.T) {
	path := writeFile(t, "settings.xml", "<x/>")
	if _, err := LoadSettings(path); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

package client

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultServerAddr is the relay address used when none is configured.
const DefaultServerAddr = "127.0.0.1:3737"

// Settings stores user preferences persisted as YAML next to the binary.
type Settings struct {
	ServerAddr string `yaml:"server_addr"`
	Username   string `yaml:"username,omitempty"` // last user that logged in
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		ServerAddr: DefaultServerAddr,
	}
}

// SettingsPath returns the settings file next to the executable.
func SettingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "settings.yaml")
}

// LoadSettings loads settings from the YAML file at path or returns defaults.
func LoadSettings(path string) *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag or next to the binary
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("read settings", "path", path, "err", err)
		}
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "path", path, "err", err)
		return DefaultSettings()
	}
	if s.ServerAddr == "" {
		s.ServerAddr = DefaultServerAddr
	}
	return s
}

// Save writes settings to YAML at path.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("client: encode settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

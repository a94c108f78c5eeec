package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/store"
)

// Config holds server configuration.
type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`    // UDP bind address (e.g. ":3737")
	UsersFile     string        `yaml:"users_file"`     // username|password credential file
	DBPath        string        `yaml:"db_path"`        // SQLite credential store; overrides UsersFile when set
	SweepInterval time.Duration `yaml:"sweep_interval"` // period of the idle sweep
	IdleLimit     int           `yaml:"idle_limit"`     // sweeps a session may stay idle
	MetricsAddr   string        `yaml:"metrics_addr"`   // HTTP bind address for /metrics (empty = disabled)
	ReadBuffer    int           `yaml:"read_buffer"`    // receive buffer size in bytes

	// CLI-only actions (run and exit)
	ImportUsers string `yaml:"-"` // users file to import into DBPath
	ExportUsers bool   `yaml:"-"` // export all users as YAML and exit
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:    ":3737",
		UsersFile:     "users.txt",
		SweepInterval: 60 * time.Second,
		IdleLimit:     5,
		ReadBuffer:    protocol.MaxDatagram,
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Keys missing from
// the file keep their current values.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("server: parse config: %w", err)
	}
	return nil
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("server: listen address is required")
	case c.SweepInterval <= 0:
		return fmt.Errorf("server: sweep interval must be positive, got %s", c.SweepInterval)
	case c.IdleLimit < 1:
		return fmt.Errorf("server: idle limit must be at least 1, got %d", c.IdleLimit)
	case c.ReadBuffer < 1:
		return fmt.Errorf("server: read buffer must be positive, got %d", c.ReadBuffer)
	}
	return nil
}

// UserYAML represents a user in YAML export.
type UserYAML struct {
	ID        int64  `yaml:"id,omitempty"`
	Username  string `yaml:"username"`
	CreatedAt string `yaml:"created_at,omitempty"`
}

// UsersExport is the top-level YAML for user export.
type UsersExport struct {
	Users []UserYAML `yaml:"users"`
}

// ExportUsersYAML exports all users as YAML. Passwords are never included.
func ExportUsersYAML(st store.CredentialStore) ([]byte, error) {
	users, err := st.ListUsers()
	if err != nil {
		return nil, err
	}

	export := UsersExport{Users: []UserYAML{}}
	for _, u := range users {
		entry := UserYAML{ID: u.ID, Username: u.Username}
		if !u.CreatedAt.IsZero() {
			entry.CreatedAt = u.CreatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		export.Users = append(export.Users, entry)
	}
	return yaml.Marshal(&export)
}

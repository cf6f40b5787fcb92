package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultAddr       = "0.0.0.0:8080"
	DefaultStateDir   = "fileshare-data"
	DefaultSessionTTL = 3600
)

// Config is intentionally small and JSON-friendly.
// If RequireLogin is false, every request is treated as authenticated.
type Config struct {
	// Addr is the TCP listen address.
	Addr string `json:"addr"`

	// StateDir stores the catalog database, uploads and thumbs.
	// Default: ./fileshare-data
	StateDir string `json:"stateDir"`

	// RequireLogin gates every route behind the shared password.
	RequireLogin bool `json:"requireLogin,omitempty"`

	// Password is the shared login password in plain text.
	Password string `json:"password,omitempty"`

	// PasswordBcrypt is a bcrypt hash of the shared password (see `fileshare passwd`).
	// When set it takes precedence over Password.
	PasswordBcrypt string `json:"passwordBcrypt,omitempty"`

	// AllowUploads shows the upload form and accepts POST /folder/<id>.
	AllowUploads bool `json:"allowUploads,omitempty"`

	// SessionTTLSeconds is how long a login cookie stays valid.
	SessionTTLSeconds int `json:"sessionTTLSeconds,omitempty"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	if c.SessionTTLSeconds == 0 {
		c.SessionTTLSeconds = DefaultSessionTTL
	}
}

func (c Config) Validate() error {
	if c.RequireLogin && c.Password == "" && c.PasswordBcrypt == "" {
		return errors.New("config: requireLogin needs password or passwordBcrypt")
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("config: invalid sessionTTLSeconds %d", c.SessionTTLSeconds)
	}
	return nil
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

func (c Config) DatabasePath() string {
	return filepath.Join(c.StateDir, "catalog.db")
}

func (c Config) UploadsDir() string {
	return filepath.Join(c.StateDir, "uploads")
}

func (c Config) ThumbsDir() string {
	return filepath.Join(c.StateDir, "thumbs")
}

// Load reads a JSON config file and applies defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()
	return c, nil
}

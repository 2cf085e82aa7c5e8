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
	DefaultMCPPort      = 9129
	DefaultProxyPort    = 8181
	DefaultMaxBodyBytes = 10 << 20

	dirName  = ".pasetool"
	fileName = "config.json"
)

// Version and RevNum are overridden at link time.
var (
	Version = "0.1.0"
	RevNum  = "dev"
)

// Config holds the pasetool configuration stored in ~/.pasetool/config.json
type Config struct {
	Version       string        `json:"version"`
	InitializedAt time.Time     `json:"initialized_at"`
	MCPPort       int           `json:"mcp_port"`
	ProxyPort     int           `json:"proxy_port"`
	MaxBodyBytes  int           `json:"max_body_bytes"`
	MarkRequests  bool          `json:"mark_requests"`
	Pending       PendingConfig `json:"pending"`
	Timeouts      TimeoutConfig `json:"timeouts"`
}

// PendingConfig bounds the pending-edit registry. Zero values mean unbounded.
type PendingConfig struct {
	MaxEntries int      `json:"max_entries"`
	TTL        Duration `json:"ttl,omitempty"`
}

// TimeoutConfig bounds upstream I/O of the built-in proxy.
type TimeoutConfig struct {
	Dial  Duration `json:"dial,omitempty"`
	Read  Duration `json:"read,omitempty"`
	Write Duration `json:"write,omitempty"`
}

// Duration is a time.Duration stored as a string such as "30s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	if d == 0 {
		return []byte(`""`), nil
	}
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	} else if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	} else if v < 0 {
		return fmt.Errorf("negative duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a new Config with default values
func DefaultConfig(version string) *Config {
	cfg := &Config{
		Version:       version,
		InitializedAt: time.Now().UTC(),
	}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath returns ~/.pasetool/config.json, or a relative path when the home directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(dirName, fileName)
	}
	return filepath.Join(home, dirName, fileName)
}

// Load reads and parses config from the given path.
// If the file doesn't exist, returns os.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrCreatePath loads the config at path, writing defaults there first if it does not exist.
func LoadOrCreatePath(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	cfg = DefaultConfig(Version)
	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("write default config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to the given path atomically.
func (c *Config) Save(path string) error {
	if c == nil {
		return errors.New("config is nil")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// applyDefaults fills in zero values with defaults
func (c *Config) applyDefaults() {
	if c.MCPPort == 0 {
		c.MCPPort = DefaultMCPPort
	}
	if c.ProxyPort == 0 {
		c.ProxyPort = DefaultProxyPort
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Timeouts.Dial == 0 {
		c.Timeouts.Dial = Duration(10 * time.Second)
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = Duration(60 * time.Second)
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = Duration(30 * time.Second)
	}
}

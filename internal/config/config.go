// Package config manages the device-side configuration and link credentials
// stored under ~/.config/heatsync.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// RelayConfig holds the optional peer relay settings.
type RelayConfig struct {
	Broker   string `json:"broker,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// SyncSettings holds replica sync settings.
type SyncSettings struct {
	URL          string `json:"url"`
	Enabled      bool   `json:"enabled"`
	PushInterval string `json:"push_interval,omitempty"` // duration string, default "15s"
	PullInterval string `json:"pull_interval,omitempty"` // duration string, default "1m"
}

// Config is the device config stored at ~/.config/heatsync/config.json.
type Config struct {
	Sync         SyncSettings `json:"sync"`
	Relay        RelayConfig  `json:"relay"`
	SlackMinutes *int         `json:"slack_minutes,omitempty"` // dedup overlap slack, default 5
}

// AuthCredentials stores link state at ~/.config/heatsync/auth.json.
type AuthCredentials struct {
	Token      string `json:"token"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name,omitempty"`
	ServerURL  string `json:"server_url"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// Dir returns ~/.config/heatsync, creating it if necessary.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "heatsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// Load reads the device config from config.json. A missing file yields an
// empty config, not an error.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the device config to config.json.
func Save(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads link credentials from auth.json. Returns nil when the
// device has never linked.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes link credentials to auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes auth.json.
func ClearAuth() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ServerURL returns the replica URL.
// Priority: HEATSYNC_SERVER_URL env > auth.json > config.json > default.
func ServerURL() string {
	if v := os.Getenv("HEATSYNC_SERVER_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	if cfg, err := Load(); err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// Token returns the device bearer token.
// Priority: HEATSYNC_TOKEN env > auth.json.
func Token() string {
	if v := os.Getenv("HEATSYNC_TOKEN"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.Token
	}
	return ""
}

// IsLinked reports whether a device token is available.
func IsLinked() bool {
	return Token() != ""
}

// DeviceID returns the persisted device id, generating and saving one on
// first use. The id survives relinking so the replica keeps attributing
// changes to the same device.
func DeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	if creds.DeviceID == "" {
		creds.DeviceID = uuid.NewString()
		if err := SaveAuth(creds); err != nil {
			return "", fmt.Errorf("persist device id: %w", err)
		}
	}
	return creds.DeviceID, nil
}

// SlackMinutes returns the dedup overlap slack in minutes.
// Priority: HEATSYNC_SLACK_MINUTES env > config.json > 5.
func SlackMinutes() int {
	if v := os.Getenv("HEATSYNC_SLACK_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	if cfg, err := Load(); err == nil && cfg.SlackMinutes != nil && *cfg.SlackMinutes >= 0 {
		return *cfg.SlackMinutes
	}
	return 5
}

// PushInterval returns the outbox push cadence for the sync agent.
// Priority: HEATSYNC_PUSH_INTERVAL env > config.json > 15s.
func PushInterval() time.Duration {
	return durationSetting("HEATSYNC_PUSH_INTERVAL", func(cfg *Config) string {
		return cfg.Sync.PushInterval
	}, 15*time.Second)
}

// PullInterval returns the replica pull cadence for the sync agent.
// Priority: HEATSYNC_PULL_INTERVAL env > config.json > 1m.
func PullInterval() time.Duration {
	return durationSetting("HEATSYNC_PULL_INTERVAL", func(cfg *Config) string {
		return cfg.Sync.PullInterval
	}, time.Minute)
}

func durationSetting(envKey string, pick func(*Config) string, def time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if cfg, err := Load(); err == nil {
		if v := pick(cfg); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
	}
	return def
}

// RelaySettings returns the relay config with env overrides applied.
// HEATSYNC_RELAY_BROKER and HEATSYNC_RELAY_TOPIC take precedence.
func RelaySettings() RelayConfig {
	cfg, err := Load()
	if err != nil {
		cfg = &Config{}
	}
	rc := cfg.Relay
	if v := os.Getenv("HEATSYNC_RELAY_BROKER"); v != "" {
		rc.Broker = v
	}
	if v := os.Getenv("HEATSYNC_RELAY_TOPIC"); v != "" {
		rc.Topic = v
	}
	return rc
}

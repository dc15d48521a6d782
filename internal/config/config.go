// Package config loads the persistent configuration: a JSON file in the
// data directory, then DONKI_* environment overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/abelbrown/spaceweather/internal/donki"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DONKI"

// Duration is a time.Duration written as "30m" in JSON and the environment.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	return d.Decode(s)
}

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the persistent application configuration
type Config struct {
	// APIKey overrides the shared demo key.
	APIKey  string `json:"api_key,omitempty" envconfig:"API_KEY"`
	BaseURL string `json:"base_url" envconfig:"BASE_URL"`
	// DataDir holds both cache databases, the logs and this file.
	DataDir string `json:"data_dir" envconfig:"DATA_DIR"`

	// UnreadThreshold: notifications older than this when first stored
	// are stored as read.
	UnreadThreshold Duration `json:"unread_threshold" envconfig:"UNREAD_THRESHOLD"`
	UpdateInterval  Duration `json:"update_interval" envconfig:"UPDATE_INTERVAL"`
	HTTPTimeout     Duration `json:"http_timeout" envconfig:"HTTP_TIMEOUT"`
	// RatePerHour paces requests client side. 0 disables pacing.
	RatePerHour int `json:"rate_per_hour" envconfig:"RATE_PER_HOUR"`

	MetricsAddr string `json:"metrics_addr" envconfig:"METRICS_ADDR"`
	LogLevel    string `json:"log_level" envconfig:"LOG_LEVEL"`

	// EventTypes is the default event type filter; empty means all.
	EventTypes []string `json:"event_types,omitempty" envconfig:"EVENT_TYPES"`
}

// DefaultDataDir returns ~/.spaceweather.
func DefaultDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".spaceweather")
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:         "https://api.nasa.gov/DONKI/",
		DataDir:         DefaultDataDir(),
		UnreadThreshold: Duration(12 * time.Hour),
		UpdateInterval:  Duration(30 * time.Minute),
		HTTPTimeout:     Duration(30 * time.Second),
		MetricsAddr:     "127.0.0.1:9464",
		LogLevel:        "info",
	}
}

// ConfigPath returns the path to the config file, honouring DONKI_DATA_DIR.
func ConfigPath() string {
	dir := os.Getenv(EnvPrefix + "_DATA_DIR")
	if dir == "" {
		dir = DefaultDataDir()
	}
	return filepath.Join(dir, "config.json")
}

// Load reads path over the defaults, then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	return cfg, nil
}

// Save writes config to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for the API key
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q", c.BaseURL)
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.UnreadThreshold < 0 {
		return fmt.Errorf("unread_threshold must not be negative, got %s", time.Duration(c.UnreadThreshold))
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %s", time.Duration(c.HTTPTimeout))
	}
	if c.RatePerHour < 0 {
		return fmt.Errorf("rate_per_hour must not be negative, got %d", c.RatePerHour)
	}
	if _, err := c.Types(); err != nil {
		return err
	}
	return nil
}

// Types parses EventTypes; empty selects every type.
func (c *Config) Types() ([]donki.EventType, error) {
	if len(c.EventTypes) == 0 {
		return donki.EventTypes(), nil
	}
	out := make([]donki.EventType, 0, len(c.EventTypes))
	for _, s := range c.EventTypes {
		t, err := donki.ParseEventType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// EventsDBPath is the events cache database.
func (c *Config) EventsDBPath() string { return filepath.Join(c.DataDir, "events.db") }

// NotificationsDBPath is the notifications cache database.
func (c *Config) NotificationsDBPath() string {
	return filepath.Join(c.DataDir, "notifications.db")
}

// LogDir is where daily log files go.
func (c *Config) LogDir() string { return filepath.Join(c.DataDir, "logs") }

// EventLogPath is the JSONL observability event log.
func (c *Config) EventLogPath() string { return filepath.Join(c.DataDir, "events.jsonl") }

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/tapoctl/internal/tapo"
)

// Config represents the application configuration
type Config struct {
	Devices         []DeviceConfig    `yaml:"devices"`
	Session         SessionConfig     `yaml:"session"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Server          ServerConfig      `yaml:"server"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	VerifyKind      bool              `yaml:"verify_kind"`      // Compare reported model against the configured kind
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig describes one controllable device
type DeviceConfig struct {
	Name            string `yaml:"name"`
	Address         string `yaml:"address"`
	Kind            string `yaml:"kind"` // plug, strip or hub
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	StrictNicknames bool   `yaml:"strict_nicknames"` // Duplicate child nicknames are an error instead of first-wins
}

// Endpoint returns the device's network identity
func (d DeviceConfig) Endpoint() tapo.Endpoint {
	return tapo.Endpoint{Address: d.Address, Kind: tapo.Kind(strings.ToLower(strings.TrimSpace(d.Kind)))}
}

// Credentials returns the device's login
func (d DeviceConfig) Credentials() tapo.Credentials {
	return tapo.Credentials{Username: d.Username, Secret: d.Password}
}

// SessionConfig contains device session settings
type SessionConfig struct {
	Timeout      Duration `yaml:"timeout"`        // Per-call timeout, also used for HTTP round trips (default: 10s)
	RateLimitRPS *float64 `yaml:"rate_limit_rps"` // Commands per second per device, 0 = unlimited (default: 5)
	MaxInFlight  int      `yaml:"max_in_flight"`  // Concurrent commands per device (default: 1)
}

// GetRateLimitRPS returns the per-device command rate with default
func (c *SessionConfig) GetRateLimitRPS() float64 {
	if c.RateLimitRPS == nil {
		return 5.0
	}
	return *c.RateLimitRPS
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// LedgerConfig contains command ledger settings
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // default: true
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is on
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ServerConfig contains control API settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 64
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./tapoctl.sqlite"
	}

	// Session defaults
	if cfg.Session.Timeout == 0 {
		cfg.Session.Timeout = Duration(10 * time.Second)
	}
	if cfg.Session.MaxInFlight == 0 {
		cfg.Session.MaxInFlight = 1
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Device returns the device with the given name
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		field := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			return &tapo.ConfigurationError{Field: field + ".name", Reason: "name is required"}
		}
		if seen[d.Name] {
			return &tapo.ConfigurationError{Field: field + ".name", Reason: fmt.Sprintf("duplicate device name %q", d.Name)}
		}
		seen[d.Name] = true

		if d.Address == "" {
			return &tapo.ConfigurationError{Field: field + ".address", Reason: "address is required"}
		}
		if _, err := tapo.ParseKind(d.Kind); err != nil {
			return fmt.Errorf("%s.kind: %w", field, err)
		}
	}
	if c.Session.MaxInFlight < 0 {
		return &tapo.ConfigurationError{Field: "session.max_in_flight", Reason: "must not be negative"}
	}
	if c.Session.GetRateLimitRPS() < 0 {
		return &tapo.ConfigurationError{Field: "session.rate_limit_rps", Reason: "must not be negative"}
	}
	if c.Ledger.CleanupInterval <= 0 {
		return &tapo.ConfigurationError{Field: "ledger.cleanup_interval", Reason: "must be positive"}
	}
	if c.Ledger.RetentionDays < 0 {
		return &tapo.ConfigurationError{Field: "ledger.retention_days", Reason: "must not be negative"}
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ABOUTME: Configuration loading and parsing for lawbuddy
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete lawbuddy configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Generation GenerationConfig `yaml:"generation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// GeminiConfig holds the upstream model configuration
type GeminiConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int32   `yaml:"max_tokens"`
}

// GenerationConfig holds streaming lifecycle timing configuration
type GenerationConfig struct {
	LeaseDuration  time.Duration `yaml:"-"`
	LeaseHeartbeat time.Duration `yaml:"-"`
	StreamTimeout  time.Duration `yaml:"-"`
	HistoryWindow  int           `yaml:"history_window"`

	// StreamingDisabled switches generation to single-shot responses.
	StreamingDisabled bool `yaml:"streaming_disabled"`

	// Raw string values for YAML unmarshaling
	LeaseDurationRaw  string `yaml:"lease_duration"`
	LeaseHeartbeatRaw string `yaml:"lease_heartbeat"`
	StreamTimeoutRaw  string `yaml:"stream_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = ":8080"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Gemini.Temperature == 0 {
		cfg.Gemini.Temperature = 0.7
	}
	if cfg.Gemini.MaxTokens == 0 {
		cfg.Gemini.MaxTokens = 2048
	}
	if cfg.Generation.HistoryWindow == 0 {
		cfg.Generation.HistoryWindow = 6
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Generation.HistoryWindow < 0 {
		return fmt.Errorf("generation.history_window must not be negative")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Server.ShutdownTimeout = 10 * time.Second
	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	cfg.Generation.LeaseDuration = 30 * time.Second
	if cfg.Generation.LeaseDurationRaw != "" {
		cfg.Generation.LeaseDuration, err = time.ParseDuration(cfg.Generation.LeaseDurationRaw)
		if err != nil {
			return fmt.Errorf("parsing lease_duration %q: %w", cfg.Generation.LeaseDurationRaw, err)
		}
	}

	cfg.Generation.LeaseHeartbeat = 10 * time.Second
	if cfg.Generation.LeaseHeartbeatRaw != "" {
		cfg.Generation.LeaseHeartbeat, err = time.ParseDuration(cfg.Generation.LeaseHeartbeatRaw)
		if err != nil {
			return fmt.Errorf("parsing lease_heartbeat %q: %w", cfg.Generation.LeaseHeartbeatRaw, err)
		}
	}

	cfg.Generation.StreamTimeout = 2 * time.Minute
	if cfg.Generation.StreamTimeoutRaw != "" {
		cfg.Generation.StreamTimeout, err = time.ParseDuration(cfg.Generation.StreamTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing stream_timeout %q: %w", cfg.Generation.StreamTimeoutRaw, err)
		}
	}

	if cfg.Generation.LeaseHeartbeat >= cfg.Generation.LeaseDuration {
		return fmt.Errorf("generation.lease_heartbeat must be shorter than generation.lease_duration")
	}

	return nil
}

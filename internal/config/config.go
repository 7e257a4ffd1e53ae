// ABOUTME: Configuration loading and parsing for pllm-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete pllm-gateway configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Auth    AuthConfig    `yaml:"auth"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DataConfig holds the on-disk state directory configuration
type DataConfig struct {
	// Dir holds the encrypted stores and key material
	// (users.enc, sessions.enc, .auth_key, .jwt_secret)
	Dir string `yaml:"dir"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// AdminPassword seeds the first-run admin account; when empty a random
	// password is generated and printed once at startup
	AdminPassword string `yaml:"admin_password"`

	DefaultRateLimit int  `yaml:"default_rate_limit"`
	LockoutThreshold int  `yaml:"lockout_threshold"`
	StrictSessionIP  bool `yaml:"strict_session_ip"`

	SessionTTL    time.Duration `yaml:"-"`
	TokenTTL      time.Duration `yaml:"-"`
	LockoutWindow time.Duration `yaml:"-"`
	RateWindow    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SessionTTLRaw    string `yaml:"session_ttl"`
	TokenTTLRaw      string `yaml:"token_ttl"`
	LockoutWindowRaw string `yaml:"lockout_window"`
	RateWindowRaw    string `yaml:"rate_window"`
}

// AuditConfig holds audit trail configuration
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied by Validate for fields left unset.
const (
	DefaultHTTPAddr   = "127.0.0.1:8080"
	DefaultSessionTTL = 24 * time.Hour
	DefaultTokenTTL   = 24 * time.Hour
)

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

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate and apply defaults
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default(dataDir string) *Config {
	cfg := &Config{}
	cfg.Data.Dir = dataDir
	_ = cfg.Validate()
	return cfg
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

// Validate checks required fields and fills in defaults for the rest.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}

	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = DefaultSessionTTL
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Auth.DefaultRateLimit < 0 {
		return fmt.Errorf("auth.default_rate_limit must not be negative")
	}
	if c.Auth.LockoutThreshold < 0 {
		return fmt.Errorf("auth.lockout_threshold must not be negative")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		c.Audit.Path = c.Data.Dir + "/audit.db"
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.SessionTTLRaw != "" {
		cfg.Auth.SessionTTL, err = time.ParseDuration(cfg.Auth.SessionTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing session_ttl %q: %w", cfg.Auth.SessionTTLRaw, err)
		}
	}

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Auth.LockoutWindowRaw != "" {
		cfg.Auth.LockoutWindow, err = time.ParseDuration(cfg.Auth.LockoutWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing lockout_window %q: %w", cfg.Auth.LockoutWindowRaw, err)
		}
	}

	if cfg.Auth.RateWindowRaw != "" {
		cfg.Auth.RateWindow, err = time.ParseDuration(cfg.Auth.RateWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_window %q: %w", cfg.Auth.RateWindowRaw, err)
		}
	}

	return nil
}

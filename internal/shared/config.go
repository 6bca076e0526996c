package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig           `toml:"database"`
	Engine   EngineConfig             `toml:"engine"`
	Backends map[string]BackendConfig `toml:"backends"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// EngineConfig contains acquisition engine policy settings.
//
// Retry counts, backoff curves, and expiry skew are deployment-specific and always
// supplied here rather than hardcoded in the engine.
type EngineConfig struct {
	MaxAttempts   int `toml:"max_attempts"`    // Total attempts per job, including the first
	ChunkRetries  int `toml:"chunk_retries"`   // Per-chunk transient retry budget
	BackoffBaseMS int `toml:"backoff_base_ms"` // First retry delay
	BackoffCapMS  int `toml:"backoff_cap_ms"`  // Ceiling for exponential backoff
	JobTimeoutMS  int `toml:"job_timeout_ms"`  // Wall-clock ceiling across all attempts
	ExpirySkewMS  int `toml:"expiry_skew_ms"`  // Credentials this close to expiry are refreshed
}

// BackendConfig contains per-backend settings: transport endpoints, credentials,
// rate budget, and delivery-mode specific constants.
type BackendConfig struct {
	Delivery       string `toml:"delivery"` // "stream" or "peer"
	BaseURL        string `toml:"base_url"`
	ClientID       string `toml:"client_id"`
	ClientSecret   string `toml:"client_secret"`
	RedirectURI    string `toml:"redirect_uri"`
	MinIntervalMS  int    `toml:"min_interval_ms"`
	Burst          int    `toml:"burst"`
	ChunkSize      int    `toml:"chunk_size"`       // Stream delivery: encrypted chunk size in bytes
	StrictOrder    bool   `toml:"strict_order"`     // Stream delivery: chunks must arrive in index order
	PollIntervalMS int    `toml:"poll_interval_ms"` // Peer delivery: delay between status polls
	PollBudget     int    `toml:"poll_budget"`      // Peer delivery: polls without progress before timing out
}

// Delivery mode values for [BackendConfig.Delivery].
const (
	DeliveryStream = "stream"
	DeliveryPeer   = "peer"
)

// MinInterval returns the configured admission interval as a [time.Duration].
func (b BackendConfig) MinInterval() time.Duration {
	return time.Duration(b.MinIntervalMS) * time.Millisecond
}

// PollInterval returns the configured poll interval as a [time.Duration].
func (b BackendConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMS) * time.Millisecond
}

// BackoffBase returns the first retry delay as a [time.Duration].
func (e EngineConfig) BackoffBase() time.Duration {
	return time.Duration(e.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the backoff ceiling as a [time.Duration].
func (e EngineConfig) BackoffCap() time.Duration {
	return time.Duration(e.BackoffCapMS) * time.Millisecond
}

// JobTimeout returns the job wall-clock ceiling as a [time.Duration].
func (e EngineConfig) JobTimeout() time.Duration {
	return time.Duration(e.JobTimeoutMS) * time.Millisecond
}

// ExpirySkew returns the credential refresh skew as a [time.Duration].
func (e EngineConfig) ExpirySkew() time.Duration {
	return time.Duration(e.ExpirySkewMS) * time.Millisecond
}

// Validate checks backend delivery modes and required fields.
func (c *Config) Validate() error {
	for id, backend := range c.Backends {
		switch backend.Delivery {
		case DeliveryStream, DeliveryPeer:
		default:
			return fmt.Errorf("%w: backend %s has unknown delivery mode %q", ErrInvalidConfig, id, backend.Delivery)
		}
		if backend.BaseURL == "" {
			return fmt.Errorf("%w: backend %s is missing base_url", ErrInvalidConfig, id)
		}
		if backend.Delivery == DeliveryStream && backend.ChunkSize%16 != 0 {
			return fmt.Errorf("%w: backend %s chunk_size must be a multiple of the cipher block size", ErrInvalidConfig, id)
		}
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

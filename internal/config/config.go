// Package config loads the MCS server's process-wide configuration.
//
// Configuration is read once at startup from a YAML file and is treated as
// immutable for the lifetime of the process; picking up a changed value
// requires a restart (see Design Notes in SPEC_FULL.md).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object. Field names mirror the
// recognized options enumerated in spec.md §9.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	AuthToken string `yaml:"auth_token"`

	LLM LLMConfig `yaml:"llm"`

	ClaimTTL                 time.Duration `yaml:"claim_ttl"`
	MaxRetries               int           `yaml:"max_retries"`
	MaxReworkCycles          int           `yaml:"max_rework_cycles"`
	AuditConfidenceThreshold float64       `yaml:"audit_confidence_threshold"`
	LockTTL                  time.Duration `yaml:"lock_ttl"`
	FastModeDefault          bool          `yaml:"fast_mode_default"`
	Roles                    []string      `yaml:"roles"`

	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`

	RateLimiter    RateLimiterConfig    `yaml:"rate_limiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// LLMConfig configures the LLM Gateway's default model and retry policy.
// Model is provider-prefixed, e.g. "openai:gpt-4o-mini" or "ollama:llama3".
type LLMConfig struct {
	Model       string `yaml:"model"`
	MaxTokens   int    `yaml:"max_tokens"`
	MaxAttempts int    `yaml:"max_attempts"`
	APIKey      string `yaml:"api_key"`
	OllamaAddr  string `yaml:"ollama_addr"`
}

// MySQLConfig configures the Store's backing relational database.
type MySQLConfig struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
}

// RedisConfig configures the Lock Manager's lease cache.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig configures the domain event bus.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RateLimiterConfig selects and configures one of the API surface's rate
// limiting algorithms. Algorithm is one of "token_bucket" (default),
// "leaky_bucket", "fixed_window_counter", "sliding_window_counter", or
// "sliding_window_log" — every algorithm the teacher's pkg/ratelimiter
// implements gets a config knob here rather than picking one and dropping
// the rest.
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Algorithm string  `yaml:"algorithm"`
	Rate     float64 `yaml:"rate"`
	Capacity int     `yaml:"capacity"`

	Window     time.Duration `yaml:"window"`
	NumBuckets int           `yaml:"num_buckets"`
}

// CircuitBreakerConfig protects the API surface from a wedged Store or
// LLM Gateway dependency.
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failure_threshold"`
	SuccessThreshold uint32 `yaml:"success_threshold"`
	Timeout          string `yaml:"timeout"`
}

// Default returns a Config with the defaults named in spec.md §9.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		LLM: LLMConfig{
			Model:       "openai:gpt-4o-mini",
			MaxTokens:   4096,
			MaxAttempts: 3,
		},
		ClaimTTL:                 10 * time.Minute,
		MaxRetries:               2,
		MaxReworkCycles:          2,
		AuditConfidenceThreshold: 0.6,
		LockTTL:                  10 * time.Minute,
		FastModeDefault:          false,
		Roles: []string{
			"analyst", "researcher", "writer", "developer", "tester", "architect", "auditor",
		},
		Kafka: KafkaConfig{
			Topic: "mcs.events",
		},
		RateLimiter: RateLimiterConfig{
			Enabled:    true,
			Algorithm:  "token_bucket",
			Rate:       50,
			Capacity:   100,
			Window:     time.Minute,
			NumBuckets: 6,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          "30s",
		},
	}
}

// Load reads a YAML config file starting from Default() and then applies
// environment variable overrides for secrets that should never live on disk.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCS_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("MCS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MCS_MYSQL_PASSWORD"); v != "" {
		cfg.MySQL.Password = v
	}
	if v := os.Getenv("MCS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// Validate rejects configurations the rest of the system cannot safely run
// with; called once at startup so failures surface before any request does.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AuthToken) == "" {
		return fmt.Errorf("config: auth_token must be set")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config: roles must not be empty")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must be >= 0")
	}
	if c.AuditConfidenceThreshold < 0 || c.AuditConfidenceThreshold > 1 {
		return fmt.Errorf("config: audit_confidence_threshold must be in [0,1]")
	}
	return nil
}

// HasRole reports whether role is in the configured closed enumeration.
func (c *Config) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

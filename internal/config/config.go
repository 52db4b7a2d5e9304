package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlaceholderUpstreamURL is the value shipped in the sample config. Startup
// refuses to run against it.
const PlaceholderUpstreamURL = "https://your-llm-api.com/v1/chat/completions"

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Logging      LoggingConfig      `yaml:"logging"`
	CORS         CORSConfig         `yaml:"cors"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Redis        RedisConfig        `yaml:"redis"`
	Conversation ConversationConfig `yaml:"conversation"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type UpstreamConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	UserAgent          string        `yaml:"user_agent"`
	Timeout            time.Duration `yaml:"timeout"`
	StreamTimeout      time.Duration `yaml:"stream_timeout"`
	MaxConnections     int           `yaml:"max_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`

	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type CircuitBreakerConfig struct {
	Enabled               bool          `yaml:"enabled"`
	FailureThreshold      int           `yaml:"failure_threshold"`
	RecoveryProbeInterval time.Duration `yaml:"recovery_probe_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// Dir enables a rotating gateway.log under this directory. Empty logs to
	// stdout only.
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type CORSConfig struct {
	// Origins is a comma-separated allowlist. "*" allows any origin.
	Origins string `yaml:"origins"`
}

// AllowedOrigins splits Origins into a trimmed list.
func (c CORSConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.Origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// ConversationConfig shapes the message list before it is forwarded. The zero
// value forwards the caller's messages untouched.
type ConversationConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	HistoryWindow int    `yaml:"history_window"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             9393,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			URL:                PlaceholderUpstreamURL,
			UserAgent:          "Isolated-Chat/1.0",
			Timeout:            30 * time.Second,
			StreamTimeout:      60 * time.Second,
			MaxConnections:     100,
			MaxIdleConnections: 10,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:               false,
				FailureThreshold:      5,
				RecoveryProbeInterval: 15 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		CORS: CORSConfig{Origins: "*"},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 20,
		},
	}
}

// Validate rejects configurations the gateway cannot serve with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Upstream.APIKey) == "" {
		errs = append(errs, errors.New("upstream.api_key is not set"))
	}
	if u := strings.TrimSpace(c.Upstream.URL); u == "" || u == PlaceholderUpstreamURL {
		errs = append(errs, errors.New("upstream.url must point at a real chat-completions endpoint"))
	}
	if c.Upstream.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("upstream.retry.max_attempts must be at least 1, got %d", c.Upstream.Retry.MaxAttempts))
	}
	if c.Upstream.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("upstream.retry.base_delay must not be negative"))
	}
	if c.Upstream.Timeout <= 0 || c.Upstream.StreamTimeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be positive"))
	}
	if c.Conversation.HistoryWindow < 0 {
		errs = append(errs, errors.New("conversation.history_window must not be negative"))
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_minute must be positive when enabled"))
	}
	return errors.Join(errs...)
}

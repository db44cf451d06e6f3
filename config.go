package cakemail

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment configuration surface. Every field maps to a
// CAKEMAIL_* variable; durations are in milliseconds to match the API
// documentation's option names.
type Config struct {
	BaseURL  string `env:"CAKEMAIL_BASE_URL" envDefault:"https://api.cakemail.dev"`
	TokenURL string `env:"CAKEMAIL_TOKEN_URL"`
	Username string `env:"CAKEMAIL_USERNAME"`
	Password string `env:"CAKEMAIL_PASSWORD"`

	TimeoutMs             int `env:"CAKEMAIL_TIMEOUT_MS" envDefault:"30000"`
	MaxConcurrentRequests int `env:"CAKEMAIL_MAX_CONCURRENT_REQUESTS" envDefault:"10"`

	RetryMaxAttempts int `env:"CAKEMAIL_RETRY_MAX_ATTEMPTS" envDefault:"4"`
	RetryBaseDelayMs int `env:"CAKEMAIL_RETRY_BASE_DELAY_MS" envDefault:"300"`
	RetryMaxDelayMs  int `env:"CAKEMAIL_RETRY_MAX_DELAY_MS" envDefault:"10000"`

	RateLimitEnabled    bool    `env:"CAKEMAIL_RATE_LIMIT_ENABLED" envDefault:"false"`
	RateLimitCapacity   int     `env:"CAKEMAIL_RATE_LIMIT_CAPACITY" envDefault:"10"`
	RateLimitRefillRate float64 `env:"CAKEMAIL_RATE_LIMIT_REFILL_RATE" envDefault:"5"`

	CircuitBreakerEnabled          bool `env:"CAKEMAIL_CIRCUIT_BREAKER_ENABLED" envDefault:"true"`
	CircuitBreakerFailureThreshold int  `env:"CAKEMAIL_CIRCUIT_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	CircuitBreakerResetTimeoutMs   int  `env:"CAKEMAIL_CIRCUIT_BREAKER_RESET_TIMEOUT_MS" envDefault:"60000"`

	MetricsEnabled bool `env:"CAKEMAIL_METRICS_ENABLED" envDefault:"false"`
	Debug          bool `env:"CAKEMAIL_DEBUG" envDefault:"false"`
}

// ConfigFromEnv loads configuration from the process environment.
func ConfigFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Options translates the configuration into client options.
func (cfg *Config) Options() []Option {
	opts := []Option{
		WithBaseURL(cfg.BaseURL),
		WithTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond),
		WithMaxConcurrentRequests(cfg.MaxConcurrentRequests),
		WithRetryPolicy(NewRetryPolicy(
			cfg.RetryMaxAttempts,
			time.Duration(cfg.RetryBaseDelayMs)*time.Millisecond,
			time.Duration(cfg.RetryMaxDelayMs)*time.Millisecond,
		)),
	}

	if cfg.TokenURL != "" {
		opts = append(opts, WithTokenURL(cfg.TokenURL))
	}
	if cfg.Username != "" {
		opts = append(opts, WithCredentials(Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		}))
	}
	if cfg.RateLimitEnabled {
		opts = append(opts, WithRateLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefillRate))
	}
	if cfg.CircuitBreakerEnabled {
		opts = append(opts, WithCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			ResetTimeout:     time.Duration(cfg.CircuitBreakerResetTimeoutMs) * time.Millisecond,
		}))
	} else {
		opts = append(opts, WithoutCircuitBreaker())
	}
	if cfg.MetricsEnabled {
		opts = append(opts, WithMetrics())
	}
	if cfg.Debug {
		opts = append(opts, WithSimpleLogger())
	}

	return opts
}

// NewFromEnv builds a client entirely from environment variables. Extra
// options are applied after the environment-derived ones, so they win.
func NewFromEnv(extra ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client := New(append(cfg.Options(), extra...)...)
	if err := client.ValidationError(); err != nil {
		return nil, err
	}
	return client, nil
}

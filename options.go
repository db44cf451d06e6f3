package cakemail

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WithBaseURL sets the API base URL (no trailing slash needed).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithTokenURL overrides the token endpoint (default: baseURL + "/token").
func WithTokenURL(tokenURL string) Option {
	return func(c *Client) {
		c.tokenURL = tokenURL
		if c.credentials != nil {
			c.credentials.tokenURL = tokenURL
		}
	}
}

// WithCredentials sets the account credentials used for password-grant
// authentication.
func WithCredentials(creds Credentials) Option {
	return func(c *Client) {
		c.credentials = NewCredentialManager(c.tokenURL, creds, c.httpClient)
	}
}

// WithCredentialManager installs a pre-built credential manager (useful in
// tests, or to share one manager across clients).
func WithCredentialManager(m *CredentialManager) Option {
	return func(c *Client) {
		c.credentials = m
	}
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxConcurrentRequests sets the request queue capacity.
func WithMaxConcurrentRequests(n int) Option {
	return func(c *Client) {
		c.queue = NewRequestQueue(n)
	}
}

// WithRetryPolicy replaces the retry policy wholesale.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(c *Client) {
		c.retryPolicy = p
	}
}

// WithRateLimiter enables client-side rate limiting: capacity tokens,
// refilling at refillRate tokens per second.
func WithRateLimiter(capacity int, refillRate float64) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(capacity, refillRate)
	}
}

// WithCircuitBreaker configures the circuit breaker.
func WithCircuitBreaker(config CircuitBreakerConfig) Option {
	return func(c *Client) {
		c.circuitBreaker = NewCircuitBreaker(config)
	}
}

// WithoutCircuitBreaker disables the circuit breaker stage entirely.
func WithoutCircuitBreaker() Option {
	return func(c *Client) {
		c.circuitBreaker = nil
	}
}

// WithCache enables GET response caching with the default in-memory cache.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = NewInMemoryCache()
		c.cacheTTL = ttl
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithHTTPClient sets a custom *http.Client (transport tuning, proxies).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
		if c.credentials != nil {
			c.credentials.httpClient = client
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithDebug enables debug logging with the current debug configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets a custom request correlation ID generator.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration checks the client configuration and returns a
// Validation-typed *ClientError describing every problem found.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	problems = append(problems, c.validateCoreConfig()...)
	problems = append(problems, c.validateRetryConfig()...)
	problems = append(problems, c.validateRateLimiterConfig()...)
	problems = append(problems, c.validateCircuitBreakerConfig()...)
	problems = append(problems, c.validateCacheConfig()...)
	problems = append(problems, c.validateDebugConfig()...)

	if len(problems) > 0 {
		return &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "configuration validation failed",
			Cause:     fmt.Errorf("validation errors: %v", problems),
			Timestamp: time.Now(),
		}
	}
	return nil
}

func (c *Client) validateCoreConfig() []string {
	var problems []string

	if c.baseURL == "" {
		problems = append(problems, "baseURL must be set")
	}
	if c.httpClient == nil {
		problems = append(problems, "HTTP client cannot be nil")
	}
	if c.timeout <= 0 {
		problems = append(problems, "timeout must be positive")
	}
	if c.timeout > 10*time.Minute {
		problems = append(problems, "timeout > 10m may cause requests to hang for too long")
	}
	if c.queue == nil {
		problems = append(problems, "request queue cannot be nil")
	}

	return problems
}

func (c *Client) validateRetryConfig() []string {
	var problems []string

	if c.retryPolicy == nil {
		problems = append(problems, "retry policy cannot be nil")
		return problems
	}
	if c.retryPolicy.MaxAttempts < 1 {
		problems = append(problems, "retry MaxAttempts must be at least 1")
	}
	if c.retryPolicy.MaxAttempts > 100 {
		problems = append(problems, "retry MaxAttempts > 100 may cause excessive resource usage")
	}
	if c.retryPolicy.BaseDelay <= 0 {
		problems = append(problems, "retry BaseDelay must be positive")
	}
	if c.retryPolicy.MaxDelay < c.retryPolicy.BaseDelay {
		problems = append(problems, "retry MaxDelay must be greater than or equal to BaseDelay")
	}
	if c.retryPolicy.Multiplier <= 0 {
		problems = append(problems, "retry Multiplier must be positive")
	}
	if c.retryPolicy.Jitter < 0 || c.retryPolicy.Jitter > 1 {
		problems = append(problems, "retry Jitter must be between 0 and 1")
	}

	return problems
}

func (c *Client) validateRateLimiterConfig() []string {
	var problems []string

	if c.rateLimiter != nil {
		if c.rateLimiter.capacity <= 0 {
			problems = append(problems, "rateLimiter capacity must be positive")
		}
		if c.rateLimiter.refillRate <= 0 {
			problems = append(problems, "rateLimiter refillRate must be positive")
		}
	}

	return problems
}

func (c *Client) validateCircuitBreakerConfig() []string {
	var problems []string

	if c.circuitBreaker != nil {
		if c.circuitBreaker.config.FailureThreshold <= 0 {
			problems = append(problems, "circuitBreaker FailureThreshold must be positive")
		}
		if c.circuitBreaker.config.ResetTimeout <= 0 {
			problems = append(problems, "circuitBreaker ResetTimeout must be positive")
		}
	}

	return problems
}

func (c *Client) validateCacheConfig() []string {
	var problems []string

	if c.cache != nil && c.cacheTTL <= 0 {
		problems = append(problems, "cacheTTL must be positive when cache is enabled")
	}

	return problems
}

func (c *Client) validateDebugConfig() []string {
	var problems []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			problems = append(problems, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			problems = append(problems, "logger must be set when debug is enabled")
		}
	}

	return problems
}

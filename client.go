package cakemail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a resilient Cakemail API client. Every call flows through queue
// admission, a circuit breaker gate and a retry loop; within each attempt the
// rate limiter may delay it and the credential manager attaches a valid
// bearer token. Safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	tokenURL    string
	userAgent   string
	timeout     time.Duration
	retryPolicy *RetryPolicy

	circuitBreaker *CircuitBreaker
	rateLimiter    *RateLimiter
	queue          *RequestQueue
	credentials    *CredentialManager

	cache    Cache
	cacheTTL time.Duration

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// Result is the normalized outcome of a successful call. Body holds the raw
// JSON payload; for bodyless responses (deletions, 204s) Body is nil and
// Success is still true.
type Result struct {
	StatusCode int
	Body       json.RawMessage
	Success    bool
}

// Decode unmarshals the result body into v.
func (r *Result) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("cakemail: response has no body to decode (status %d)", r.StatusCode)
	}
	return json.Unmarshal(r.Body, v)
}

// Option configures a Client.
type Option func(*Client)

// New constructs a Client. Configuration is validated best effort; check
// ValidationError before first use if construction inputs are untrusted.
func New(options ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		timeout:        30 * time.Second,
		userAgent:      "cakemail-go/" + Version,
		retryPolicy:    NewRetryPolicy(4, 300*time.Millisecond, 10*time.Second),
		circuitBreaker: NewCircuitBreaker(CircuitBreakerConfig{}),
		queue:          NewRequestQueue(10),
		cacheTTL:       5 * time.Minute,
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(c)
	}

	if c.tokenURL == "" && c.baseURL != "" {
		c.tokenURL = strings.TrimRight(c.baseURL, "/") + "/token"
	}
	if c.credentials != nil {
		// Constructed by WithCredentials before tokenURL default applied.
		if c.credentials.tokenURL == "" {
			c.credentials.tokenURL = c.tokenURL
		}
		c.credentials.logger = c.logger
		c.credentials.debug = c.debug
		c.credentials.metrics = c.metrics
	}

	if err := c.ValidateConfiguration(); err != nil {
		c.validationError = err
	}
	return c
}

// Execute performs a named HTTP operation against the API: method and path
// (relative to the base URL), with an optional JSON body. It returns the
// normalized Result or a structured *ClientError.
func (c *Client) Execute(ctx context.Context, method, path string, body interface{}) (*Result, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	start := time.Now()
	endpoint := endpointLabel(path)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}
	if c.debugLogOn(c.debug != nil && c.debug.LogRequests) {
		c.logger.Debug("Starting request", "requestID", requestID, "method", method, "endpoint", endpoint)
	}

	cacheable := c.cache != nil && method == http.MethodGet
	cacheKey := method + " " + path
	if cacheable {
		if entry, found := c.cache.Get(cacheKey); found {
			c.metrics.RecordCacheHit(method, endpoint)
			c.metrics.RecordRequest(method, endpoint, entry.StatusCode, time.Since(start))
			return &Result{StatusCode: entry.StatusCode, Body: entry.Body, Success: true}, nil
		}
		c.metrics.RecordCacheMiss(method, endpoint)
	}

	c.metrics.RecordRequestStart(method, endpoint)
	defer c.metrics.RecordRequestEnd(method, endpoint)

	if err := c.queue.Acquire(ctx); err != nil {
		c.metrics.RecordError(ErrorTypeTimeout, method, endpoint)
		return nil, &ClientError{
			Type:      ErrorTypeTimeout,
			Message:   "cancelled while waiting for a request slot",
			Cause:     err,
			RequestID: requestID,
			Method:    method,
			Endpoint:  endpoint,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}
	defer c.queue.Release()
	c.metrics.RecordQueueStats(c.queue.Stats())

	result, err := c.doWithRetry(ctx, method, path, body, requestID, start)

	c.metrics.RecordRequest(method, endpoint, resultStatus(result, err), time.Since(start))

	if cacheable && err == nil && len(result.Body) > 0 {
		c.cache.Set(cacheKey, &CacheEntry{Body: result.Body, StatusCode: result.StatusCode}, c.cacheTTL)
	}
	return result, err
}

// ExecuteInto performs Execute and decodes the response body into out.
func (c *Client) ExecuteInto(ctx context.Context, method, path string, body, out interface{}) error {
	result, err := c.Execute(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return result.Decode(out)
}

// doWithRetry is the retry loop: each attempt passes the circuit breaker,
// waits for rate-limit budget, ensures a valid credential and performs one
// network call. attempt is zero-based.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body interface{}, requestID string, start time.Time) (*Result, error) {
	endpoint := endpointLabel(path)

	var lastErr error
	reauthed := false

	for attempt := 0; ; attempt++ {
		if !c.circuitBreaker.Allow() {
			if c.debugLogOn(c.debug != nil && c.debug.LogCircuit) {
				c.logger.Warn("Circuit breaker rejected call", "requestID", requestID, "endpoint", endpoint, "state", c.circuitBreaker.State().String())
			}
			// When the breaker opened mid-retry, the failure the caller can
			// act on is the one that opened it, not the gate rejection.
			if lastErr != nil {
				var clientErr *ClientError
				if errors.As(lastErr, &clientErr) {
					clientErr.Duration = time.Since(start)
				}
				return nil, lastErr
			}
			c.metrics.RecordError(ErrorTypeCircuitOpen, method, endpoint)
			return nil, &ClientError{
				Type:      ErrorTypeCircuitOpen,
				Message:   "circuit breaker is " + c.circuitBreaker.State().String(),
				Cause:     ErrCircuitOpen,
				RequestID: requestID,
				Method:    method,
				Endpoint:  endpoint,
				Attempt:   attempt + 1,
				Timestamp: time.Now(),
				Duration:  time.Since(start),
			}
		}

		if attempt > 0 {
			if c.debugLogOn(c.debug != nil && c.debug.LogRetries) {
				c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt+1, "maxAttempts", c.retryPolicy.MaxAttempts, "endpoint", endpoint)
			}
			c.metrics.RecordRetry(method, endpoint, attempt)
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.Acquire(ctx); err != nil {
				c.circuitBreaker.ReleaseTrial()
				c.metrics.RecordError(ErrorTypeRateLimit, method, endpoint)
				return nil, &ClientError{
					Type:      ErrorTypeRateLimit,
					Message:   "cancelled while waiting for rate limit budget",
					Cause:     err,
					RequestID: requestID,
					Method:    method,
					Endpoint:  endpoint,
					Attempt:   attempt + 1,
					Timestamp: time.Now(),
					Duration:  time.Since(start),
				}
			}
			c.metrics.RecordRateLimiterTokens("default", c.rateLimiter.Tokens())
		}

		result, resp, attemptErr := c.doOnce(ctx, method, path, body, requestID, endpoint, attempt)

		if attemptErr == nil {
			c.circuitBreaker.RecordSuccess()
			c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
			return result, nil
		}

		var clientErr *ClientError
		_ = errors.As(attemptErr, &clientErr)

		// Every admitted attempt resolves the breaker. Transport failures and
		// server-side degradation count as failures; 4xx and 429 responses
		// prove the endpoint is answering and count as contact; outcomes that
		// never reached the endpoint (credential or validation failures)
		// release a pending half-open trial without judging it.
		switch {
		case clientErr == nil || clientErr.Type == ErrorTypeNetwork || clientErr.Type == ErrorTypeTimeout || clientErr.Type == ErrorTypeServer:
			c.circuitBreaker.RecordFailure()
		case clientErr.Type == ErrorTypeClient || clientErr.Type == ErrorTypeRateLimit:
			c.circuitBreaker.RecordSuccess()
		default:
			c.circuitBreaker.ReleaseTrial()
		}
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())

		if clientErr != nil {
			c.metrics.RecordError(clientErr.Type, method, endpoint)
		}

		// One transparent re-authentication on a mid-call 401: the token may
		// have been revoked server-side despite a future expiry.
		if clientErr != nil && clientErr.Type == ErrorTypeAuthentication && clientErr.StatusCode == http.StatusUnauthorized && !reauthed && c.credentials != nil {
			if c.debugLogOn(c.debug != nil && c.debug.LogAuth) {
				c.logger.Info("Re-authenticating after 401", "requestID", requestID, "endpoint", endpoint)
			}
			c.credentials.Invalidate()
			reauthed = true
			attempt--
			continue
		}

		lastErr = attemptErr

		delay, retry := c.retryPolicy.ShouldRetry(resp, transportError(clientErr, attemptErr), attempt)
		if !retry {
			if clientErr != nil {
				clientErr.Attempt = attempt + 1
				clientErr.Duration = time.Since(start)
			}
			return nil, lastErr
		}

		if c.debugLogOn(c.debug != nil && c.debug.LogRetries) {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+2, "backoff", delay, "endpoint", endpoint)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			if clientErr != nil {
				clientErr.Attempt = attempt + 1
			}
			return nil, lastErr
		case <-timer.C:
		}
	}
}

// doOnce performs a single network attempt and classifies the outcome. The
// returned *http.Response (headers only; body already consumed) feeds the
// retry policy's Retry-After handling.
func (c *Client) doOnce(ctx context.Context, method, path string, body interface{}, requestID, endpoint string, attempt int) (*Result, *http.Response, error) {
	fail := func(errType, message string, cause error, status int, respBody []byte) *ClientError {
		return &ClientError{
			Type:       errType,
			Message:    message,
			Cause:      cause,
			RequestID:  requestID,
			Method:     method,
			URL:        c.baseURL + path,
			Endpoint:   endpoint,
			StatusCode: status,
			Body:       respBody,
			Attempt:    attempt + 1,
			Timestamp:  time.Now(),
		}
	}

	var cred Credential
	if c.credentials != nil {
		var err error
		cred, err = c.credentials.EnsureValid(ctx)
		if err != nil {
			return nil, nil, err
		}
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fail(ErrorTypeValidation, "encoding request body", err, 0, nil)
		}
		reqBody = bytes.NewReader(payload)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, nil, fail(ErrorTypeValidation, "building request", err, 0, nil)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred.AccessToken != "" {
		req.Header.Set("Authorization", cred.authorizationValue())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, nil, fail(ErrorTypeTimeout, "request timed out", err, 0, nil)
		}
		return nil, nil, fail(ErrorTypeNetwork, "network request failed", err, 0, nil)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp, fail(ErrorTypeNetwork, "reading response body", err, resp.StatusCode, nil)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		result := &Result{StatusCode: resp.StatusCode, Success: true}
		if len(respBody) > 0 {
			result.Body = respBody
		}
		return result, resp, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, resp, fail(ErrorTypeAuthentication, "request not authorized", nil, resp.StatusCode, respBody)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp, fail(ErrorTypeRateLimit, "rate limited by server", nil, resp.StatusCode, respBody)
	case resp.StatusCode >= 500:
		return nil, resp, fail(ErrorTypeServer, "server error", nil, resp.StatusCode, respBody)
	default:
		return nil, resp, fail(ErrorTypeClient, "request rejected", nil, resp.StatusCode, respBody)
	}
}

// Diagnostics surface.

// RetryPolicyInfo returns a copy of the active retry policy.
func (c *Client) RetryPolicyInfo() RetryPolicy {
	return *c.retryPolicy
}

// CircuitState returns the breaker's current state (StateClosed when the
// breaker is disabled).
func (c *Client) CircuitState() CircuitState {
	return c.circuitBreaker.State()
}

// QueueStats returns the current queue snapshot.
func (c *Client) QueueStats() QueueStats {
	return c.queue.Stats()
}

// RateLimiterTokens returns the remaining rate budget, or -1 when rate
// limiting is disabled.
func (c *Client) RateLimiterTokens() float64 {
	return c.rateLimiter.Tokens()
}

// HealthStatus is the composite result of a health probe.
type HealthStatus struct {
	OK           bool
	Latency      time.Duration
	CircuitState CircuitState
	Queue        QueueStats
	Error        string
}

// Health performs one authenticated call against the account endpoint and
// reports composite client health.
func (c *Client) Health(ctx context.Context) *HealthStatus {
	start := time.Now()
	_, err := c.Execute(ctx, http.MethodGet, "/accounts/self", nil)

	status := &HealthStatus{
		OK:           err == nil,
		Latency:      time.Since(start),
		CircuitState: c.CircuitState(),
		Queue:        c.QueueStats(),
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// debugLogOn reports whether a debug log line should be emitted.
func (c *Client) debugLogOn(flag bool) bool {
	return c.logger != nil && c.debug != nil && c.debug.Enabled && flag
}

// endpointLabel strips the query string so metric labels stay low-cardinality.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	return path
}

func resultStatus(result *Result, err error) int {
	if result != nil {
		return result.StatusCode
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode
	}
	return 0
}

// transportError returns the underlying cause for transport-level failures so
// the retry policy can distinguish "no response" from "bad response".
func transportError(clientErr *ClientError, err error) error {
	if clientErr == nil {
		return err
	}
	if clientErr.Type == ErrorTypeNetwork || clientErr.Type == ErrorTypeTimeout {
		if clientErr.Cause != nil {
			return clientErr.Cause
		}
		return clientErr
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

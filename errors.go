package cakemail

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Error type constants used in ClientError.Type.
const (
	ErrorTypeAuthentication = "Authentication"
	ErrorTypeNetwork        = "Network"
	ErrorTypeTimeout        = "Timeout"
	ErrorTypeServer         = "Server"
	ErrorTypeClient         = "Client"
	ErrorTypeRateLimit      = "RateLimit"
	ErrorTypeCircuitOpen    = "CircuitOpen"
	ErrorTypeValidation     = "Validation"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker refuses a call.
	ErrCircuitOpen = errors.New("cakemail: circuit open")

	// ErrNotAuthenticated is returned when no usable credential exists and
	// authentication could not be performed.
	ErrNotAuthenticated = errors.New("cakemail: not authenticated")

	// ErrPaginationDone is returned by FetchPage once iteration terminated.
	ErrPaginationDone = errors.New("cakemail: pagination done")
)

// ClientError is the structured error surfaced by the client. Type is one of
// the ErrorType constants; StatusCode and Body are set for API errors.
type ClientError struct {
	Type       string
	Message    string
	Cause      error
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	StatusCode int
	Body       json.RawMessage
	Attempt    int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 1 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, e.Attempt)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches ClientErrors by Type, so errors.Is(err, &ClientError{Type: ...})
// works as a class check.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*ClientError); ok {
		return e.Type == t.Type
	}
	return false
}

// DebugInfo renders a multi-line string with full diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if len(e.Body) > 0 {
		info += fmt.Sprintf("Body: %s\n", string(e.Body))
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempts: %d\n", e.Attempt)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether err represents a failure that might succeed on
// retry: network errors, timeouts, 5xx responses and 429 rate limiting.
// Client errors other than 429, authentication and validation failures are
// permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeClient:
			return clientErr.StatusCode == 429
		default:
			return false
		}
	}

	return false
}

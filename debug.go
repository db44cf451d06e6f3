package cakemail

import (
	"crypto/rand"
	"encoding/hex"
)

// DebugConfig controls which stages of the request lifecycle emit debug logs.
// All logging is gated on Enabled and requires a Logger on the client.
type DebugConfig struct {
	Enabled       bool
	LogRequests   bool
	LogRetries    bool
	LogRateLimit  bool
	LogCircuit    bool
	LogAuth       bool
	LogPagination bool

	// RequestIDGen produces a correlation ID attached to every log line for
	// a request.
	RequestIDGen func() string
}

// DefaultDebugConfig enables every stage with a random hex request ID.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:       false,
		LogRequests:   true,
		LogRetries:    true,
		LogRateLimit:  true,
		LogCircuit:    true,
		LogAuth:       true,
		LogPagination: true,
		RequestIDGen:  defaultRequestID,
	}
}

func defaultRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "req-unknown"
	}
	return hex.EncodeToString(b[:])
}

// Package cakemail provides a resilient client for the Cakemail
// email-marketing REST API, built from composable reliability primitives:
//
//   - Retries with exponential backoff + jitter (Retry-After aware)
//   - Client-side rate limiting (token bucket)
//   - Circuit breaker (open / half-open / closed states)
//   - Bounded request queue (caps concurrent in-flight calls)
//   - Credential lifecycle (password grant, refresh grant, single-flight)
//   - Uniform pagination over offset- and cursor-paged collections
//   - Optional GET response caching
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Every surfaced error carries endpoint, attempt count and status context
//
// Typical usage:
//
//	client := cakemail.New(
//	    cakemail.WithBaseURL("https://api.cakemail.dev"),
//	    cakemail.WithCredentials(cakemail.Credentials{Username: user, Password: pass}),
//	    cakemail.WithRateLimiter(10, 5),
//	    cakemail.WithCircuitBreaker(cakemail.CircuitBreakerConfig{}),
//	)
//	contacts, err := client.ListContacts(listID).Collect(ctx)
//
// Only transport failures, 5xx and 429 responses trigger retries; other 4xx
// responses surface immediately. Pagination is lazy: pages are fetched one at
// a time as the iterator is consumed, and an abandoned iterator fetches
// nothing further.
package cakemail

package cakemail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cakemail/cakemail-go/internal/singleflight"
)

// expiryMargin is subtracted from a token's lifetime so a credential is
// treated as expired slightly before it really is, avoiding races where a
// token dies mid-request.
const expiryMargin = 30 * time.Second

// Credentials are the account credentials used for password-grant
// authentication against the token endpoint.
type Credentials struct {
	Username string
	Password string
}

// Credential is a live access token plus its refresh handle. Owned
// exclusively by the CredentialManager; callers receive copies.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Valid reports whether the access token is usable, applying the expiry
// safety margin.
func (c *Credential) Valid() bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	return time.Now().Before(c.ExpiresAt.Add(-expiryMargin))
}

// CredentialManager owns the client's single credential and its lifecycle:
// password-grant acquisition, refresh-grant renewal and invalidation.
// Concurrent EnsureValid callers are merged through a singleflight group so
// at most one authentication call is ever on the wire.
type CredentialManager struct {
	tokenURL   string
	creds      Credentials
	httpClient *http.Client
	logger     Logger
	debug      *DebugConfig
	metrics    *MetricsCollector

	mu      sync.Mutex
	current *Credential

	flight *singleflight.Group
}

// NewCredentialManager creates a manager with no credential; the first
// EnsureValid acquires one.
func NewCredentialManager(tokenURL string, creds Credentials, httpClient *http.Client) *CredentialManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &CredentialManager{
		tokenURL:   tokenURL,
		creds:      creds,
		httpClient: httpClient,
		flight:     singleflight.New(),
	}
}

// EnsureValid returns a live credential, refreshing or re-acquiring as
// needed. Safe for concurrent use: callers arriving during an in-flight
// authentication wait for its result instead of issuing their own.
func (m *CredentialManager) EnsureValid(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()
	if cur.Valid() {
		return *cur, nil
	}

	v, err := m.flight.Do("token", func() (interface{}, error) {
		return m.authenticate(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	return *(v.(*Credential)), nil
}

// Invalidate drops the access token while keeping the refresh token, forcing
// the next EnsureValid to renew. The executor calls this when a request comes
// back 401 despite a seemingly valid token.
func (m *CredentialManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.AccessToken = ""
		m.current.ExpiresAt = time.Time{}
	}
}

// Current returns a copy of the stored credential, or false if none exists.
// Diagnostics only.
func (m *CredentialManager) Current() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Credential{}, false
	}
	return *m.current, true
}

// authenticate is the singleflight body: re-checks the stored credential
// (another caller may have just renewed it), prefers refresh when a refresh
// token exists, and falls back to a full password-grant acquire on any
// refresh failure.
func (m *CredentialManager) authenticate(ctx context.Context) (*Credential, error) {
	m.mu.Lock()
	cur := m.current
	var refreshToken string
	if cur != nil {
		refreshToken = cur.RefreshToken
	}
	m.mu.Unlock()

	if cur.Valid() {
		return cur, nil
	}

	if refreshToken != "" {
		cred, err := m.refresh(ctx, refreshToken)
		if err == nil {
			return cred, nil
		}
		if m.logger != nil && m.debug != nil && m.debug.Enabled && m.debug.LogAuth {
			m.logger.Warn("Token refresh failed, falling back to acquire", "error", err.Error())
		}
	}

	return m.acquire(ctx)
}

// acquire performs password-grant authentication.
func (m *CredentialManager) acquire(ctx context.Context) (*Credential, error) {
	if m.creds.Username == "" {
		return nil, &ClientError{
			Type:      ErrorTypeAuthentication,
			Message:   "no credentials configured",
			Cause:     ErrNotAuthenticated,
			Timestamp: time.Now(),
		}
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", m.creds.Username)
	form.Set("password", m.creds.Password)

	cred, status, err := m.tokenCall(ctx, form)
	if m.metrics != nil {
		m.metrics.RecordAuth("acquire", err == nil)
	}
	if err != nil {
		return nil, err
	}
	if status != 0 {
		return nil, &ClientError{
			Type:       ErrorTypeAuthentication,
			Message:    "authentication failed",
			StatusCode: status,
			URL:        m.tokenURL,
			Timestamp:  time.Now(),
		}
	}

	m.mu.Lock()
	m.current = cred
	m.mu.Unlock()

	if m.logger != nil && m.debug != nil && m.debug.Enabled && m.debug.LogAuth {
		m.logger.Debug("Acquired credential", "expiresAt", cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}

// refresh performs refresh-grant renewal. A 401/403 response means the
// refresh token itself is dead: the stored credential is cleared entirely so
// the next attempt performs a full acquire.
func (m *CredentialManager) refresh(ctx context.Context, refreshToken string) (*Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	cred, status, err := m.tokenCall(ctx, form)
	if m.metrics != nil {
		m.metrics.RecordAuth("refresh", err == nil && status == 0)
	}
	if err != nil {
		return nil, err
	}
	if status != 0 {
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			m.mu.Lock()
			m.current = nil
			m.mu.Unlock()
		}
		return nil, &ClientError{
			Type:       ErrorTypeAuthentication,
			Message:    "token refresh rejected",
			StatusCode: status,
			URL:        m.tokenURL,
			Timestamp:  time.Now(),
		}
	}

	m.mu.Lock()
	if cred.RefreshToken == "" {
		// Some deployments omit the refresh token on renewal; keep the old one.
		cred.RefreshToken = refreshToken
	}
	m.current = cred
	m.mu.Unlock()

	if m.logger != nil && m.debug != nil && m.debug.Enabled && m.debug.LogAuth {
		m.logger.Debug("Refreshed credential", "expiresAt", cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}

// tokenCall posts a form to the token endpoint. Returns (cred, 0, nil) on
// success, (nil, status, nil) on a non-2xx response, and (nil, 0, err) on
// transport failure.
func (m *CredentialManager) tokenCall(ctx context.Context, form url.Values) (*Credential, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, &ClientError{
			Type:      ErrorTypeAuthentication,
			Message:   "token endpoint unreachable",
			Cause:     err,
			URL:       m.tokenURL,
			Timestamp: time.Now(),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &ClientError{
			Type:      ErrorTypeAuthentication,
			Message:   "reading token response",
			Cause:     err,
			URL:       m.tokenURL,
			Timestamp: time.Now(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, nil
	}

	var tr struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, 0, &ClientError{
			Type:      ErrorTypeAuthentication,
			Message:   "malformed token response",
			Cause:     err,
			URL:       m.tokenURL,
			Timestamp: time.Now(),
		}
	}
	if tr.AccessToken == "" {
		return nil, 0, &ClientError{
			Type:      ErrorTypeAuthentication,
			Message:   "token response missing access_token",
			URL:       m.tokenURL,
			Timestamp: time.Now(),
		}
	}

	tokenType := tr.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, 0, nil
}

// authorizationValue formats the Authorization header for a credential.
func (c *Credential) authorizationValue() string {
	return fmt.Sprintf("%s %s", c.TokenType, c.AccessToken)
}

package cakemail

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type tokenRequest struct {
	grantType    string
	username     string
	refreshToken string
}

// tokenServer records every grant request and serves scripted responses.
type tokenServer struct {
	mu       sync.Mutex
	requests []tokenRequest

	// refreshStatus, when non-zero, is returned for refresh_token grants.
	refreshStatus int
	// acquireStatus, when non-zero, is returned for password grants.
	acquireStatus int
	// expiresIn for issued tokens, seconds.
	expiresIn int
	// issueRefreshToken controls whether responses carry a refresh token.
	issueRefreshToken bool

	server *httptest.Server
}

func newTokenServer() *tokenServer {
	ts := &tokenServer{expiresIn: 3600, issueRefreshToken: true}
	ts.server = httptest.NewServer(http.HandlerFunc(ts.handle))
	return ts
}

func (ts *tokenServer) handle(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	req := tokenRequest{
		grantType:    r.PostForm.Get("grant_type"),
		username:     r.PostForm.Get("username"),
		refreshToken: r.PostForm.Get("refresh_token"),
	}

	ts.mu.Lock()
	ts.requests = append(ts.requests, req)
	n := len(ts.requests)
	refreshStatus, acquireStatus := ts.refreshStatus, ts.acquireStatus
	expiresIn, issueRefresh := ts.expiresIn, ts.issueRefreshToken
	ts.mu.Unlock()

	if req.grantType == "refresh_token" && refreshStatus != 0 {
		w.WriteHeader(refreshStatus)
		return
	}
	if req.grantType == "password" && acquireStatus != 0 {
		w.WriteHeader(acquireStatus)
		return
	}

	resp := map[string]interface{}{
		"access_token": "access-" + req.grantType + "-" + string(rune('0'+n)),
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if issueRefresh {
		resp["refresh_token"] = "refresh-" + string(rune('0'+n))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (ts *tokenServer) grants() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]string, len(ts.requests))
	for i, r := range ts.requests {
		out[i] = r.grantType
	}
	return out
}

func TestEnsureValidAcquiresOnFirstUse(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	cred, err := m.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if cred.AccessToken == "" {
		t.Error("Expected access token")
	}
	if cred.TokenType != "Bearer" {
		t.Errorf("Expected Bearer token type, got %q", cred.TokenType)
	}
	if !cred.Valid() {
		t.Error("Expected fresh credential to be valid")
	}

	grants := ts.grants()
	if len(grants) != 1 || grants[0] != "password" {
		t.Errorf("Expected one password grant, got %v", grants)
	}
	if ts.requests[0].username != "u" {
		t.Errorf("Expected username forwarded, got %q", ts.requests[0].username)
	}
}

func TestEnsureValidReusesLiveCredential(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	for i := 0; i < 5; i++ {
		if _, err := m.EnsureValid(context.Background()); err != nil {
			t.Fatalf("EnsureValid() error = %v", err)
		}
	}
	if got := len(ts.grants()); got != 1 {
		t.Errorf("Expected 1 token call for a live credential, got %d", got)
	}
}

func TestEnsureValidRefreshesExpiredCredential(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}

	// Expire the stored token; the refresh token stays.
	m.mu.Lock()
	m.current.ExpiresAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()

	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() after expiry error = %v", err)
	}

	grants := ts.grants()
	want := []string{"password", "refresh_token"}
	if len(grants) != 2 || grants[0] != want[0] || grants[1] != want[1] {
		t.Errorf("Expected grants %v, got %v", want, grants)
	}
	if ts.requests[1].refreshToken == "" {
		t.Error("Expected refresh grant to carry the refresh token")
	}
}

func TestRefreshRejectionClearsRefreshToken(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}

	m.mu.Lock()
	m.current.ExpiresAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()
	ts.mu.Lock()
	ts.refreshStatus = http.StatusUnauthorized
	ts.mu.Unlock()

	// Refresh is rejected with 401; authenticate falls back to acquire in the
	// same pass, and the dead refresh token is gone.
	cred, err := m.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	if !cred.Valid() {
		t.Error("Expected valid credential from fallback acquire")
	}

	grants := ts.grants()
	want := []string{"password", "refresh_token", "password"}
	if len(grants) != 3 {
		t.Fatalf("Expected grants %v, got %v", want, grants)
	}
	for i := range want {
		if grants[i] != want[i] {
			t.Fatalf("Expected grants %v, got %v", want, grants)
		}
	}
}

func TestRefreshTransportFailureFallsBackToAcquire(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}

	m.mu.Lock()
	m.current.ExpiresAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()
	ts.mu.Lock()
	ts.refreshStatus = http.StatusBadGateway
	ts.mu.Unlock()

	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("Expected fallback acquire to succeed, got %v", err)
	}
	grants := ts.grants()
	if grants[len(grants)-1] != "password" {
		t.Errorf("Expected final grant to be password, got %v", grants)
	}
}

func TestEnsureValidSingleFlight(t *testing.T) {
	var tokenCalls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&tokenCalls, 1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	m := NewCredentialManager(server.URL, Credentials{Username: "u", Password: "p"}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureValid(context.Background()); err != nil {
				t.Errorf("EnsureValid() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&tokenCalls); got != 1 {
		t.Errorf("Expected 1 token call for 10 concurrent callers, got %d", got)
	}
}

func TestInvalidateKeepsRefreshToken(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}

	m.Invalidate()

	cur, ok := m.Current()
	if !ok {
		t.Fatal("Expected credential to remain after Invalidate")
	}
	if cur.AccessToken != "" {
		t.Error("Expected access token cleared")
	}
	if cur.RefreshToken == "" {
		t.Error("Expected refresh token kept")
	}

	// Next EnsureValid renews via refresh, not a full acquire.
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() after Invalidate error = %v", err)
	}
	grants := ts.grants()
	if grants[len(grants)-1] != "refresh_token" {
		t.Errorf("Expected refresh grant after Invalidate, got %v", grants)
	}
}

func TestAcquireFailureSurfacesAuthenticationError(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	ts.mu.Lock()
	ts.acquireStatus = http.StatusUnauthorized
	ts.mu.Unlock()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "bad"}, nil)
	_, err := m.EnsureValid(context.Background())
	if err == nil {
		t.Fatal("Expected authentication error")
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("Expected *ClientError, got %T", err)
	}
	if clientErr.Type != ErrorTypeAuthentication {
		t.Errorf("Expected type %s, got %s", ErrorTypeAuthentication, clientErr.Type)
	}
	if clientErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", clientErr.StatusCode)
	}
}

func TestRefreshKeepsOldTokenWhenOmitted(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()

	m := NewCredentialManager(ts.server.URL, Credentials{Username: "u", Password: "p"}, nil)
	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	oldRefresh := m.current.RefreshToken

	m.mu.Lock()
	m.current.ExpiresAt = time.Now().Add(-time.Minute)
	m.mu.Unlock()
	ts.mu.Lock()
	ts.issueRefreshToken = false
	ts.mu.Unlock()

	if _, err := m.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid() error = %v", err)
	}
	cur, _ := m.Current()
	if cur.RefreshToken != oldRefresh {
		t.Errorf("Expected old refresh token kept, got %q", cur.RefreshToken)
	}
}

func TestEnsureValidWithoutCredentials(t *testing.T) {
	m := NewCredentialManager("http://127.0.0.1:0", Credentials{}, nil)
	_, err := m.EnsureValid(context.Background())
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, got %v", err)
	}
}

func TestCredentialValid(t *testing.T) {
	var nilCred *Credential
	if nilCred.Valid() {
		t.Error("Expected nil credential invalid")
	}
	if (&Credential{}).Valid() {
		t.Error("Expected empty credential invalid")
	}
	soon := &Credential{AccessToken: "x", ExpiresAt: time.Now().Add(10 * time.Second)}
	if soon.Valid() {
		t.Error("Expected credential inside the expiry margin to be invalid")
	}
	live := &Credential{AccessToken: "x", ExpiresAt: time.Now().Add(time.Hour)}
	if !live.Valid() {
		t.Error("Expected credential well before expiry to be valid")
	}
}

package sandbox

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is the lifetime of issued access tokens.
const DefaultTokenTTL = time.Hour

// Issuer hands out bearer tokens for the client-credentials grant and
// validates them. An Issuer without a client ID accepts any token.
type Issuer struct {
	clientID     string
	clientSecret string
	ttl          time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	tokens map[string]time.Time
	issued int
}

// NewIssuer returns an Issuer for the given client credentials.
func NewIssuer(clientID, clientSecret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{
		clientID:     clientID,
		clientSecret: clientSecret,
		ttl:          ttl,
		now:          time.Now,
		tokens:       make(map[string]time.Time),
	}
}

// Enabled reports whether tokens are checked at all.
func (i *Issuer) Enabled() bool { return i.clientID != "" }

// Issue returns a fresh token and its lifetime.
func (i *Issuer) Issue() (string, time.Duration) {
	tok := uuid.NewString()
	i.mu.Lock()
	i.tokens[tok] = i.now().Add(i.ttl)
	i.issued++
	i.mu.Unlock()
	return tok, i.ttl
}

// Issued returns how many tokens have been issued.
func (i *Issuer) Issued() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.issued
}

// Valid reports whether tok was issued and has not expired or been revoked.
func (i *Issuer) Valid(tok string) bool {
	if !i.Enabled() {
		return true
	}
	i.mu.RLock()
	exp, ok := i.tokens[tok]
	i.mu.RUnlock()
	return ok && i.now().Before(exp)
}

// RevokeAll invalidates every issued token.
func (i *Issuer) RevokeAll() {
	i.mu.Lock()
	i.tokens = make(map[string]time.Time)
	i.mu.Unlock()
}

func (i *Issuer) checkClient(id, secret string) bool {
	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(i.clientID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(secret), []byte(i.clientSecret)) == 1
	return idOK && secretOK
}

// tokenResponse is the RFC 6749 section 5.1 response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type tokenError struct {
	Error string `json:"error"`
}

// ServeHTTP implements the token endpoint for the client-credentials grant.
// Credentials are accepted in the form body or as HTTP basic auth.
func (i *Issuer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if r.PostForm.Get("grant_type") != "client_credentials" {
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if i.Enabled() && !i.checkClient(id, secret) {
		slog.Warn("sandbox: token request rejected", "client_id", id)
		writeTokenError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	tok, ttl := i.Issue()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(tokenResponse{
		AccessToken: tok,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
	})
}

func writeTokenError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tokenError{Error: code})
}

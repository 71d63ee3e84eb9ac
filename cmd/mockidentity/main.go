// Package main is a mock identity provider for local development and E2E
// testing of the edge. It issues HS256 session tokens and answers the
// internal verification endpoint the edge calls for uncached tokens.
//
// Endpoints:
//
//   - POST /token            → issue a session token for the given claims
//   - POST /internal/verify  → verify a token; reports expired/revoked
//   - POST /revoke           → revoke a previously issued token
//   - GET  /health           → liveness probe
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medicorex/edge/internal/identity"
)

type tokenRequest struct {
	UID     string            `json:"uid"`
	Email   string            `json:"email"`
	Name    string            `json:"name,omitempty"`
	Tenants map[string]string `json:"tenants,omitempty"`
	// TTL is the token lifetime, e.g. "1h". Negative values issue an
	// already-expired token for testing.
	TTL string `json:"ttl,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid  bool             `json:"valid"`
	Reason string           `json:"reason,omitempty"`
	Claims *identity.Claims `json:"claims,omitempty"`
}

// provider issues and verifies tokens, tracking revocations in memory.
type provider struct {
	secret   string
	verifier *identity.LocalVerifier

	mu      sync.Mutex
	revoked map[string]struct{} // sha256(token) hex
}

func newProvider(secret string) *provider {
	return &provider{
		secret:   secret,
		verifier: identity.NewLocalVerifier(secret),
		revoked:  make(map[string]struct{}),
	}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (p *provider) issue(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ttl := time.Hour
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			http.Error(w, "bad ttl", http.StatusBadRequest)
			return
		}
		ttl = parsed
	}

	now := time.Now()
	token, err := identity.IssueToken(p.secret, &identity.Claims{
		UID:     req.UID,
		Email:   req.Email,
		Name:    req.Name,
		Tenants: req.Tenants,
	}, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	if err != nil {
		http.Error(w, "signing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{Token: token})
}

func (p *provider) verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp := verifyResponse{}
	status := http.StatusUnauthorized

	p.mu.Lock()
	_, isRevoked := p.revoked[tokenKey(req.Token)]
	p.mu.Unlock()

	claims, err := p.verifier.Verify(r.Context(), req.Token)
	switch {
	case isRevoked:
		resp.Reason = "revoked"
	case errors.Is(err, identity.ErrTokenExpired):
		resp.Reason = "expired"
	case err != nil:
		resp.Reason = "invalid"
	default:
		resp.Valid = true
		resp.Claims = claims
		status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func (p *provider) revoke(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.revoked[tokenKey(req.Token)] = struct{}{}
	p.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func main() {
	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = "dev-session-secret"
		log.Println("SESSION_SECRET not set, using development default")
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":4000"
	}

	p := newProvider(secret)

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	http.HandleFunc("/token", postOnly(p.issue))
	http.HandleFunc("/internal/verify", postOnly(p.verify))
	http.HandleFunc("/revoke", postOnly(p.revoke))

	log.Printf("Mock identity provider listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

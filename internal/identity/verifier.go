package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// Verifier checks a session token and returns its claims.
type Verifier interface {
	// Verify returns the claims for a valid token. Invalid tokens return one
	// of the sentinel errors; transport failures return ErrVerifyUnavailable.
	Verify(ctx context.Context, token string) (*Claims, error)
}

// Circuit breaker defaults for the identity provider.
const (
	defaultCBThreshold    = 5
	defaultCBResetTimeout = 30 * time.Second
)

// circuitBreaker protects the identity provider from cascading failures.
// After `threshold` consecutive failures the breaker opens and verification
// short-circuits to ErrVerifyUnavailable for `resetTimeout`, avoiding the
// full verify timeout on every request. After the reset timeout, one probe
// request is allowed through (half-open state).
type circuitBreaker struct {
	mu           sync.Mutex
	failures     int
	open         bool
	openUntil    time.Time
	threshold    int
	resetTimeout time.Duration
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		threshold:    defaultCBThreshold,
		resetTimeout: defaultCBResetTimeout,
	}
}

// isOpen returns true when the circuit is open and the reset timeout has not
// yet elapsed. Once the timeout passes, the circuit enters half-open state
// (returns false) to allow a single probe request through.
func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return false
	}
	return time.Now().Before(cb.openUntil)
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	if cb.failures >= cb.threshold {
		cb.open = true
		cb.openUntil = time.Now().Add(cb.resetTimeout)
	}
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.open = false
}

// verifyRequest is the JSON body sent to the identity provider's internal
// verification endpoint.
type verifyRequest struct {
	Token string `json:"token"`
}

// verifyResponse is the identity provider's verification result. On
// valid=false, Reason distinguishes expired and revoked sessions from
// garbage tokens.
type verifyResponse struct {
	Valid  bool    `json:"valid"`
	Reason string  `json:"reason,omitempty"`
	Claims *Claims `json:"claims,omitempty"`
}

// Rejection reasons the identity provider may return.
const (
	reasonExpired = "expired"
	reasonRevoked = "revoked"
)

// HTTPVerifier verifies tokens by calling the identity provider's internal
// verification endpoint. One POST per uncached token, bounded by the
// configured timeout and guarded by a circuit breaker.
type HTTPVerifier struct {
	verifyURL  string
	httpClient *http.Client
	cb         *circuitBreaker
}

// NewHTTPVerifier creates a verifier that calls verifyURL with the given
// per-call timeout.
func NewHTTPVerifier(verifyURL string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	// Tuned connection pool: verification goes to a single host at high
	// concurrency.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPVerifier{
		verifyURL:  verifyURL,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		cb:         newCircuitBreaker(),
	}
}

// Verify posts the token to the identity provider. Transport failures,
// provider 5xx responses, and an open circuit all map to
// ErrVerifyUnavailable: the caller must fail closed, never open.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Claims, error) {
	if v.cb.isOpen() {
		return nil, fmt.Errorf("%w: circuit breaker open", ErrVerifyUnavailable)
	}

	claims, err := v.verify(ctx, token)
	if err != nil {
		// Only provider-unreachable errors trip the breaker; a rejected
		// token is a successful verification round-trip.
		if isUnavailable(err) {
			v.cb.recordFailure()
		} else {
			v.cb.recordSuccess()
		}
		return nil, err
	}
	v.cb.recordSuccess()
	return claims, nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, ErrVerifyUnavailable)
}

func (v *HTTPVerifier) verify(ctx context.Context, token string) (*Claims, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized:
		// Both carry a structured verdict body.
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider returned %d", ErrVerifyUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: provider returned %d", ErrTokenInvalid, resp.StatusCode)
	}

	var parsed verifyResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed provider response", ErrVerifyUnavailable)
	}

	if !parsed.Valid {
		switch parsed.Reason {
		case reasonExpired:
			return nil, ErrTokenExpired
		case reasonRevoked:
			return nil, ErrTokenRevoked
		default:
			return nil, ErrTokenInvalid
		}
	}
	if parsed.Claims == nil || parsed.Claims.UID == "" {
		return nil, fmt.Errorf("%w: valid verdict without claims", ErrVerifyUnavailable)
	}
	return parsed.Claims, nil
}

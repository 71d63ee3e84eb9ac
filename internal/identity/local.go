package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the JWT payload shape issued by the identity provider
// when local verification is enabled.
type sessionClaims struct {
	UID     string            `json:"uid"`
	Email   string            `json:"email"`
	Name    string            `json:"name,omitempty"`
	Picture string            `json:"picture,omitempty"`
	Tenants map[string]string `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

// LocalVerifier verifies HS256 session JWTs in-process against the shared
// session secret. It cannot see provider-side revocations, so it is meant
// for development and the mock identity stub, not production.
type LocalVerifier struct {
	secret []byte
}

// NewLocalVerifier creates an in-process HS256 verifier.
func NewLocalVerifier(secret string) *LocalVerifier {
	return &LocalVerifier{secret: []byte(secret)}
}

// Verify parses and validates the JWT signature and expiry.
func (v *LocalVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	sc, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || sc.UID == "" {
		return nil, ErrTokenInvalid
	}
	return &Claims{
		UID:     sc.UID,
		Email:   sc.Email,
		Name:    sc.Name,
		Picture: sc.Picture,
		Tenants: sc.Tenants,
	}, nil
}

// IssueToken signs an HS256 session JWT for the given claims. Used by the
// mock identity stub and tests.
func IssueToken(secret string, claims *Claims, registered jwt.RegisteredClaims) (string, error) {
	sc := &sessionClaims{
		UID:              claims.UID,
		Email:            claims.Email,
		Name:             claims.Name,
		Picture:          claims.Picture,
		Tenants:          claims.Tenants,
		RegisteredClaims: registered,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, sc).SignedString([]byte(secret))
}

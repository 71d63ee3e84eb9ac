package identity

import "errors"

// Sentinel errors describing why a request carries no usable identity.
// The middleware maps each to a redirect decision.
var (
	// ErrNoToken means the request carried no session cookie at all.
	ErrNoToken = errors.New("no session token")
	// ErrTokenExpired means the token was once valid but its session ended.
	ErrTokenExpired = errors.New("session token expired")
	// ErrTokenRevoked means the identity provider invalidated the session.
	ErrTokenRevoked = errors.New("session token revoked")
	// ErrTokenInvalid covers malformed, forged, or otherwise unusable tokens.
	ErrTokenInvalid = errors.New("session token invalid")
	// ErrNoTenantAccess means the token is valid but grants no role in the
	// requested tenant.
	ErrNoTenantAccess = errors.New("no access to tenant")
	// ErrVerifyUnavailable means the identity provider could not be reached;
	// verification fails closed.
	ErrVerifyUnavailable = errors.New("identity provider unavailable")
)

// StaleCookie reports whether the error indicates a cookie that will never
// become valid again and should be cleared from the browser.
func StaleCookie(err error) bool {
	return errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrTokenRevoked)
}

package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated user derived from the access token. It is
// computed on demand, never stored — the credential pair remains the only
// persistent auth state.
type Identity struct {
	Username  string
	Role      string
	ExpiresAt time.Time
}

// accessClaims is the payload the backend encodes into access tokens.
type accessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity decodes the current access token and returns the authenticated
// user, or nil when there is no valid identity. An expired, corrupted, or
// missing token yields nil — never a stale identity and never a panic.
// The signature is not verified here; the backend verifies on every request.
func (c *Client) Identity() *Identity {
	creds := c.currentCredentials()
	if creds == nil || creds.AccessToken == "" {
		return nil
	}

	return decodeIdentity(creds.AccessToken, time.Now())
}

// decodeIdentity parses claims from an access token. Split from Identity so
// tests can control the clock.
func decodeIdentity(token string, now time.Time) *Identity {
	claims := &accessClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	// Expiry must be strictly in the future. A token without an expiry
	// claim is treated as expired.
	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(now) {
		return nil
	}

	if claims.Subject == "" {
		return nil
	}

	return &Identity{
		Username:  claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

package apiclient

import (
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/kuitang/promptdeck-e2e/internal/errs"
)

// TokenInfo holds the claims the agent checks on a session token. The
// signature is not verified: the agent has no key and only inspects what
// the target issued.
type TokenInfo struct {
	Subject   string
	Email     string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// InspectToken decodes the claims of a JWT access token. Opaque tokens are
// reported as errs.InvalidArgument.
func InspectToken(token string) (*TokenInfo, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "access token is not a JWT", err)
	}
	claims := struct {
		jwt.Claims
		Email string `json:"email,omitempty"`
	}{}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "decode access token claims", err)
	}

	info := &TokenInfo{Subject: claims.Subject, Email: claims.Email, Issuer: claims.Issuer}
	if claims.IssuedAt != nil {
		info.IssuedAt = claims.IssuedAt.Time()
	}
	if claims.Expiry != nil {
		info.ExpiresAt = claims.Expiry.Time()
	}
	return info, nil
}

// Expired reports whether the token expiry is at or before now. Tokens
// without an expiry never expire.
func (t *TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !t.ExpiresAt.After(now)
}

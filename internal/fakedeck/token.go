package fakedeck

import (
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
)

type sessionClaims struct {
	jwt.Claims
	Email string `json:"email,omitempty"`
}

// signSession issues an HS256 session token. Must be called with d.mu held.
func (d *Deck) signSession() (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       d.signingKey,
	}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}

	now := d.now()
	claims := sessionClaims{
		Claims: jwt.Claims{
			Subject:   d.Account.ID,
			Issuer:    d.issuer,
			ID:        d.nextID("sess"),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Expiry:    jwt.NewNumericDate(now.Add(d.tokenTTL)),
		},
		Email: d.Account.Email,
	}
	token, err := jwt.Signed(signer).Claims(claims).CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return token, nil
}

var errInvalidSession = errors.New("invalid session token")

// verifySession checks signature, issuer and expiry. Must be called with
// d.mu held.
func (d *Deck) verifySession(token string) (*sessionClaims, error) {
	parsed, err := jwt.ParseSigned(token)
	if err != nil {
		return nil, errInvalidSession
	}
	var claims sessionClaims
	if err := parsed.Claims(d.signingKey, &claims); err != nil {
		return nil, errInvalidSession
	}
	expected := jwt.Expected{Issuer: d.issuer, Time: d.now()}
	if err := claims.ValidateWithLeeway(expected, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidSession, err)
	}
	return &claims, nil
}

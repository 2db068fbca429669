package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/c360/relaykit/errors"
)

// claims is the token payload: standard registered claims plus the caller's
// role set.
type claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenAuthority issues and verifies HMAC-signed identity tokens.
type TokenAuthority struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenAuthority creates an authority signing with the given HS256
// secret. Tokens expire after ttl.
func NewTokenAuthority(secret []byte, issuer string, ttl time.Duration) (*TokenAuthority, error) {
	if len(secret) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "TokenAuthority", "New",
			"signing secret is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenAuthority{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue signs a token for the identity.
func (a *TokenAuthority) Issue(identity Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Roles: identity.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "TokenAuthority", "Issue", "sign token")
	}
	return signed, nil
}

// Verify parses and validates a token, returning the identity it carries.
// Expired, malformed, or wrongly signed tokens fail with errors.ErrInvalidToken.
func (a *TokenAuthority) Verify(tokenString string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidToken, "TokenAuthority", "Verify",
				"unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Anonymous, errors.WrapInvalid(errors.ErrInvalidToken, "TokenAuthority", "Verify",
			"token rejected")
	}
	if a.issuer != "" && c.Issuer != a.issuer {
		return Anonymous, errors.WrapInvalid(errors.ErrInvalidToken, "TokenAuthority", "Verify",
			"issuer mismatch")
	}
	return Identity{Subject: c.Subject, Roles: c.Roles}, nil
}

package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenIssuer = "storesync"

	// DefaultTokenTTL is the lifetime of a site bearer token.
	DefaultTokenTTL = 5 * time.Minute
)

// ErrUnauthorized is returned for a missing, malformed or expired token.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator issues and verifies the HS256 bearer tokens sites present
// to the central server. The token subject is the caller's site id.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator from a shared secret.
func NewAuthenticator(secret string, ttl time.Duration) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("auth secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Token signs a token for siteID.
func (a *Authenticator) Token(siteID string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   siteID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks a token and returns the site id it was issued to.
func (a *Authenticator) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// Package session signs and verifies portal session tokens.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const issuerName = "prospect-portal"

type Claims struct {
	domain.Identity
	jwt.RegisteredClaims
}

type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// Issue signs an HS256 token for identity.
func (i *Issuer) Issue(identity *domain.Identity) (*domain.Session, error) {
	now := i.now()
	exp := now.Add(i.ttl)

	claims := Claims{
		Identity: *identity,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}
	return &domain.Session{Token: signed, ExpiresAt: exp, Identity: identity}, nil
}

// Parse verifies raw and returns its identity. Any failure is
// domain.ErrUnauthorized.
func (i *Issuer) Parse(raw string) (*domain.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, errors.Join(domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" || claims.Subject != claims.Identity.ID {
		return nil, domain.ErrUnauthorized
	}

	identity := claims.Identity
	return &identity, nil
}

// CookieName is the HttpOnly cookie that carries the session token.
const CookieName = "portal_session"

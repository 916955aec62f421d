package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer token sent to the backend.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, typically an operator session token
// issued by the backend's own login flow.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// ServiceClaims are the claims of a console service token.
type ServiceClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// JWTSigner mints short-lived HS256 service tokens and reuses each one
// until shortly before it expires.
type JWTSigner struct {
	secret   []byte
	issuer   string
	subject  string
	audience string
	scope    string
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// JWTConfig configures a JWTSigner.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Subject  string
	Audience string
	Scope    string
	TTL      time.Duration
}

// NewJWTSigner validates cfg and returns a signer.
func NewJWTSigner(cfg JWTConfig) (*JWTSigner, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("backend: jwt secret must be at least 32 characters")
	}
	if cfg.Subject == "" {
		return nil, errors.New("backend: jwt subject is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	return &JWTSigner{
		secret:   []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		subject:  cfg.Subject,
		audience: cfg.Audience,
		scope:    cfg.Scope,
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// Token implements TokenSource.
func (s *JWTSigner) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Before(s.expires.Add(-s.ttl/5)) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	claims := ServiceClaims{
		Scope: s.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   s.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("backend: sign service token: %w", err)
	}
	s.cached = signed
	s.expires = expires
	return signed, nil
}

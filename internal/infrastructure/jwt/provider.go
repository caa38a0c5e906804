package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/741g/vperfetto/internal/config"
	"github.com/golang-jwt/jwt/v5"
)

// Scopes granted to control API callers.
const (
	ScopeControl = "control"
	ScopeReport  = "report"
)

// Claims holds the JWT payload fields.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 JWTs for the control API.
type Provider struct {
	secret []byte
	expiry time.Duration
}

func NewProvider(cfg *config.Config) (*Provider, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("CONTROL_JWT_SECRET not set")
	}
	if len(cfg.JWTSecret) < 16 {
		return nil, fmt.Errorf("CONTROL_JWT_SECRET must be at least 16 bytes, got %d", len(cfg.JWTSecret))
	}
	expiry := cfg.JWTExpiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Provider{secret: []byte(cfg.JWTSecret), expiry: expiry}, nil
}

// Sign issues a token for subject (a guest or operator name) with scope.
func (p *Provider) Sign(subject, scope string) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(p.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

func (p *Provider) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

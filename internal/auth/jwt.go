package auth

import (
	"errors"
	"fmt"
	"time"

	"callconfirm/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// clockSkew is tolerated on exp, nbf and iat.
const clockSkew = 30 * time.Second

// Manager issues and checks operator tokens (HS256).
type Manager struct {
	key        []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	return &Manager{
		key:        []byte(cfg.JWTSecret),
		issuer:     cfg.JWTIssuer,
		audience:   cfg.JWTAudience,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

type TokenPair struct {
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

func (m *Manager) IssuePair(now time.Time, op Operator) (TokenPair, error) {
	if op.ID == "" || op.Role == "" {
		return TokenPair{}, errors.New("auth: operator id and role are required")
	}
	access, err := m.sign(now, op, useAccess, m.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := m.sign(now, op, useRefresh, m.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, AccessExpiresAt: now.Add(m.accessTTL).UTC()}, nil
}

// Authenticate checks an access token and returns the operator it was issued to.
func (m *Manager) Authenticate(raw string, now time.Time) (Operator, error) {
	return m.parse(raw, useAccess, now)
}

// Refresh exchanges a refresh token for a new pair carrying the same operator.
func (m *Manager) Refresh(raw string, now time.Time) (TokenPair, error) {
	op, err := m.parse(raw, useRefresh, now)
	if err != nil {
		return TokenPair{}, err
	}
	return m.IssuePair(now, op)
}

func (m *Manager) parse(raw string, use tokenUse, now time.Time) (Operator, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims operatorClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) { return m.key, nil }, opts...); err != nil {
		return Operator{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	switch {
	case claims.Use != use:
		return Operator{}, fmt.Errorf("%w: %s token used as %s", ErrInvalidToken, claims.Use, use)
	case claims.Subject == "":
		return Operator{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	case claims.Role == "":
		return Operator{}, fmt.Errorf("%w: role missing", ErrInvalidToken)
	}
	return Operator{ID: claims.Subject, Role: claims.Role}, nil
}

func (m *Manager) sign(now time.Time, op Operator, use tokenUse, ttl time.Duration) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Role: op.Role,
		Use:  use,
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
}

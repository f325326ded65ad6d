// Copyright 2026 The MedPlane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package token issues and validates the signed tenant+user credentials
// that authenticate every request against the core.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medplane/medplane/internal/security"
	"github.com/medplane/medplane/internal/tenant"
)

// DefaultTTL is the token lifetime when the caller does not specify one.
const DefaultTTL = time.Hour

// Claims are the signed assertions carried by a credential.
type Claims struct {
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	AccessLevel string   `json:"access_level"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Level decodes the access level claim.
func (c *Claims) Level() (tenant.AccessLevel, error) {
	return tenant.ParseAccessLevel(c.AccessLevel)
}

// Config holds token manager configuration.
type Config struct {
	// SigningKey is the symmetric HS256 key. Required.
	SigningKey []byte
	// Issuer is embedded in and checked on every token.
	Issuer string
	// DefaultTTL applies when Create is called with ttl <= 0.
	DefaultTTL time.Duration
	// RefreshGrace allows Refresh to accept tokens expired less than this
	// long ago. Zero means only still-valid tokens refresh.
	RefreshGrace time.Duration
}

// Manager creates, validates and refreshes credentials.
type Manager struct {
	cfg Config
	now func() time.Time
}

// NewManager creates a token manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("token: signing key is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("token: issuer is required")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	return &Manager{cfg: cfg, now: time.Now}, nil
}

// Create issues a signed credential for the given tenant and user.
func (m *Manager) Create(tenantID, userID string, level tenant.AccessLevel, roles, permissions []string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("token: tenant id is required")
	}
	if userID == "" {
		return "", fmt.Errorf("token: user id is required")
	}
	if !level.Valid() {
		return "", fmt.Errorf("token: invalid access level %d", int(level))
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	now := m.now()
	claims := &Claims{
		TenantID:    tenantID,
		UserID:      userID,
		AccessLevel: level.String(),
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate verifies the credential and returns its claims. Checks run in
// order: signature, expiry, issuer. Any single-character mutation of the
// token fails signature verification.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, security.New(security.KindTokenInvalid, "token is empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, security.New(security.KindTokenTampered, "token signature verification failed")
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, security.New(security.KindTokenExpired, "token is expired")
		default:
			return nil, security.New(security.KindTokenInvalid, "token is malformed: %v", err)
		}
	}

	if claims.Issuer != m.cfg.Issuer {
		return nil, security.New(security.KindTokenInvalid, "unexpected issuer %q", claims.Issuer)
	}
	if claims.TenantID == "" {
		return nil, security.New(security.KindTokenInvalid, "token carries no tenant id")
	}
	if _, err := claims.Level(); err != nil {
		return nil, security.New(security.KindTokenInvalid, "token carries invalid access level %q", claims.AccessLevel)
	}

	return claims, nil
}

// Refresh issues a new token with the same claims and fresh timestamps.
// The input must be valid, or expired by no more than the configured grace
// window; the original TTL is preserved.
func (m *Manager) Refresh(tokenString string) (string, error) {
	claims := &Claims{}
	// Signature still verified; expiry checked manually against the grace
	// window below.
	_, err := jwt.ParseWithClaims(tokenString, claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return "", security.New(security.KindTokenTampered, "token signature verification failed")
		}
		return "", security.New(security.KindTokenInvalid, "token is malformed: %v", err)
	}

	if claims.Issuer != m.cfg.Issuer {
		return "", security.New(security.KindTokenInvalid, "unexpected issuer %q", claims.Issuer)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return "", security.New(security.KindTokenInvalid, "token is missing timestamps")
	}
	if m.now().After(claims.ExpiresAt.Add(m.cfg.RefreshGrace)) {
		return "", security.New(security.KindTokenExpired, "token expired beyond refresh grace")
	}

	level, err := claims.Level()
	if err != nil {
		return "", security.New(security.KindTokenInvalid, "token carries invalid access level %q", claims.AccessLevel)
	}

	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	return m.Create(claims.TenantID, claims.UserID, level, claims.Roles, claims.Permissions, ttl)
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	return m.cfg.SigningKey, nil
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Sentinel errors for token validation failures.
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrWrongTokenUse = errors.New("wrong token type")
)

// Claims is the JWT payload for both access and refresh tokens.
type Claims struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Staff     bool   `json:"staff"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Tokens issues and validates token pairs.
type Tokens struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokens creates a token issuer from the auth configuration.
func NewTokens(cfg *config.AuthConfig) *Tokens {
	return &Tokens{
		secret:     []byte(cfg.JWTSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}
}

// IssuePair mints an access/refresh token pair for a user.
func (t *Tokens) IssuePair(user *models.User) (models.TokenPairOut, error) {
	access, err := t.issue(user, TokenTypeAccess, t.accessTTL)
	if err != nil {
		return models.TokenPairOut{}, err
	}
	refresh, err := t.issue(user, TokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return models.TokenPairOut{}, err
	}
	return models.TokenPairOut{Access: access, Refresh: refresh}, nil
}

func (t *Tokens) issue(user *models.User, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Staff:     user.IsStaff,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateAccess parses an access token and returns its claims.
func (t *Tokens) ValidateAccess(raw string) (*Claims, error) {
	return t.validate(raw, TokenTypeAccess)
}

// ValidateRefresh parses a refresh token and returns its claims.
func (t *Tokens) ValidateRefresh(raw string) (*Claims, error) {
	return t.validate(raw, TokenTypeRefresh)
}

func (t *Tokens) validate(raw, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrWrongTokenUse
	}
	return claims, nil
}

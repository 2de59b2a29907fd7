// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

func testTokens() *Tokens {
	return NewTokens(&config.AuthConfig{
		JWTSecret:       "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
}

func testUser() *models.User {
	return &models.User{ID: 42, Username: "alice", IsStaff: true}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("hash does not look like bcrypt: %s", hash)
	}

	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("correct password rejected")
	}
	if CheckPassword(hash, "wrong password") {
		t.Error("wrong password accepted")
	}
}

func TestHashPasswordRejectsOversized(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("x", 73)); err == nil {
		t.Error("expected error for password over 72 bytes")
	}
}

func TestIssuePairAndValidate(t *testing.T) {
	tokens := testTokens()

	pair, err := tokens.IssuePair(testUser())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}
	if pair.Access == "" || pair.Refresh == "" || pair.Access == pair.Refresh {
		t.Fatal("pair should contain two distinct tokens")
	}

	claims, err := tokens.ValidateAccess(pair.Access)
	if err != nil {
		t.Fatalf("ValidateAccess failed: %v", err)
	}
	if claims.UserID != 42 || claims.Username != "alice" || !claims.Staff {
		t.Errorf("claims = %+v", claims)
	}

	refreshClaims, err := tokens.ValidateRefresh(pair.Refresh)
	if err != nil {
		t.Fatalf("ValidateRefresh failed: %v", err)
	}
	if refreshClaims.UserID != 42 {
		t.Errorf("refresh UserID = %d", refreshClaims.UserID)
	}
}

func TestTokenTypeEnforced(t *testing.T) {
	tokens := testTokens()
	pair, err := tokens.IssuePair(testUser())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	if _, err := tokens.ValidateAccess(pair.Refresh); !errors.Is(err, ErrWrongTokenUse) {
		t.Errorf("refresh token used as access should fail with ErrWrongTokenUse, got %v", err)
	}
	if _, err := tokens.ValidateRefresh(pair.Access); !errors.Is(err, ErrWrongTokenUse) {
		t.Errorf("access token used as refresh should fail with ErrWrongTokenUse, got %v", err)
	}
}

func TestValidateRejectsTamperedAndExpired(t *testing.T) {
	tokens := testTokens()
	pair, err := tokens.IssuePair(testUser())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	if _, err := tokens.ValidateAccess(pair.Access + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered token should fail with ErrInvalidToken, got %v", err)
	}

	otherSecret := NewTokens(&config.AuthConfig{
		JWTSecret:      "ffffffffffffffffffffffffffffffff",
		AccessTokenTTL: time.Hour,
	})
	if _, err := otherSecret.ValidateAccess(pair.Access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with a different secret should fail, got %v", err)
	}

	expired := NewTokens(&config.AuthConfig{
		JWTSecret:       "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:  -time.Minute,
		RefreshTokenTTL: time.Hour,
	})
	expiredPair, err := expired.IssuePair(testUser())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}
	if _, err := tokens.ValidateAccess(expiredPair.Access); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token should fail with ErrInvalidToken, got %v", err)
	}
}

func TestRequireAuth(t *testing.T) {
	tokens := testTokens()
	pair, err := tokens.IssuePair(testUser())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	var gotIdentity *Identity
	handler := tokens.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No header
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"detail"`) {
		t.Errorf("401 body should use the detail shape: %s", rec.Body.String())
	}

	// Bad token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}

	// Valid token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access)
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", rec.Code)
	}
	if gotIdentity == nil || gotIdentity.UserID != 42 || !gotIdentity.Staff {
		t.Errorf("identity = %+v", gotIdentity)
	}
}

func TestOptionalAuth(t *testing.T) {
	tokens := testTokens()
	pair, err := tokens.IssuePair(testUser())
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	var gotIdentity *Identity
	var hadIdentity bool
	handler := tokens.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, hadIdentity = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// Anonymous passes through
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || hadIdentity {
		t.Errorf("anonymous request: status = %d, identity = %v", rec.Code, gotIdentity)
	}

	// Invalid token also passes through anonymously
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || hadIdentity {
		t.Errorf("invalid token: status = %d, identity = %v", rec.Code, gotIdentity)
	}

	// Valid token attaches identity
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+pair.Access)
	handler.ServeHTTP(rec, req)
	if !hadIdentity || gotIdentity.Username != "alice" {
		t.Errorf("identity = %+v", gotIdentity)
	}
}

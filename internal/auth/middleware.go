// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// Identity is the authenticated caller placed on the request context.
type Identity struct {
	UserID   int64
	Username string
	Staff    bool
}

type contextKey struct{}

// identityKey is the context key for the caller identity.
var identityKey = contextKey{}

// FromContext returns the authenticated identity, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// WithIdentity attaches an identity to a context. Exposed for handler
// tests.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// RequireAuth rejects requests without a valid access token.
func (t *Tokens) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			denyAuth(w, "Authentication credentials were not provided")
			return
		}

		claims, err := t.ValidateAccess(raw)
		if err != nil {
			denyAuth(w, "Invalid or expired token")
			return
		}

		id := &Identity{UserID: claims.UserID, Username: claims.Username, Staff: claims.Staff}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// OptionalAuth attaches an identity when a valid access token is
// present and passes the request through anonymously otherwise.
func (t *Tokens) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := bearerToken(r); raw != "" {
			if claims, err := t.ValidateAccess(raw); err == nil {
				id := &Identity{UserID: claims.UserID, Username: claims.Username, Staff: claims.Staff}
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// denyAuth writes a 401 with the standard error body.
func denyAuth(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(models.ErrorOut{Detail: detail})
}

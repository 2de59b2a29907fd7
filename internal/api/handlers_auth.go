// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/auth"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/database"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/gamification"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// defaultLeaderboardLimit bounds the leaderboard page when the caller
// does not ask for a size.
const defaultLeaderboardLimit = 10

// maxLeaderboardLimit caps the leaderboard page.
const maxLeaderboardLimit = 100

// Register creates an account with a fresh gamification profile.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in models.RegisterIn
	if err := decodeJSON(r, &in); err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		respondDetail(w, http.StatusBadRequest, "Username (3-150 chars), valid email, and password (8+ chars) are required")
		return
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid password")
		return
	}

	user, err := h.db.CreateUser(r.Context(), in.Username, in.Email, hash, false)
	if errors.Is(err, database.ErrUsernameTaken) {
		respondDetail(w, http.StatusConflict, "Username already taken")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("Failed to create user")
		respondDetail(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	logging.Info().Str("username", user.Username).Int64("user_id", user.ID).Msg("User registered")
	respondJSON(w, http.StatusCreated, user.Out())
}

// Token issues an access/refresh pair for valid credentials. The error
// is the same for an unknown username and a wrong password.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var in models.LoginIn
	if err := decodeJSON(r, &in); err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		respondDetail(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	user, err := h.db.GetUserByUsername(r.Context(), in.Username)
	if errors.Is(err, database.ErrUserNotFound) || (err == nil && !auth.CheckPassword(user.PasswordHash, in.Password)) {
		respondDetail(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "Failed to authenticate")
		return
	}

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to issue token pair")
		respondDetail(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

// RefreshToken exchanges a refresh token for a new pair.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in models.RefreshIn
	if err := decodeJSON(r, &in); err != nil || in.Refresh == "" {
		respondDetail(w, http.StatusBadRequest, "Refresh token is required")
		return
	}

	claims, err := h.tokens.ValidateRefresh(in.Refresh)
	if err != nil {
		respondDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	// Re-read the user so a staff change or deletion takes effect on
	// the next refresh rather than at token expiry.
	user, err := h.db.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, database.ErrUserNotFound) {
		respondDetail(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "Failed to authenticate")
		return
	}

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

// Me returns the authenticated user's account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		respondDetail(w, http.StatusNotFound, "User not found")
		return
	}
	respondJSON(w, http.StatusOK, user.Out())
}

// UpdateMe changes the authenticated user's email, the only mutable
// account field.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided")
		return
	}

	var in models.AccountUpdateIn
	if err := decodeJSON(r, &in); err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(in); err != nil {
		respondDetail(w, http.StatusBadRequest, "A valid email is required")
		return
	}

	if err := h.db.UpdateUserEmail(r.Context(), identity.UserID, in.Email); err != nil {
		logging.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to update email")
		respondDetail(w, http.StatusInternalServerError, "Failed to update account")
		return
	}

	user, err := h.db.GetUserByID(r.Context(), identity.UserID)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "Failed to load account")
		return
	}
	respondJSON(w, http.StatusOK, user.Out())
}

// MyStats returns the authenticated user's gamification stats.
func (h *Handler) MyStats(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		respondDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided")
		return
	}

	stats, err := h.game.UserStats(r.Context(), identity.UserID)
	if err != nil {
		logging.Error().Err(err).Int64("user_id", identity.UserID).Msg("Failed to compute user stats")
		respondDetail(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// Leaderboard returns the reputation ranking.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			respondDetail(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	board, err := h.game.Leaderboard(r.Context(), limit)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to build leaderboard")
		respondDetail(w, http.StatusInternalServerError, "Failed to build leaderboard")
		return
	}
	respondJSON(w, http.StatusOK, board)
}

// Badges returns the full badge catalog.
func (h *Handler) Badges(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, gamification.Catalog())
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

const userColumns = `id, username, email, password_hash, is_staff, created_at`

// CreateUser registers a new account and its empty gamification
// profile. Returns ErrUsernameTaken on a duplicate username.
func (db *DB) CreateUser(ctx context.Context, username, email, passwordHash string, isStaff bool) (*models.User, error) {
	now := time.Now().UTC()

	var id int64
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, is_staff, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		username, email, passwordHash, isStaff, now).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, created_at) VALUES (?, ?)`, id, now); err != nil {
		return nil, fmt.Errorf("failed to create user profile: %w", err)
	}

	return &models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsStaff:      isStaff,
		CreatedAt:    now,
	}, nil
}

// GetUserByUsername returns one user, or ErrUserNotFound.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.getUser(ctx, `username = ?`, username)
}

// GetUserByID returns one user, or ErrUserNotFound.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return db.getUser(ctx, `id = ?`, id)
}

// GetUserByEmail returns one user, or ErrUserNotFound.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.getUser(ctx, `email = ?`, email)
}

func (db *DB) getUser(ctx context.Context, cond string, arg any) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+cond, arg).
		Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsStaff, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// UpdateUserEmail changes a user's email address.
func (db *DB) UpdateUserEmail(ctx context.Context, id int64, email string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE users SET email = ? WHERE id = ?`, email, id)
	if err != nil {
		return fmt.Errorf("failed to update user email: %w", err)
	}
	return requireRow(res, ErrUserNotFound)
}

// GetProfile returns a user's gamification profile, or
// ErrProfileNotFound.
func (db *DB) GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error) {
	var p models.UserProfile
	var badgesJSON string
	err := db.conn.QueryRowContext(ctx, `
		SELECT user_id, reports_submitted, reports_verified, badges, reputation_score, created_at
		FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.ReportsSubmitted, &p.ReportsVerified, &badgesJSON, &p.ReputationScore, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if err := json.Unmarshal([]byte(badgesJSON), &p.Badges); err != nil {
		return nil, fmt.Errorf("invalid badges payload for user %d: %w", userID, err)
	}
	if p.Badges == nil {
		p.Badges = []string{}
	}
	return &p, nil
}

// IncrementReportsSubmitted bumps the submission counter by one.
func (db *DB) IncrementReportsSubmitted(ctx context.Context, userID int64) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE user_profiles SET reports_submitted = reports_submitted + 1
		WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to increment reports_submitted: %w", err)
	}
	return requireRow(res, ErrProfileNotFound)
}

// IncrementReportsVerified bumps the verification counter by one.
func (db *DB) IncrementReportsVerified(ctx context.Context, userID int64) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE user_profiles SET reports_verified = reports_verified + 1
		WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to increment reports_verified: %w", err)
	}
	return requireRow(res, ErrProfileNotFound)
}

// AddReputation adjusts the reputation score by delta. Penalties can
// drive the score negative.
func (db *DB) AddReputation(ctx context.Context, userID int64, delta int) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE user_profiles
		SET reputation_score = reputation_score + ?
		WHERE user_id = ?`, delta, userID)
	if err != nil {
		return fmt.Errorf("failed to adjust reputation: %w", err)
	}
	return requireRow(res, ErrProfileNotFound)
}

// AwardBadges adds badge IDs to the profile's badge set. Already-held
// badges are ignored; the stored set only ever grows.
func (db *DB) AwardBadges(ctx context.Context, userID int64, badgeIDs []string) error {
	if len(badgeIDs) == 0 {
		return nil
	}

	p, err := db.GetProfile(ctx, userID)
	if err != nil {
		return err
	}

	have := make(map[string]bool, len(p.Badges))
	for _, b := range p.Badges {
		have[b] = true
	}

	merged := p.Badges
	changed := false
	for _, id := range badgeIDs {
		if !have[id] {
			merged = append(merged, id)
			have[id] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode badges: %w", err)
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE user_profiles SET badges = ? WHERE user_id = ?`, string(data), userID)
	if err != nil {
		return fmt.Errorf("failed to store badges: %w", err)
	}
	return requireRow(res, ErrProfileNotFound)
}

// Leaderboard returns the top profiles by reputation, with usernames
// joined in, highest score first. Ties break on verified then
// submitted report counts.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntryOut, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT u.id, u.username, p.reputation_score, p.reports_submitted, p.reports_verified, p.badges
		FROM user_profiles p
		JOIN users u ON u.id = p.user_id
		ORDER BY p.reputation_score DESC, p.reports_verified DESC, p.reports_submitted DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer closeQuietly(rows)

	entries := make([]models.LeaderboardEntryOut, 0, limit)
	rank := 0
	for rows.Next() {
		rank++
		var e models.LeaderboardEntryOut
		var badgesJSON string
		if err := rows.Scan(&e.UserID, &e.Username, &e.ReputationScore,
			&e.ReportsSubmitted, &e.ReportsVerified, &badgesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		var badges []string
		if err := json.Unmarshal([]byte(badgesJSON), &badges); err != nil {
			return nil, fmt.Errorf("invalid badges payload for user %d: %w", e.UserID, err)
		}
		e.Rank = rank
		e.BadgeCount = len(badges)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard rows iteration: %w", err)
	}

	return entries, nil
}

// CountProfiles returns the total number of gamification profiles.
func (db *DB) CountProfiles(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_profiles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return count, nil
}

// RankForReputation returns the 1-based rank a given score holds on
// the leaderboard: one plus the number of strictly higher scores.
func (db *DB) RankForReputation(ctx context.Context, score int) (int, error) {
	var higher int
	if err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_profiles WHERE reputation_score > ?`, score).
		Scan(&higher); err != nil {
		return 0, fmt.Errorf("failed to compute rank: %w", err)
	}
	return higher + 1, nil
}

// isUniqueViolation checks if an error is a DuckDB uniqueness conflict.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key") ||
		strings.Contains(msg, "violates unique constraint") ||
		strings.Contains(msg, "Constraint Error")
}

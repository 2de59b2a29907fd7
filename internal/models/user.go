// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package models

import "time"

// User is a registered account. Staff users may run the operator triage
// commands.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsStaff      bool      `json:"is_staff"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserProfile carries the gamification state for one user. Counters are
// monotonically non-decreasing through normal flows; Badges is a set
// (union-only through automated paths).
type UserProfile struct {
	UserID           int64     `json:"user_id"`
	ReportsSubmitted int       `json:"reports_submitted"`
	ReportsVerified  int       `json:"reports_verified"`
	Badges           []string  `json:"badges"`
	ReputationScore  int       `json:"reputation_score"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasBadge reports whether the profile holds the given badge marker.
func (p *UserProfile) HasBadge(id string) bool {
	for _, b := range p.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// UserOut is the wire representation of a user.
type UserOut struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsStaff  bool   `json:"is_staff"`
}

// Out converts a User to its wire representation.
func (u *User) Out() UserOut {
	return UserOut{ID: u.ID, Username: u.Username, Email: u.Email, IsStaff: u.IsStaff}
}

// UserProfileOut is the wire representation of a profile.
type UserProfileOut struct {
	User             UserOut  `json:"user"`
	ReportsSubmitted int      `json:"reports_submitted"`
	ReportsVerified  int      `json:"reports_verified"`
	Badges           []string `json:"badges"`
	ReputationScore  int      `json:"reputation_score"`
}

// BadgeOut describes one badge definition.
type BadgeOut struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
	Threshold   *int   `json:"threshold,omitempty"`
}

// NextBadgeOut describes progress towards the next badge in a family.
type NextBadgeOut struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Threshold int    `json:"threshold"`
	Progress  int    `json:"progress"`
	Remaining int    `json:"remaining"`
}

// UserStatsOut is the detailed gamification view for one user.
type UserStatsOut struct {
	ReportsSubmitted int           `json:"reports_submitted"`
	ReportsVerified  int           `json:"reports_verified"`
	VerificationRate float64       `json:"verification_rate"`
	ReputationScore  int           `json:"reputation_score"`
	Rank             int           `json:"rank"`
	Badges           []BadgeOut    `json:"badges"`
	BadgeCount       int           `json:"badge_count"`
	NextReportBadge  *NextBadgeOut `json:"next_report_badge"`
	NextVerifiedBadge *NextBadgeOut `json:"next_verified_badge"`
}

// LeaderboardEntryOut is one leaderboard row.
type LeaderboardEntryOut struct {
	Rank             int    `json:"rank"`
	UserID           int64  `json:"user_id"`
	Username         string `json:"username"`
	ReputationScore  int    `json:"reputation_score"`
	ReportsSubmitted int    `json:"reports_submitted"`
	ReportsVerified  int    `json:"reports_verified"`
	BadgeCount       int    `json:"badge_count"`
}

// LeaderboardOut is the leaderboard response.
type LeaderboardOut struct {
	Entries    []LeaderboardEntryOut `json:"entries"`
	TotalUsers int                   `json:"total_users"`
}

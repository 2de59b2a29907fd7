// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package gamification

// Badge describes one earnable badge. Milestone badges carry a
// threshold; special badges are awarded by events.
type Badge struct {
	ID          string
	Name        string
	Description string
	Icon        string
	Category    string
	Threshold   int // 0 for special badges
}

// Badge IDs referenced outside the catalog.
const (
	BadgeFirstReport        = "first_report"
	BadgeEmergencyResponder = "emergency_responder"
	BadgeNightOwl           = "night_owl"
	BadgeEarlyAdopter       = "early_adopter"
)

// reportBadges are the submission milestone badges in ascending order.
var reportBadges = []Badge{
	{ID: BadgeFirstReport, Name: "First Reporter", Description: "Submitted your first report", Icon: "flag", Category: "reports", Threshold: 1},
	{ID: "reporter_10", Name: "Active Reporter", Description: "Submitted 10 reports", Icon: "megaphone", Category: "reports", Threshold: 10},
	{ID: "reporter_50", Name: "Dedicated Reporter", Description: "Submitted 50 reports", Icon: "star", Category: "reports", Threshold: 50},
	{ID: "reporter_100", Name: "Champion Reporter", Description: "Submitted 100 reports", Icon: "trophy", Category: "reports", Threshold: 100},
}

// verifiedBadges are the verification milestone badges in ascending order.
var verifiedBadges = []Badge{
	{ID: "first_verified", Name: "Trusted Source", Description: "Had your first report verified", Icon: "check", Category: "verified", Threshold: 1},
	{ID: "verified_10", Name: "Reliable Reporter", Description: "Had 10 reports verified", Icon: "shield", Category: "verified", Threshold: 10},
	{ID: "verified_25", Name: "Accuracy Expert", Description: "Had 25 reports verified", Icon: "medal", Category: "verified", Threshold: 25},
	{ID: "verified_50", Name: "Verification Master", Description: "Had 50 reports verified", Icon: "crown", Category: "verified", Threshold: 50},
}

// reputationBadges are the reputation milestone badges in ascending order.
var reputationBadges = []Badge{
	{ID: "reputation_100", Name: "Rising Star", Description: "Reached 100 reputation points", Icon: "sparkles", Category: "reputation", Threshold: 100},
	{ID: "reputation_500", Name: "Community Leader", Description: "Reached 500 reputation points", Icon: "gem", Category: "reputation", Threshold: 500},
	{ID: "reputation_1000", Name: "City Guardian", Description: "Reached 1000 reputation points", Icon: "shield_star", Category: "reputation", Threshold: 1000},
}

// specialBadges are event-driven, with no threshold.
var specialBadges = []Badge{
	{ID: BadgeEarlyAdopter, Name: "Early Adopter", Description: "Joined during the early access period", Icon: "rocket", Category: "special"},
	{ID: BadgeNightOwl, Name: "Night Owl", Description: "Submitted a report between midnight and 5am", Icon: "moon", Category: "special"},
	{ID: BadgeEmergencyResponder, Name: "Emergency Responder", Description: "Reported a verified critical emergency", Icon: "siren", Category: "special"},
}

// catalog maps badge ID to definition across all families.
var catalog = buildCatalog()

func buildCatalog() map[string]Badge {
	m := make(map[string]Badge)
	for _, family := range [][]Badge{reportBadges, verifiedBadges, reputationBadges, specialBadges} {
		for _, b := range family {
			m[b.ID] = b
		}
	}
	return m
}

// Lookup returns a badge definition by ID.
func Lookup(id string) (Badge, bool) {
	b, ok := catalog[id]
	return b, ok
}

// AllBadges returns every badge definition in display order.
func AllBadges() []Badge {
	out := make([]Badge, 0, len(catalog))
	for _, family := range [][]Badge{reportBadges, verifiedBadges, reputationBadges, specialBadges} {
		out = append(out, family...)
	}
	return out
}

// Reputation point values.
const (
	PointsReportVerified   = 10
	PointsCriticalVerified = 25 // bonus on top of the verified points
	PointsFalseAlarm       = -5
)

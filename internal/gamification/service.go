// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package gamification maintains reporter profiles: submission and
// verification counters, reputation points, and the badge catalog.
package gamification

import (
	"context"
	"fmt"
	"time"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// Store is the persistence surface the service needs.
type Store interface {
	GetProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	IncrementReportsSubmitted(ctx context.Context, userID int64) error
	IncrementReportsVerified(ctx context.Context, userID int64) error
	AddReputation(ctx context.Context, userID int64, delta int) error
	AwardBadges(ctx context.Context, userID int64, badgeIDs []string) error
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntryOut, error)
	CountProfiles(ctx context.Context) (int, error)
	RankForReputation(ctx context.Context, score int) (int, error)
}

// Service applies gamification rules on top of a Store.
type Service struct {
	store Store
}

// New creates a Service.
func New(store Store) *Service {
	return &Service{store: store}
}

// OnReportSubmitted records a submission: the counter is bumped exactly
// once here, milestone badges are checked, and a report filed between
// midnight and 5am earns the night owl badge.
func (s *Service) OnReportSubmitted(ctx context.Context, userID int64, submittedAt time.Time) ([]string, error) {
	if err := s.store.IncrementReportsSubmitted(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to record submission: %w", err)
	}

	var extra []string
	hour := submittedAt.Hour()
	if hour >= 0 && hour < 5 {
		extra = append(extra, BadgeNightOwl)
	}

	return s.checkAndAward(ctx, userID, extra)
}

// OnReportVerified records a verification: the verified counter and
// reputation go up, a critical report earns the bonus and the emergency
// responder badge, and milestones are re-checked.
func (s *Service) OnReportVerified(ctx context.Context, userID int64, critical bool) ([]string, error) {
	if err := s.store.IncrementReportsVerified(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}

	points := PointsReportVerified
	var extra []string
	if critical {
		points += PointsCriticalVerified
		extra = append(extra, BadgeEmergencyResponder)
	}

	if err := s.store.AddReputation(ctx, userID, points); err != nil {
		return nil, fmt.Errorf("failed to add reputation: %w", err)
	}

	return s.checkAndAward(ctx, userID, extra)
}

// OnReportRejected applies the false alarm penalty.
func (s *Service) OnReportRejected(ctx context.Context, userID int64) error {
	if err := s.store.AddReputation(ctx, userID, PointsFalseAlarm); err != nil {
		return fmt.Errorf("failed to apply penalty: %w", err)
	}
	return nil
}

// checkAndAward compares the profile against milestone thresholds and
// stores any newly earned badges, including the given special badges.
func (s *Service) checkAndAward(ctx context.Context, userID int64, special []string) ([]string, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	var earned []string
	add := func(id string) {
		if !p.HasBadge(id) {
			earned = append(earned, id)
		}
	}

	for _, b := range reportBadges {
		if p.ReportsSubmitted >= b.Threshold {
			add(b.ID)
		}
	}
	for _, b := range verifiedBadges {
		if p.ReportsVerified >= b.Threshold {
			add(b.ID)
		}
	}
	for _, b := range reputationBadges {
		if p.ReputationScore >= b.Threshold {
			add(b.ID)
		}
	}
	for _, id := range special {
		add(id)
	}

	if len(earned) == 0 {
		return nil, nil
	}

	if err := s.store.AwardBadges(ctx, userID, earned); err != nil {
		return nil, fmt.Errorf("failed to store badges: %w", err)
	}

	logging.Info().
		Int64("user_id", userID).
		Strs("badges", earned).
		Msg("Awarded badges")

	return earned, nil
}

// UserStats assembles the detailed gamification view for one user.
func (s *Service) UserStats(ctx context.Context, userID int64) (*models.UserStatsOut, error) {
	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	rank, err := s.store.RankForReputation(ctx, p.ReputationScore)
	if err != nil {
		return nil, err
	}

	badges := make([]models.BadgeOut, 0, len(p.Badges))
	for _, id := range p.Badges {
		if b, ok := Lookup(id); ok {
			badges = append(badges, badgeOut(b))
		}
	}

	rate := 0.0
	if p.ReportsSubmitted > 0 {
		// one decimal place, matching the public API contract
		rate = float64(int(float64(p.ReportsVerified)/float64(p.ReportsSubmitted)*1000+0.5)) / 10
	}

	return &models.UserStatsOut{
		ReportsSubmitted:  p.ReportsSubmitted,
		ReportsVerified:   p.ReportsVerified,
		VerificationRate:  rate,
		ReputationScore:   p.ReputationScore,
		Rank:              rank,
		Badges:            badges,
		BadgeCount:        len(badges),
		NextReportBadge:   nextBadge(p.ReportsSubmitted, reportBadges),
		NextVerifiedBadge: nextBadge(p.ReportsVerified, verifiedBadges),
	}, nil
}

// Leaderboard returns the top entries plus the total profile count.
func (s *Service) Leaderboard(ctx context.Context, limit int) (*models.LeaderboardOut, error) {
	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return &models.LeaderboardOut{Entries: entries, TotalUsers: total}, nil
}

// Catalog returns every badge definition as wire objects.
func Catalog() []models.BadgeOut {
	all := AllBadges()
	out := make([]models.BadgeOut, 0, len(all))
	for _, b := range all {
		out = append(out, badgeOut(b))
	}
	return out
}

// nextBadge finds the first unreached milestone in a family.
func nextBadge(current int, family []Badge) *models.NextBadgeOut {
	for _, b := range family {
		if current < b.Threshold {
			return &models.NextBadgeOut{
				ID:        b.ID,
				Name:      b.Name,
				Threshold: b.Threshold,
				Progress:  current,
				Remaining: b.Threshold - current,
			}
		}
	}
	return nil
}

func badgeOut(b Badge) models.BadgeOut {
	out := models.BadgeOut{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Icon:        b.Icon,
		Category:    b.Category,
	}
	if b.Threshold > 0 {
		t := b.Threshold
		out.Threshold = &t
	}
	return out
}

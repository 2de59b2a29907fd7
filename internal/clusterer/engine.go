// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package clusterer groups events that are close in space and time.
//
// The algorithm is incremental: each new event is matched against
// recent neighbors within the join radius. If any neighbor already
// belongs to a cluster the event joins that cluster (the nearest
// one); otherwise a new cluster forms from the event and its loose
// neighbors. Cluster severity starts at the maximum member severity
// and escalates with size.
package clusterer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// Store is the persistence surface the engine needs.
type Store interface {
	FindNearbyEvents(ctx context.Context, exclude uuid.UUID, lat, lon, radiusMeters float64, cutoff time.Time) ([]models.NearbyEvent, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	AssignEventCluster(ctx context.Context, id uuid.UUID, clusterID *uuid.UUID) error
	InsertCluster(ctx context.Context, c *models.EventCluster) error
	GetCluster(ctx context.Context, id uuid.UUID) (*models.EventCluster, error)
	UpdateCluster(ctx context.Context, c *models.EventCluster) error
	DeleteCluster(ctx context.Context, id uuid.UUID) error
	DetachClusterMembers(ctx context.Context, id uuid.UUID) (int, error)
	ClusterMemberStats(ctx context.Context, id uuid.UUID) (*models.ClusterMemberStats, error)
}

// Engine assigns events to clusters and maintains cluster aggregates.
type Engine struct {
	store Store
	cfg   *config.ClusteringConfig
}

// New creates an Engine.
func New(store Store, cfg *config.ClusteringConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Assign places an event into a cluster if it has recent neighbors
// within the join radius. Returns the cluster the event joined, or nil
// when the event stays unclustered.
func (e *Engine) Assign(ctx context.Context, event *models.Event) (*models.EventCluster, error) {
	cutoff := time.Now().UTC().Add(-e.cfg.TimeWindow)

	neighbors, err := e.store.FindNearbyEvents(ctx, event.ID,
		event.Latitude, event.Longitude, e.cfg.RadiusMeters, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find neighbors: %w", err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	// Join the nearest neighbor's cluster when one exists; neighbors
	// are already ordered by ascending distance.
	for _, n := range neighbors {
		if n.ClusterID == nil {
			continue
		}
		cluster, err := e.join(ctx, event, *n.ClusterID)
		if err != nil {
			return nil, err
		}
		return cluster, nil
	}

	return e.form(ctx, event, neighbors)
}

// join attaches event to an existing cluster and refreshes aggregates.
func (e *Engine) join(ctx context.Context, event *models.Event, clusterID uuid.UUID) (*models.EventCluster, error) {
	if err := e.store.AssignEventCluster(ctx, event.ID, &clusterID); err != nil {
		return nil, fmt.Errorf("failed to attach event to cluster: %w", err)
	}

	cluster, err := e.Recompute(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("event_id", event.ID.String()).
		Str("cluster_id", clusterID.String()).
		Int("event_count", cluster.EventCount).
		Int("severity", int(cluster.ComputedSeverity)).
		Msg("Event joined cluster")

	return cluster, nil
}

// form creates a new cluster from the event and its unclustered
// neighbors.
func (e *Engine) form(ctx context.Context, event *models.Event, neighbors []models.NearbyEvent) (*models.EventCluster, error) {
	clusterID := uuid.New()
	now := time.Now().UTC()

	cluster := &models.EventCluster{
		ID:               clusterID,
		CentroidLat:      event.Latitude,
		CentroidLon:      event.Longitude,
		RadiusMeters:     int(e.cfg.RadiusMeters),
		EventCount:       0,
		FirstEventAt:     now,
		LastEventAt:      now,
		ComputedSeverity: event.Severity.Clamp(),
	}
	if err := e.store.InsertCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	members := []uuid.UUID{event.ID}
	for _, n := range neighbors {
		members = append(members, n.ID)
	}
	for _, id := range members {
		if err := e.store.AssignEventCluster(ctx, id, &clusterID); err != nil {
			return nil, fmt.Errorf("failed to attach member %s: %w", id, err)
		}
	}

	cluster, err := e.Recompute(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	logging.Info().
		Str("cluster_id", clusterID.String()).
		Int("event_count", cluster.EventCount).
		Msg("Formed new cluster")

	return cluster, nil
}

// Recompute rebuilds a cluster's aggregates from its live membership.
// Clusters that drop below two members are deleted and their remaining
// member detached.
func (e *Engine) Recompute(ctx context.Context, clusterID uuid.UUID) (*models.EventCluster, error) {
	cluster, err := e.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster: %w", err)
	}

	stats, err := e.store.ClusterMemberStats(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate members: %w", err)
	}

	cluster.EventCount = stats.Count
	cluster.CentroidLat = stats.MeanLat
	cluster.CentroidLon = stats.MeanLon
	cluster.FirstEventAt = stats.FirstEventAt
	cluster.LastEventAt = stats.LastEventAt
	cluster.ComputedSeverity = e.severityFor(stats)

	if err := e.store.UpdateCluster(ctx, cluster); err != nil {
		return nil, fmt.Errorf("failed to store cluster aggregates: %w", err)
	}

	return cluster, nil
}

// Detach removes an event from its cluster and recomputes or dissolves
// the cluster. Used when triage marks a member as a false alarm.
func (e *Engine) Detach(ctx context.Context, eventID, clusterID uuid.UUID) error {
	if err := e.store.AssignEventCluster(ctx, eventID, nil); err != nil {
		return fmt.Errorf("failed to detach event: %w", err)
	}

	stats, err := e.store.ClusterMemberStats(ctx, clusterID)
	if err != nil {
		// No members left at all
		return e.dissolve(ctx, clusterID)
	}

	if stats.Count < 2 {
		return e.dissolve(ctx, clusterID)
	}

	if _, err := e.Recompute(ctx, clusterID); err != nil {
		return err
	}
	return nil
}

// dissolve detaches any remaining members and deletes the cluster.
func (e *Engine) dissolve(ctx context.Context, clusterID uuid.UUID) error {
	if _, err := e.store.DetachClusterMembers(ctx, clusterID); err != nil {
		return err
	}

	if err := e.store.DeleteCluster(ctx, clusterID); err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}

	logging.Info().Str("cluster_id", clusterID.String()).Msg("Dissolved cluster")
	return nil
}

// severityFor computes cluster severity: the maximum member severity
// as a baseline, escalated to High at the high threshold and Critical
// at the critical threshold.
func (e *Engine) severityFor(stats *models.ClusterMemberStats) models.Severity {
	severity := stats.MaxSeverity.Clamp()

	if stats.Count >= e.cfg.CriticalThreshold {
		if severity < models.SeverityCritical {
			severity = models.SeverityCritical
		}
	} else if stats.Count >= e.cfg.HighThreshold {
		if severity < models.SeverityHigh {
			severity = models.SeverityHigh
		}
	}

	return severity
}

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

	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

const clusterColumns = `id, centroid_lat, centroid_lon, radius_meters,
	event_count, first_event_at, last_event_at, computed_severity`

// MaxClusterListLimit caps the number of clusters returned to the map.
const MaxClusterListLimit = 100

// ClusterFilter selects clusters for listing.
type ClusterFilter struct {
	HasBounds bool
	MinLat    float64
	MaxLat    float64
	MinLon    float64
	MaxLon    float64
}

// InsertCluster stores a newly formed cluster.
func (db *DB) InsertCluster(ctx context.Context, c *models.EventCluster) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO event_clusters (
			id, centroid_lat, centroid_lon, radius_meters,
			event_count, first_event_at, last_event_at, computed_severity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CentroidLat, c.CentroidLon, c.RadiusMeters,
		c.EventCount, c.FirstEventAt, c.LastEventAt, int(c.ComputedSeverity))
	if err != nil {
		return fmt.Errorf("failed to insert cluster: %w", err)
	}
	return nil
}

// GetCluster returns one cluster by ID, or ErrClusterNotFound.
func (db *DB) GetCluster(ctx context.Context, id uuid.UUID) (*models.EventCluster, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+clusterColumns+` FROM event_clusters WHERE id = ?`, id)

	c, err := scanCluster(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClusterNotFound
		}
		return nil, fmt.Errorf("failed to get cluster: %w", err)
	}
	return c, nil
}

// UpdateCluster rewrites a cluster's aggregates after membership changes.
func (db *DB) UpdateCluster(ctx context.Context, c *models.EventCluster) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE event_clusters
		SET centroid_lat = ?, centroid_lon = ?, event_count = ?,
			first_event_at = ?, last_event_at = ?, computed_severity = ?
		WHERE id = ?`,
		c.CentroidLat, c.CentroidLon, c.EventCount,
		c.FirstEventAt, c.LastEventAt, int(c.ComputedSeverity), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update cluster: %w", err)
	}
	return requireRow(res, ErrClusterNotFound)
}

// DeleteCluster removes a cluster whose membership dropped below two.
func (db *DB) DeleteCluster(ctx context.Context, id uuid.UUID) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM event_clusters WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	return requireRow(res, ErrClusterNotFound)
}

// ListClusters returns clusters with at least two members, optionally
// restricted to a bounding box, most recently active first.
func (db *DB) ListClusters(ctx context.Context, f ClusterFilter) ([]models.EventCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM event_clusters WHERE event_count > 1`
	var args []any

	if f.HasBounds {
		query += ` AND centroid_lat BETWEEN ? AND ? AND centroid_lon BETWEEN ? AND ?`
		args = append(args, f.MinLat, f.MaxLat, f.MinLon, f.MaxLon)
	}
	query += ` ORDER BY last_event_at DESC LIMIT ?`
	args = append(args, MaxClusterListLimit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer closeQuietly(rows)

	var clusters []models.EventCluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		clusters = append(clusters, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cluster rows iteration: %w", err)
	}

	return clusters, nil
}

// DetachClusterMembers clears cluster_id on every member of a cluster
// and returns how many events were detached.
func (db *DB) DetachClusterMembers(ctx context.Context, id uuid.UUID) (int, error) {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE events SET cluster_id = NULL WHERE cluster_id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to detach cluster members: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// CountClusterMembers returns the live member count for one cluster.
func (db *DB) CountClusterMembers(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE cluster_id = ?`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cluster members: %w", err)
	}
	return count, nil
}

// ClusterMemberStats aggregates the live membership of one cluster:
// count, maximum member severity, centroid of member coordinates, and
// the first/last event timestamps. Returns ErrClusterNotFound when the
// cluster has no members.
func (db *DB) ClusterMemberStats(ctx context.Context, id uuid.UUID) (*models.ClusterMemberStats, error) {
	var s models.ClusterMemberStats
	var maxSeverity sql.NullInt64
	var meanLat, meanLon sql.NullFloat64
	var first, last sql.NullTime

	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(severity), AVG(latitude), AVG(longitude),
			MIN(created_at), MAX(created_at)
		FROM events WHERE cluster_id = ?`, id).
		Scan(&s.Count, &maxSeverity, &meanLat, &meanLon, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate cluster members: %w", err)
	}
	if s.Count == 0 {
		return nil, ErrClusterNotFound
	}

	s.MaxSeverity = models.Severity(maxSeverity.Int64)
	s.MeanLat = meanLat.Float64
	s.MeanLon = meanLon.Float64
	s.FirstEventAt = first.Time
	s.LastEventAt = last.Time

	return &s, nil
}

// scanCluster reads one cluster row in clusterColumns order.
func scanCluster(row rowScanner) (*models.EventCluster, error) {
	var c models.EventCluster
	var severity int
	err := row.Scan(
		&c.ID, &c.CentroidLat, &c.CentroidLon, &c.RadiusMeters,
		&c.EventCount, &c.FirstEventAt, &c.LastEventAt, &severity,
	)
	if err != nil {
		return nil, err
	}
	c.ComputedSeverity = models.Severity(severity)
	return &c, nil
}

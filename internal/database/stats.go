// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// Stats computes the aggregate summary: total events, breakdowns by
// status, category, and severity, and the number of active clusters
// (two or more members).
func (db *DB) Stats(ctx context.Context) (*models.StatsOut, error) {
	out := &models.StatsOut{
		EventsByStatus:   map[string]int{},
		EventsByCategory: map[string]int{},
		EventsBySeverity: map[string]int{},
	}

	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events`).Scan(&out.TotalEvents); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if err := db.countBy(ctx, `status`, out.EventsByStatus); err != nil {
		return nil, err
	}
	if err := db.countBy(ctx, `category`, out.EventsByCategory); err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT severity, COUNT(*) FROM events GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to group events by severity: %w", err)
	}
	defer closeQuietly(rows)
	for rows.Next() {
		var severity, count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity group: %w", err)
		}
		out.EventsBySeverity[strconv.Itoa(severity)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("severity rows iteration: %w", err)
	}

	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_clusters WHERE event_count > 1`).
		Scan(&out.ActiveClusters); err != nil {
		return nil, fmt.Errorf("failed to count active clusters: %w", err)
	}

	return out, nil
}

// countBy fills dest with GROUP BY counts over a text column.
func (db *DB) countBy(ctx context.Context, column string, dest map[string]int) error {
	// column comes from a fixed call-site set, never user input
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) FROM events GROUP BY `+column)
	if err != nil {
		return fmt.Errorf("failed to group events by %s: %w", column, err)
	}
	defer closeQuietly(rows)

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return fmt.Errorf("failed to scan %s group: %w", column, err)
		}
		dest[key] = count
	}
	return rows.Err()
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createSchema creates the core tables and sequences.
//
// Schema strategy: all columns are defined in the initial CREATE TABLE
// statements so the complete schema has a single source of truth and a
// fresh database starts without migrations.
func (db *DB) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		// Users hold credentials and the staff flag used by the triage
		// endpoint. DuckDB has no auto-increment, so IDs come from a
		// sequence.
		`CREATE SEQUENCE IF NOT EXISTS user_id_seq START 1`,

		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY DEFAULT nextval('user_id_seq'),
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			is_staff BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		// One profile per user; badges stored as a JSON array of badge
		// identifiers.
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id BIGINT PRIMARY KEY,
			reports_submitted INTEGER NOT NULL DEFAULT 0,
			reports_verified INTEGER NOT NULL DEFAULT 0,
			badges TEXT NOT NULL DEFAULT '[]',
			reputation_score INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS event_clusters (
			id UUID PRIMARY KEY,
			centroid_lat DOUBLE NOT NULL,
			centroid_lon DOUBLE NOT NULL,
			radius_meters INTEGER NOT NULL,
			event_count INTEGER NOT NULL DEFAULT 0,
			first_event_at TIMESTAMP NOT NULL,
			last_event_at TIMESTAMP NOT NULL,
			computed_severity INTEGER NOT NULL DEFAULT 1
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,

			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			address TEXT NOT NULL DEFAULT '',

			description TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL DEFAULT '',
			media_type TEXT NOT NULL,
			thumbnail_url TEXT NOT NULL DEFAULT '',

			transcription TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'informational',
			subcategory TEXT NOT NULL DEFAULT '',
			severity INTEGER NOT NULL DEFAULT 1,
			ai_confidence DOUBLE,
			ai_reasoning TEXT NOT NULL DEFAULT '',

			cluster_id UUID,

			status TEXT NOT NULL DEFAULT 'new',
			reporter_id BIGINT,
			reviewed_by_id BIGINT,
			reviewed_at TIMESTAMP
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// createIndexes creates indexes for the common query patterns: map
// viewport listing, status filtering, cluster membership scans, and the
// leaderboard ordering.
func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_category ON events(category)`,
		`CREATE INDEX IF NOT EXISTS idx_events_cluster_id ON events(cluster_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_location ON events(latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS idx_events_reporter ON events(reporter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_clusters_last_event ON event_clusters(last_event_at)`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_reputation ON user_profiles(reputation_score)`,
	}

	for _, stmt := range indexes {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

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

	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

const eventColumns = `id, created_at, latitude, longitude, address,
	description, media_url, media_type, thumbnail_url,
	transcription, category, subcategory, severity, ai_confidence, ai_reasoning,
	cluster_id, status, reporter_id, reviewed_by_id, reviewed_at`

// EventFilter selects events for listing. Zero values mean "no
// constraint" except Limit, which is capped by ListEvents.
type EventFilter struct {
	// Bounding box; applied only when HasBounds is true.
	HasBounds bool
	MinLat    float64
	MaxLat    float64
	MinLon    float64
	MaxLon    float64

	// Enum filters; each renders as an IN list.
	Statuses   []models.Status
	Severities []models.Severity
	Categories []models.Category
	Since      time.Time

	Limit  int
	Offset int
}

// MaxListLimit caps the page size of event listings.
const MaxListLimit = 500

// DefaultListLimit is applied when the caller does not set a limit.
const DefaultListLimit = 100

// InsertEvent stores a freshly uploaded event.
func (db *DB) InsertEvent(ctx context.Context, e *models.Event) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO events (
			id, created_at, latitude, longitude, address,
			description, media_url, media_type, thumbnail_url,
			transcription, category, subcategory, severity, ai_confidence, ai_reasoning,
			cluster_id, status, reporter_id, reviewed_by_id, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreatedAt, e.Latitude, e.Longitude, e.Address,
		e.Description, e.MediaURL, string(e.MediaType), e.ThumbnailURL,
		e.Transcription, string(e.Category), e.Subcategory, int(e.Severity), e.AIConfidence, e.AIReasoning,
		uuidPtr(e.ClusterID), string(e.Status), e.ReporterID, e.ReviewedByID, e.ReviewedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetEvent returns one event by ID, or ErrEventNotFound.
func (db *DB) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)

	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return e, nil
}

// SetEventMedia records the durable media URL after the original upload
// is stored in the object store.
func (db *DB) SetEventMedia(ctx context.Context, id uuid.UUID, mediaURL string) error {
	return db.updateEventField(ctx, id, "media_url", mediaURL)
}

// SetEventThumbnail records the keyframe thumbnail URL.
func (db *DB) SetEventThumbnail(ctx context.Context, id uuid.UUID, thumbnailURL string) error {
	return db.updateEventField(ctx, id, "thumbnail_url", thumbnailURL)
}

// SetEventTranscription records the speech-to-text result.
func (db *DB) SetEventTranscription(ctx context.Context, id uuid.UUID, text string) error {
	return db.updateEventField(ctx, id, "transcription", text)
}

// ApplyClassification writes the classifier output onto the event.
func (db *DB) ApplyClassification(ctx context.Context, id uuid.UUID, c models.Classification) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE events
		SET category = ?, subcategory = ?, severity = ?, ai_confidence = ?, ai_reasoning = ?
		WHERE id = ?`,
		string(c.Category), c.Subcategory, int(c.Severity.Clamp()), c.Confidence, c.Reasoning, id)
	if err != nil {
		return fmt.Errorf("failed to apply classification: %w", err)
	}
	return requireRow(res, ErrEventNotFound)
}

// UpdateEventStatus applies an operator triage decision.
func (db *DB) UpdateEventStatus(ctx context.Context, id uuid.UUID, status models.Status, reviewerID int64, reviewedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE events SET status = ?, reviewed_by_id = ?, reviewed_at = ?
		WHERE id = ?`,
		string(status), reviewerID, reviewedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	return requireRow(res, ErrEventNotFound)
}

// AssignEventCluster links an event to a cluster. A nil clusterID
// detaches the event.
func (db *DB) AssignEventCluster(ctx context.Context, id uuid.UUID, clusterID *uuid.UUID) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE events SET cluster_id = ? WHERE id = ?`, uuidPtr(clusterID), id)
	if err != nil {
		return fmt.Errorf("failed to assign event cluster: %w", err)
	}
	return requireRow(res, ErrEventNotFound)
}

// ListEvents returns a page of events matching the filter, newest
// first, along with the total count of matching rows.
func (db *DB) ListEvents(ctx context.Context, f EventFilter) ([]models.Event, int, error) {
	where, args := buildEventWhere(f)

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM events` + where
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM events` + where +
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := db.conn.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer closeQuietly(rows)

	events := make([]models.Event, 0, limit)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("event rows iteration: %w", err)
	}

	return events, total, nil
}

// buildEventWhere assembles the WHERE clause for ListEvents.
func buildEventWhere(f EventFilter) (string, []any) {
	var conds []string
	var args []any

	if f.HasBounds {
		conds = append(conds, "latitude BETWEEN ? AND ?", "longitude BETWEEN ? AND ?")
		args = append(args, f.MinLat, f.MaxLat, f.MinLon, f.MaxLon)
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, s := range f.Statuses {
			args = append(args, string(s))
		}
	}
	if len(f.Severities) > 0 {
		conds = append(conds, "severity IN ("+placeholders(len(f.Severities))+")")
		for _, s := range f.Severities {
			args = append(args, int(s))
		}
	}
	if len(f.Categories) > 0 {
		conds = append(conds, "category IN ("+placeholders(len(f.Categories))+")")
		for _, c := range f.Categories {
			args = append(args, string(c))
		}
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// placeholders renders n comma-separated SQL parameter markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// FindNearbyEvents returns events within radiusMeters of the given
// point that were created at or after cutoff, excluding the probe event
// itself, ordered by ascending distance.
//
// Distance uses the haversine great-circle formula evaluated in SQL so
// the filter runs inside DuckDB rather than in Go.
func (db *DB) FindNearbyEvents(ctx context.Context, exclude uuid.UUID, lat, lon, radiusMeters float64, cutoff time.Time) ([]models.NearbyEvent, error) {
	const earthRadiusMeters = 6371000.0

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, cluster_id, severity,
			2 * ? * ASIN(SQRT(
				POW(SIN(RADIANS(latitude - ?) / 2), 2) +
				COS(RADIANS(?)) * COS(RADIANS(latitude)) *
				POW(SIN(RADIANS(longitude - ?) / 2), 2)
			)) AS distance_m
		FROM events
		WHERE id != ?
		  AND created_at >= ?
		  AND distance_m <= ?
		ORDER BY distance_m ASC`,
		earthRadiusMeters, lat, lat, lon, exclude, cutoff, radiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby events: %w", err)
	}
	defer closeQuietly(rows)

	var neighbors []models.NearbyEvent
	for rows.Next() {
		var n models.NearbyEvent
		var clusterID sql.NullString
		var severity int
		if err := rows.Scan(&n.ID, &clusterID, &severity, &n.DistanceMeters); err != nil {
			return nil, fmt.Errorf("failed to scan nearby event: %w", err)
		}
		n.Severity = models.Severity(severity)
		if clusterID.Valid {
			cid, err := uuid.Parse(clusterID.String)
			if err != nil {
				return nil, fmt.Errorf("invalid cluster id %q: %w", clusterID.String, err)
			}
			n.ClusterID = &cid
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearby rows iteration: %w", err)
	}

	return neighbors, nil
}

// updateEventField sets a single text column on an event.
func (db *DB) updateEventField(ctx context.Context, id uuid.UUID, column, value string) error {
	// column comes from a fixed call-site set, never user input
	res, err := db.conn.ExecContext(ctx,
		`UPDATE events SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", column, err)
	}
	return requireRow(res, ErrEventNotFound)
}

// requireRow converts a zero-rows-affected result into notFound.
func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one event row in eventColumns order.
func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	var mediaType, category, status string
	var severity int
	var clusterID sql.NullString
	var reviewedAt sql.NullTime
	var reporter, reviewer sql.NullInt64

	err := row.Scan(
		&e.ID, &e.CreatedAt, &e.Latitude, &e.Longitude, &e.Address,
		&e.Description, &e.MediaURL, &mediaType, &e.ThumbnailURL,
		&e.Transcription, &category, &e.Subcategory, &severity, &e.AIConfidence, &e.AIReasoning,
		&clusterID, &status, &reporter, &reviewer, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}

	e.MediaType = models.MediaKind(mediaType)
	e.Category = models.Category(category)
	e.Severity = models.Severity(severity)
	e.Status = models.Status(status)

	if clusterID.Valid {
		cid, err := uuid.Parse(clusterID.String)
		if err != nil {
			return nil, fmt.Errorf("invalid cluster id %q: %w", clusterID.String, err)
		}
		e.ClusterID = &cid
	}
	if reporter.Valid {
		v := reporter.Int64
		e.ReporterID = &v
	}
	if reviewer.Valid {
		v := reviewer.Int64
		e.ReviewedByID = &v
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		e.ReviewedAt = &t
	}

	return &e, nil
}

// uuidPtr converts an optional UUID into a driver-friendly value.
func uuidPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package models defines the core entities and wire shapes shared across
// the database, pipeline, clustering, and API layers.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies an event. Values are wire-stable strings.
type Category string

// Event categories.
const (
	CategoryEmergency      Category = "emergency"
	CategorySecurity       Category = "security"
	CategoryTraffic        Category = "traffic"
	CategoryProtest        Category = "protest"
	CategoryInfrastructure Category = "infrastructure"
	CategoryEnvironmental  Category = "environmental"
	CategoryInformational  Category = "informational"
)

// Categories lists all valid categories in display order.
var Categories = []Category{
	CategoryEmergency,
	CategorySecurity,
	CategoryTraffic,
	CategoryProtest,
	CategoryInfrastructure,
	CategoryEnvironmental,
	CategoryInformational,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Severity is the ordinal priority of an event, 1 (Low) to 4 (Critical).
type Severity int

// Severity levels.
const (
	SeverityLow      Severity = 1
	SeverityMedium   Severity = 2
	SeverityHigh     Severity = 3
	SeverityCritical Severity = 4
)

// Valid reports whether s is within the 1-4 range.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// Clamp forces s into the valid range, defaulting out-of-range values
// to Low. Used when applying classifier output.
func (s Severity) Clamp() Severity {
	if !s.Valid() {
		return SeverityLow
	}
	return s
}

// Status is the triage state of an event through the operator workflow.
type Status string

// Event statuses.
const (
	StatusNew        Status = "new"
	StatusReviewing  Status = "reviewing"
	StatusVerified   Status = "verified"
	StatusResolved   Status = "resolved"
	StatusFalseAlarm Status = "false_alarm"
)

// Statuses lists all valid statuses.
var Statuses = []Status{StatusNew, StatusReviewing, StatusVerified, StatusResolved, StatusFalseAlarm}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Reviewable reports whether s is a status an operator may set via the
// triage command. NEW is assigned only at creation.
func (s Status) Reviewable() bool {
	return s == StatusReviewing || s == StatusVerified || s == StatusResolved || s == StatusFalseAlarm
}

// MediaKind distinguishes uploaded media.
type MediaKind string

// Media kinds.
const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Event is a citizen-reported incident. The pipeline is the sole writer
// of the enrichment fields (media/thumbnail URLs, transcription,
// classification, cluster); the operator triage command writes only
// Status, ReviewedByID, and ReviewedAt.
type Event struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Location (WGS-84)
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`

	// Content
	Description  string    `json:"description"`
	MediaURL     string    `json:"media_url"`
	MediaType    MediaKind `json:"media_type"`
	ThumbnailURL string    `json:"thumbnail_url"`

	// AI enrichment
	Transcription string   `json:"transcription"`
	Category      Category `json:"category"`
	Subcategory   string   `json:"subcategory"`
	Severity      Severity `json:"severity"`
	AIConfidence  *float64 `json:"ai_confidence"`
	AIReasoning   string   `json:"ai_reasoning"`

	// Clustering
	ClusterID *uuid.UUID `json:"cluster_id"`

	// Triage
	Status       Status     `json:"status"`
	ReporterID   *int64     `json:"reporter_id"`
	ReviewedByID *int64     `json:"reviewed_by_id"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
}

// NearbyEvent is a neighbor returned by the spatial query, ordered by
// ascending distance from the probe event.
type NearbyEvent struct {
	ID             uuid.UUID
	ClusterID      *uuid.UUID
	Severity       Severity
	DistanceMeters float64
}

// EventCluster groups spatially and temporally co-located events.
// Membership is held on the event side (Event.ClusterID); the cluster
// carries only aggregates.
type EventCluster struct {
	ID               uuid.UUID `json:"id"`
	CentroidLat      float64   `json:"latitude"`
	CentroidLon      float64   `json:"longitude"`
	RadiusMeters     int       `json:"radius_meters"`
	EventCount       int       `json:"event_count"`
	FirstEventAt     time.Time `json:"first_event_at"`
	LastEventAt      time.Time `json:"last_event_at"`
	ComputedSeverity Severity  `json:"computed_severity"`
}

// ClusterMemberStats aggregates live membership of one cluster, used by
// the recompute path.
type ClusterMemberStats struct {
	Count        int
	MaxSeverity  Severity
	MeanLat      float64
	MeanLon      float64
	FirstEventAt time.Time
	LastEventAt  time.Time
}

// Classification is the structured output of the AI classifier.
type Classification struct {
	Category    Category `json:"category"`
	Subcategory string   `json:"subcategory"`
	Severity    Severity `json:"severity"`
	Confidence  *float64 `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
}

// DefaultClassification is the sentinel applied when classification is
// unavailable or fails; reason explains why.
func DefaultClassification(reason string) Classification {
	return Classification{
		Category:    CategoryInformational,
		Subcategory: "",
		Severity:    SeverityLow,
		Confidence:  nil,
		Reasoning:   reason,
	}
}

// EventOut is the wire representation of an event, matching the Event
// Detail response and the fan-out message payload.
type EventOut struct {
	ID            uuid.UUID  `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Latitude      float64    `json:"latitude"`
	Longitude     float64    `json:"longitude"`
	Address       string     `json:"address"`
	Description   string     `json:"description"`
	MediaURL      string     `json:"media_url"`
	MediaType     MediaKind  `json:"media_type"`
	ThumbnailURL  string     `json:"thumbnail_url"`
	Transcription string     `json:"transcription"`
	Category      Category   `json:"category"`
	Subcategory   string     `json:"subcategory"`
	Severity      Severity   `json:"severity"`
	AIConfidence  *float64   `json:"ai_confidence"`
	ClusterID     *uuid.UUID `json:"cluster_id,omitempty"`
	Status        Status     `json:"status"`
	ReviewedByID  *int64     `json:"reviewed_by_id,omitempty"`
	ReviewedAt    *time.Time `json:"reviewed_at,omitempty"`
}

// Out converts an Event to its wire representation.
func (e *Event) Out() EventOut {
	return EventOut{
		ID:            e.ID,
		CreatedAt:     e.CreatedAt,
		Latitude:      e.Latitude,
		Longitude:     e.Longitude,
		Address:       e.Address,
		Description:   e.Description,
		MediaURL:      e.MediaURL,
		MediaType:     e.MediaType,
		ThumbnailURL:  e.ThumbnailURL,
		Transcription: e.Transcription,
		Category:      e.Category,
		Subcategory:   e.Subcategory,
		Severity:      e.Severity,
		AIConfidence:  e.AIConfidence,
		ClusterID:     e.ClusterID,
		Status:        e.Status,
		ReviewedByID:  e.ReviewedByID,
		ReviewedAt:    e.ReviewedAt,
	}
}

// ClusterOut is the wire representation of a cluster.
type ClusterOut struct {
	ID               uuid.UUID `json:"id"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	EventCount       int       `json:"event_count"`
	ComputedSeverity Severity  `json:"computed_severity"`
	FirstEventAt     time.Time `json:"first_event_at"`
	LastEventAt      time.Time `json:"last_event_at"`
}

// Out converts an EventCluster to its wire representation.
func (c *EventCluster) Out() ClusterOut {
	return ClusterOut{
		ID:               c.ID,
		Latitude:         c.CentroidLat,
		Longitude:        c.CentroidLon,
		EventCount:       c.EventCount,
		ComputedSeverity: c.ComputedSeverity,
		FirstEventAt:     c.FirstEventAt,
		LastEventAt:      c.LastEventAt,
	}
}

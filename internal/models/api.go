// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package models

// EventListOut is the paginated event listing response.
type EventListOut struct {
	Events []EventOut `json:"events"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// EventUploadOut acknowledges an accepted upload before enrichment runs.
type EventUploadOut struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// StatsOut is the aggregate summary response.
type StatsOut struct {
	TotalEvents      int            `json:"total_events"`
	EventsByStatus   map[string]int `json:"events_by_status"`
	EventsByCategory map[string]int `json:"events_by_category"`
	EventsBySeverity map[string]int `json:"events_by_severity"`
	ActiveClusters   int            `json:"active_clusters"`
}

// ErrorOut is the error response body for all non-2xx API responses.
type ErrorOut struct {
	Detail string `json:"detail"`
}

// Bus message types carried on the fan-out subject.
const (
	MessageTypeNewEvent     = "new_event"
	MessageTypeStatusChange = "status_change"
)

// BusMessage is the payload published on the fan-out subject after
// enrichment completes or a triage decision lands.
type BusMessage struct {
	Type  string   `json:"type"`
	Event EventOut `json:"event"`
}

// TokenPairOut carries a freshly issued access/refresh token pair.
type TokenPairOut struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// StatusUpdateIn is the triage request body.
type StatusUpdateIn struct {
	Status Status `json:"status"`
}

// RegisterIn is the account registration request body.
type RegisterIn struct {
	Username string `json:"username" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// LoginIn is the token request body.
type LoginIn struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshIn is the token refresh request body.
type RefreshIn struct {
	Refresh string `json:"refresh" validate:"required"`
}

// AccountUpdateIn is the account update request body. Email is the only
// mutable account field.
type AccountUpdateIn struct {
	Email string `json:"email" validate:"required,email"`
}

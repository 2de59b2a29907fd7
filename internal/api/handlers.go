// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package api provides the HTTP surface: event upload and listing,
// operator triage, cluster and stats queries, the SSE stream, and the
// account endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/auth"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/database"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/gamification"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/metrics"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/pipeline"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/storage"
)

// ObjectStore is the object-storage surface the upload handler stages
// media into.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// JobQueue enqueues enrichment jobs for the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job pipeline.Job) error
}

// Broadcaster fans event updates out to connected stream clients.
type Broadcaster interface {
	Publish(msgType string, event models.EventOut)
}

// EventStream hands the stream handler a live message channel.
type EventStream interface {
	Stream() (<-chan models.BusMessage, func(), error)
}

// ClusterDetacher removes a triaged-away event from its cluster.
type ClusterDetacher interface {
	Detach(ctx context.Context, eventID, clusterID uuid.UUID) error
}

// Handler carries the dependencies shared by all endpoints.
type Handler struct {
	db        *database.DB
	objects   ObjectStore
	queue     JobQueue
	bus       Broadcaster
	stream    EventStream
	game      *gamification.Service
	clusters  ClusterDetacher
	tokens    *auth.Tokens
	validate  *validator.Validate
	maxUpload int64
}

// NewHandler wires the API handler.
func NewHandler(
	cfg *config.ServerConfig,
	db *database.DB,
	objects ObjectStore,
	queue JobQueue,
	broadcaster Broadcaster,
	stream EventStream,
	game *gamification.Service,
	clusters ClusterDetacher,
	tokens *auth.Tokens,
) *Handler {
	return &Handler{
		db:        db,
		objects:   objects,
		queue:     queue,
		bus:       broadcaster,
		stream:    stream,
		game:      game,
		clusters:  clusters,
		tokens:    tokens,
		validate:  validator.New(),
		maxUpload: cfg.MaxUploadBytes,
	}
}

// UploadEvent accepts a multipart report (coordinates, description,
// media file), stages the media, and enqueues the enrichment job. The
// response is a 202: enrichment happens asynchronously and lands on the
// stream.
func (h *Handler) UploadEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		respondDetail(w, http.StatusRequestEntityTooLarge, "Upload exceeds the size limit")
		return
	}

	lat, err := strconv.ParseFloat(r.FormValue("latitude"), 64)
	if err != nil || lat < -90 || lat > 90 {
		respondDetail(w, http.StatusBadRequest, "Invalid latitude")
		return
	}
	lon, err := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if err != nil || lon < -180 || lon > 180 {
		respondDetail(w, http.StatusBadRequest, "Invalid longitude")
		return
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Media file is required")
		return
	}
	defer func() { _ = file.Close() }()

	kind, contentType, ext := mediaKind(header)
	if kind == "" {
		respondDetail(w, http.StatusBadRequest, "Unsupported media type; upload an image or video")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Failed to read media file")
		return
	}

	event := &models.Event{
		ID:          uuid.New(),
		CreatedAt:   time.Now().UTC(),
		Latitude:    lat,
		Longitude:   lon,
		Address:     r.FormValue("address"),
		Description: r.FormValue("description"),
		MediaType:   kind,
		Category:    models.CategoryInformational,
		Severity:    models.SeverityLow,
		Status:      models.StatusNew,
	}
	if id, ok := auth.FromContext(r.Context()); ok {
		reporterID := id.UserID
		event.ReporterID = &reporterID
	}

	mediaKey := storage.MediaKey(event.ID.String(), ext)
	if _, err := h.objects.Upload(r.Context(), mediaKey, data, contentType); err != nil {
		logging.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to stage media")
		respondDetail(w, http.StatusBadGateway, "Failed to store media")
		return
	}

	if err := h.db.InsertEvent(r.Context(), event); err != nil {
		logging.Error().Err(err).Msg("Failed to insert event")
		respondDetail(w, http.StatusInternalServerError, "Failed to store event")
		return
	}

	job := pipeline.Job{
		EventID:     event.ID,
		MediaKey:    mediaKey,
		MediaExt:    ext,
		ContentType: contentType,
		MediaType:   kind,
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		logging.Error().Err(err).Str("event_id", event.ID.String()).Msg("Failed to enqueue pipeline job")
		respondDetail(w, http.StatusBadGateway, "Failed to queue event for processing")
		return
	}

	if event.ReporterID != nil {
		if _, err := h.game.OnReportSubmitted(r.Context(), *event.ReporterID, event.CreatedAt); err != nil {
			logging.Warn().Err(err).Int64("user_id", *event.ReporterID).Msg("Failed to record report submission")
		}
	}

	metrics.EventsUploadedTotal.WithLabelValues(string(kind)).Inc()
	respondJSON(w, http.StatusAccepted, models.EventUploadOut{
		ID:      event.ID.String(),
		Status:  models.StatusNew,
		Message: "Event accepted for processing",
	})
}

// ListEvents returns a filtered, paginated event listing.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := eventFilterFromQuery(r)

	events, total, err := h.db.ListEvents(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list events")
		respondDetail(w, http.StatusInternalServerError, "Failed to list events")
		return
	}

	out := make([]models.EventOut, len(events))
	for i := range events {
		out[i] = events[i].Out()
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = database.DefaultListLimit
	} else if limit > database.MaxListLimit {
		limit = database.MaxListLimit
	}

	respondJSON(w, http.StatusOK, models.EventListOut{
		Events: out,
		Total:  total,
		Limit:  limit,
		Offset: filter.Offset,
	})
}

// GetEvent returns one event by ID.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid event ID")
		return
	}

	event, err := h.db.GetEvent(r.Context(), id)
	if errors.Is(err, database.ErrEventNotFound) {
		respondDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("event_id", id.String()).Msg("Failed to load event")
		respondDetail(w, http.StatusInternalServerError, "Failed to load event")
		return
	}

	respondJSON(w, http.StatusOK, event.Out())
}

// UpdateEventStatus is the operator triage command. Staff only; the
// verdict feeds the reporter's gamification state and, for false
// alarms, detaches the event from its cluster.
func (h *Handler) UpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok || !identity.Staff {
		respondDetail(w, http.StatusForbidden, "Staff access required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid event ID")
		return
	}

	var in models.StatusUpdateIn
	if err := decodeJSON(r, &in); err != nil {
		respondDetail(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !in.Status.Reviewable() {
		respondDetail(w, http.StatusBadRequest, fmt.Sprintf("Invalid status %q", in.Status))
		return
	}

	event, err := h.db.GetEvent(r.Context(), id)
	if errors.Is(err, database.ErrEventNotFound) {
		respondDetail(w, http.StatusNotFound, "Event not found")
		return
	}
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "Failed to load event")
		return
	}

	now := time.Now().UTC()
	if err := h.db.UpdateEventStatus(r.Context(), id, in.Status, identity.UserID, now); err != nil {
		logging.Error().Err(err).Str("event_id", id.String()).Msg("Failed to update event status")
		respondDetail(w, http.StatusInternalServerError, "Failed to update event status")
		return
	}

	h.applyTriageOutcome(r.Context(), event, in.Status)

	updated, err := h.db.GetEvent(r.Context(), id)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "Failed to load event")
		return
	}

	h.bus.Publish(models.MessageTypeStatusChange, updated.Out())
	respondJSON(w, http.StatusOK, updated.Out())
}

// applyTriageOutcome propagates a verdict into gamification and
// clustering. Failures here are logged, never surfaced: the status
// write has already happened.
func (h *Handler) applyTriageOutcome(ctx context.Context, event *models.Event, verdict models.Status) {
	switch verdict {
	case models.StatusVerified:
		if event.ReporterID != nil && event.Status != models.StatusVerified {
			critical := event.Severity == models.SeverityCritical
			if _, err := h.game.OnReportVerified(ctx, *event.ReporterID, critical); err != nil {
				logging.Warn().Err(err).Int64("user_id", *event.ReporterID).Msg("Failed to credit verified report")
			}
		}
	case models.StatusFalseAlarm:
		if event.ReporterID != nil && event.Status != models.StatusFalseAlarm {
			if err := h.game.OnReportRejected(ctx, *event.ReporterID); err != nil {
				logging.Warn().Err(err).Int64("user_id", *event.ReporterID).Msg("Failed to debit rejected report")
			}
		}
		if event.ClusterID != nil {
			if err := h.clusters.Detach(ctx, event.ID, *event.ClusterID); err != nil {
				logging.Warn().Err(err).
					Str("event_id", event.ID.String()).
					Str("cluster_id", event.ClusterID.String()).
					Msg("Failed to detach false alarm from cluster")
			}
		}
	}
}

// ListClusters returns active clusters for the map overlay.
func (h *Handler) ListClusters(w http.ResponseWriter, r *http.Request) {
	filter := clusterFilterFromQuery(r)

	clusters, err := h.db.ListClusters(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list clusters")
		respondDetail(w, http.StatusInternalServerError, "Failed to list clusters")
		return
	}

	out := make([]models.ClusterOut, len(clusters))
	for i := range clusters {
		out[i] = clusters[i].Out()
	}
	respondJSON(w, http.StatusOK, out)
}

// StatsSummary returns the aggregate counters for the dashboard.
func (h *Handler) StatsSummary(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to compute stats")
		respondDetail(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// mediaKind determines image/video from the upload's content type,
// falling back to the filename extension. Returns the kind, the content
// type to store, and the extension for the staged object key.
func mediaKind(header *multipart.FileHeader) (models.MediaKind, string, string) {
	contentType := header.Header.Get("Content-Type")
	ext := strings.ToLower(filepath.Ext(header.Filename))

	switch {
	case strings.HasPrefix(contentType, "image/"):
		if ext == "" {
			ext = ".jpg"
		}
		return models.MediaImage, contentType, ext
	case strings.HasPrefix(contentType, "video/"):
		if ext == "" {
			ext = ".mp4"
		}
		return models.MediaVideo, contentType, ext
	}

	// Some clients send application/octet-stream; fall back to the
	// extension.
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return models.MediaImage, "image/" + strings.TrimPrefix(ext, "."), ext
	case ".mp4", ".mov", ".webm", ".mkv", ".avi":
		return models.MediaVideo, "video/" + strings.TrimPrefix(ext, "."), ext
	}
	return "", "", ""
}

// eventFilterFromQuery parses the listing query parameters. Enum
// filters take comma-separated values; invalid values are ignored
// rather than rejected, so a dashboard with a stale enum never breaks
// its listing.
func eventFilterFromQuery(r *http.Request) database.EventFilter {
	var f database.EventFilter
	q := r.URL.Query()

	for _, v := range splitCSV(q.Get("status")) {
		if status := models.Status(v); status.Valid() {
			f.Statuses = append(f.Statuses, status)
		}
	}
	for _, v := range splitCSV(q.Get("category")) {
		if category := models.Category(v); category.Valid() {
			f.Categories = append(f.Categories, category)
		}
	}
	for _, v := range splitCSV(q.Get("severity")) {
		if n, err := strconv.Atoi(v); err == nil && models.Severity(n).Valid() {
			f.Severities = append(f.Severities, models.Severity(n))
		}
	}
	if s := q.Get("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		}
	}

	if bounds, ok := parseBounds(q.Get("bounds")); ok {
		f.HasBounds = true
		f.MinLat, f.MinLon, f.MaxLat, f.MaxLon = bounds[0], bounds[1], bounds[2], bounds[3]
	}

	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n >= 1 {
		f.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		f.Offset = n
	}

	return f
}

// clusterFilterFromQuery parses the cluster listing query parameters.
func clusterFilterFromQuery(r *http.Request) database.ClusterFilter {
	var f database.ClusterFilter

	if bounds, ok := parseBounds(r.URL.Query().Get("bounds")); ok {
		f.HasBounds = true
		f.MinLat, f.MinLon, f.MaxLat, f.MaxLon = bounds[0], bounds[1], bounds[2], bounds[3]
	}
	return f
}

// splitCSV splits a comma-separated query value, trimming whitespace
// and dropping empty items.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseBounds parses a "lat1,lng1,lat2,lng2" bounding box. The box
// applies only when all four corners are present and numeric.
func parseBounds(s string) ([4]float64, bool) {
	var bounds [4]float64
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return bounds, false
	}
	for i, v := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return bounds, false
		}
		bounds[i] = n
	}
	return bounds, true
}

// decodeJSON reads a request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	defer func() { _ = r.Body.Close() }()
	return json.NewDecoder(r.Body).Decode(dst)
}

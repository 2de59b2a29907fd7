// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package pipeline runs the asynchronous enrichment of uploaded events:
// media store, keyframe extraction, transcription, classification,
// clustering, and the real-time broadcast.
//
// Jobs travel over a durable JetStream work queue; each stage failure is
// recorded and the remaining stages still run, so a broken classifier
// never blocks clustering or the map update. Only a missing event fails
// the whole job and triggers redelivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/metrics"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/storage"
)

// Pipeline stage names, in execution order.
const (
	StageStoreMedia      = "store_media"
	StageExtractKeyframe = "extract_keyframe"
	StageTranscribe      = "transcribe"
	StageClassify        = "classify"
	StageCluster         = "cluster"
	StageBroadcast       = "broadcast"
)

// Job is the work-queue payload enqueued at upload time. The raw media
// is already staged in the object store under MediaKey; the job carries
// only its coordinates.
type Job struct {
	EventID     uuid.UUID        `json:"event_id"`
	MediaKey    string           `json:"media_key"`
	MediaExt    string           `json:"media_ext"`
	ContentType string           `json:"content_type"`
	MediaType   models.MediaKind `json:"media_type"`
}

// Report summarizes one pipeline run: which stages completed and which
// failed. A job with stage errors is still acknowledged.
type Report struct {
	EventID   uuid.UUID
	Completed []string
	Errors    map[string]error
}

// Partial reports whether any stage failed.
func (r *Report) Partial() bool {
	return len(r.Errors) > 0
}

// EventStore is the database surface the pipeline writes through.
type EventStore interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	SetEventMedia(ctx context.Context, id uuid.UUID, mediaURL string) error
	SetEventThumbnail(ctx context.Context, id uuid.UUID, thumbnailURL string) error
	SetEventTranscription(ctx context.Context, id uuid.UUID, text string) error
	ApplyClassification(ctx context.Context, id uuid.UUID, c models.Classification) error
}

// ObjectStore is the object-storage surface used for staged media,
// thumbnails, and extracted audio.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	URL(key string) string
}

// MediaExtractor produces keyframes and audio tracks from video bytes.
type MediaExtractor interface {
	ExtractKeyframe(ctx context.Context, data []byte, ext string) ([]byte, error)
	ExtractAudio(ctx context.Context, data []byte, ext string) ([]byte, error)
}

// Transcriber converts an extracted audio track to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Classifier assigns category, severity, and reasoning to an event.
type Classifier interface {
	Classify(ctx context.Context, description, transcription string) (models.Classification, error)
}

// ClusterAssigner places a freshly classified event into a spatial
// cluster, forming or growing one as needed.
type ClusterAssigner interface {
	Assign(ctx context.Context, event *models.Event) (*models.EventCluster, error)
}

// Broadcaster fans an enriched event out to connected stream clients.
type Broadcaster interface {
	Publish(msgType string, event models.EventOut)
}

// Processor executes the enrichment stages for one job at a time.
type Processor struct {
	store       EventStore
	objects     ObjectStore
	extractor   MediaExtractor
	transcriber Transcriber
	classifier  Classifier
	clusterer   ClusterAssigner
	broadcaster Broadcaster
}

// NewProcessor wires the enrichment stages together.
func NewProcessor(
	store EventStore,
	objects ObjectStore,
	extractor MediaExtractor,
	transcriber Transcriber,
	classifier Classifier,
	clusterer ClusterAssigner,
	broadcaster Broadcaster,
) *Processor {
	return &Processor{
		store:       store,
		objects:     objects,
		extractor:   extractor,
		transcriber: transcriber,
		classifier:  classifier,
		clusterer:   clusterer,
		broadcaster: broadcaster,
	}
}

// Process runs every stage for one job. Stage failures are collected in
// the report and later stages still run. A non-nil error means the job
// itself could not run (event missing) and should be redelivered.
func (p *Processor) Process(ctx context.Context, job Job) (*Report, error) {
	start := time.Now()
	report := &Report{EventID: job.EventID, Errors: make(map[string]error)}

	event, err := p.store.GetEvent(ctx, job.EventID)
	if err != nil {
		metrics.PipelineJobsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("load event %s: %w", job.EventID, err)
	}

	p.storeMedia(ctx, job, report)

	// Video-only stages. media is downloaded lazily and shared between
	// the keyframe and audio paths.
	var media []byte
	if job.MediaType == models.MediaVideo {
		media = p.fetchMedia(ctx, job, report)
		p.extractKeyframe(ctx, job, media, report)
		transcription := p.transcribe(ctx, job, media, report)
		event.Transcription = transcription
	}

	p.classify(ctx, job, event, report)
	p.cluster(ctx, job, report)
	p.broadcast(ctx, job, report)

	duration := time.Since(start)
	metrics.PipelineJobDuration.Observe(duration.Seconds())
	outcome := "completed"
	if report.Partial() {
		outcome = "partial"
	}
	metrics.PipelineJobsTotal.WithLabelValues(outcome).Inc()

	log := logging.Info().
		Str("event_id", job.EventID.String()).
		Str("media_type", string(job.MediaType)).
		Strs("completed", report.Completed).
		Dur("duration", duration)
	if report.Partial() {
		log = log.Int("stage_errors", len(report.Errors))
	}
	log.Msg("Pipeline job finished")

	return report, nil
}

// Reprocess re-runs the enrichment stages for an already stored event,
// rebuilding the job from its recorded media URL so the staged object
// and its extension stay exactly as uploaded. Used by the admin
// reprocess command after a classifier or clusterer change.
func (p *Processor) Reprocess(ctx context.Context, eventID uuid.UUID) (*Report, error) {
	event, err := p.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	ext := path.Ext(event.MediaURL)
	if ext == "" {
		return nil, fmt.Errorf("event %s has no stored media", eventID)
	}

	job := Job{
		EventID:   eventID,
		MediaKey:  storage.MediaKey(eventID.String(), ext),
		MediaExt:  ext,
		MediaType: event.MediaType,
	}
	return p.Process(ctx, job)
}

func (p *Processor) storeMedia(ctx context.Context, job Job, report *Report) {
	if job.MediaKey == "" {
		report.fail(StageStoreMedia, errors.New("job carries no media key"))
		return
	}
	if err := p.store.SetEventMedia(ctx, job.EventID, p.objects.URL(job.MediaKey)); err != nil {
		report.fail(StageStoreMedia, err)
		return
	}
	report.done(StageStoreMedia)
}

// fetchMedia pulls the staged upload back from the object store. A
// failure here is charged to the keyframe stage since that is the first
// consumer.
func (p *Processor) fetchMedia(ctx context.Context, job Job, report *Report) []byte {
	data, err := p.objects.Download(ctx, job.MediaKey)
	if err != nil {
		report.fail(StageExtractKeyframe, fmt.Errorf("download media: %w", err))
		return nil
	}
	return data
}

func (p *Processor) extractKeyframe(ctx context.Context, job Job, media []byte, report *Report) {
	if media == nil {
		return
	}

	frame, err := p.extractor.ExtractKeyframe(ctx, media, job.MediaExt)
	if err != nil {
		report.fail(StageExtractKeyframe, err)
		return
	}

	url, err := p.objects.Upload(ctx, storage.ThumbnailKey(job.EventID.String()), frame, "image/jpeg")
	if err != nil {
		report.fail(StageExtractKeyframe, fmt.Errorf("upload thumbnail: %w", err))
		return
	}
	if err := p.store.SetEventThumbnail(ctx, job.EventID, url); err != nil {
		report.fail(StageExtractKeyframe, err)
		return
	}
	report.done(StageExtractKeyframe)
}

func (p *Processor) transcribe(ctx context.Context, job Job, media []byte, report *Report) string {
	if media == nil {
		report.fail(StageTranscribe, errors.New("media unavailable"))
		return ""
	}

	audio, err := p.extractor.ExtractAudio(ctx, media, job.MediaExt)
	if err != nil {
		report.fail(StageTranscribe, fmt.Errorf("extract audio: %w", err))
		return ""
	}

	// The audio track is kept alongside the media for later review.
	if _, err := p.objects.Upload(ctx, storage.AudioKey(job.EventID.String()), audio, "audio/mpeg"); err != nil {
		logging.Warn().Err(err).Str("event_id", job.EventID.String()).Msg("Failed to store audio track")
	}

	text, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		report.fail(StageTranscribe, err)
		return ""
	}
	if text != "" {
		if err := p.store.SetEventTranscription(ctx, job.EventID, text); err != nil {
			report.fail(StageTranscribe, err)
			return text
		}
	}
	report.done(StageTranscribe)
	return text
}

// classify applies the classifier output even when the call failed: the
// classifier returns the informational fallback on error, which is what
// the event should carry until a reprocess.
func (p *Processor) classify(ctx context.Context, job Job, event *models.Event, report *Report) {
	classification, err := p.classifier.Classify(ctx, event.Description, event.Transcription)
	if applyErr := p.store.ApplyClassification(ctx, job.EventID, classification); applyErr != nil {
		report.fail(StageClassify, applyErr)
		return
	}
	if err != nil {
		report.fail(StageClassify, err)
		return
	}
	report.done(StageClassify)
}

// cluster reloads the event so the assignment sees the severity just
// written by the classify stage.
func (p *Processor) cluster(ctx context.Context, job Job, report *Report) {
	event, err := p.store.GetEvent(ctx, job.EventID)
	if err != nil {
		report.fail(StageCluster, err)
		return
	}

	cluster, err := p.clusterer.Assign(ctx, event)
	if err != nil {
		report.fail(StageCluster, err)
		return
	}
	if cluster != nil {
		logging.Debug().
			Str("event_id", job.EventID.String()).
			Str("cluster_id", cluster.ID.String()).
			Int("event_count", cluster.EventCount).
			Msg("Event clustered")
	}
	report.done(StageCluster)
}

func (p *Processor) broadcast(ctx context.Context, job Job, report *Report) {
	event, err := p.store.GetEvent(ctx, job.EventID)
	if err != nil {
		report.fail(StageBroadcast, err)
		return
	}
	p.broadcaster.Publish(models.MessageTypeNewEvent, event.Out())
	report.done(StageBroadcast)
}

func (r *Report) done(stage string) {
	r.Completed = append(r.Completed, stage)
}

func (r *Report) fail(stage string, err error) {
	r.Errors[stage] = err
	metrics.PipelineStageErrors.WithLabelValues(stage).Inc()
	logging.Warn().
		Err(err).
		Str("event_id", r.EventID.String()).
		Str("stage", stage).
		Msg("Pipeline stage failed")
}

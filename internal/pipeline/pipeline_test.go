// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/storage"
)

type fakeEvents struct {
	events map[uuid.UUID]*models.Event
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: make(map[uuid.UUID]*models.Event)}
}

func (s *fakeEvents) add(e *models.Event) {
	s.events[e.ID] = e
}

func (s *fakeEvents) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, errors.New("event not found")
	}
	copied := *e
	return &copied, nil
}

func (s *fakeEvents) SetEventMedia(_ context.Context, id uuid.UUID, mediaURL string) error {
	s.events[id].MediaURL = mediaURL
	return nil
}

func (s *fakeEvents) SetEventThumbnail(_ context.Context, id uuid.UUID, thumbnailURL string) error {
	s.events[id].ThumbnailURL = thumbnailURL
	return nil
}

func (s *fakeEvents) SetEventTranscription(_ context.Context, id uuid.UUID, text string) error {
	s.events[id].Transcription = text
	return nil
}

func (s *fakeEvents) ApplyClassification(_ context.Context, id uuid.UUID, c models.Classification) error {
	e := s.events[id]
	e.Category = c.Category
	e.Subcategory = c.Subcategory
	e.Severity = c.Severity.Clamp()
	e.AIConfidence = c.Confidence
	e.AIReasoning = c.Reasoning
	return nil
}

type fakeObjects struct {
	objects     map[string][]byte
	downloadErr error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (o *fakeObjects) Download(_ context.Context, key string) ([]byte, error) {
	if o.downloadErr != nil {
		return nil, o.downloadErr
	}
	data, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("no object %s", key)
	}
	return data, nil
}

func (o *fakeObjects) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	o.objects[key] = data
	return o.URL(key), nil
}

func (o *fakeObjects) URL(key string) string {
	return "http://store/test/" + key
}

type fakeExtractor struct {
	keyframeErr error
	audioErr    error
}

func (x *fakeExtractor) ExtractKeyframe(_ context.Context, _ []byte, _ string) ([]byte, error) {
	if x.keyframeErr != nil {
		return nil, x.keyframeErr
	}
	return []byte("jpeg-bytes"), nil
}

func (x *fakeExtractor) ExtractAudio(_ context.Context, _ []byte, _ string) ([]byte, error) {
	if x.audioErr != nil {
		return nil, x.audioErr
	}
	return []byte("mp3-bytes"), nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t *fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	return t.text, t.err
}

type fakeClassifier struct {
	result     models.Classification
	err        error
	gotPrompts []string
}

func (c *fakeClassifier) Classify(_ context.Context, description, transcription string) (models.Classification, error) {
	c.gotPrompts = append(c.gotPrompts, description+"|"+transcription)
	if c.err != nil {
		return models.DefaultClassification("Classification failed: " + c.err.Error()), c.err
	}
	return c.result, nil
}

type fakeClusterer struct {
	cluster *models.EventCluster
	err     error
	gotIDs  []uuid.UUID
}

func (c *fakeClusterer) Assign(_ context.Context, event *models.Event) (*models.EventCluster, error) {
	c.gotIDs = append(c.gotIDs, event.ID)
	return c.cluster, c.err
}

type fakeBroadcaster struct {
	types  []string
	events []models.EventOut
}

func (b *fakeBroadcaster) Publish(msgType string, event models.EventOut) {
	b.types = append(b.types, msgType)
	b.events = append(b.events, event)
}

type pipelineFixture struct {
	events      *fakeEvents
	objects     *fakeObjects
	extractor   *fakeExtractor
	transcriber *fakeTranscriber
	classifier  *fakeClassifier
	clusterer   *fakeClusterer
	broadcaster *fakeBroadcaster
	processor   *Processor
}

func newFixture() *pipelineFixture {
	confidence := 0.9
	f := &pipelineFixture{
		events:      newFakeEvents(),
		objects:     newFakeObjects(),
		extractor:   &fakeExtractor{},
		transcriber: &fakeTranscriber{text: "someone shouting near the station"},
		classifier: &fakeClassifier{result: models.Classification{
			Category:   models.CategorySecurity,
			Severity:   models.SeverityHigh,
			Confidence: &confidence,
			Reasoning:  "crowd disturbance",
		}},
		clusterer:   &fakeClusterer{},
		broadcaster: &fakeBroadcaster{},
	}
	f.processor = NewProcessor(f.events, f.objects, f.extractor, f.transcriber, f.classifier, f.clusterer, f.broadcaster)
	return f
}

func (f *pipelineFixture) stageEvent(kind models.MediaKind) (*models.Event, Job) {
	event := &models.Event{
		ID:          uuid.New(),
		CreatedAt:   time.Now().UTC(),
		Latitude:    52.2297,
		Longitude:   21.0122,
		Description: "smoke over the rooftops",
		MediaType:   kind,
		Status:      models.StatusNew,
	}
	f.events.add(event)

	ext := ".jpg"
	contentType := "image/jpeg"
	if kind == models.MediaVideo {
		ext = ".mp4"
		contentType = "video/mp4"
	}
	key := storage.MediaKey(event.ID.String(), ext)
	f.objects.objects[key] = []byte("raw-media")

	return event, Job{
		EventID:     event.ID,
		MediaKey:    key,
		MediaExt:    ext,
		ContentType: contentType,
		MediaType:   kind,
	}
}

func TestProcessImageSkipsVideoStages(t *testing.T) {
	f := newFixture()
	event, job := f.stageEvent(models.MediaImage)

	report, err := f.processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if report.Partial() {
		t.Fatalf("unexpected stage errors: %v", report.Errors)
	}

	want := []string{StageStoreMedia, StageClassify, StageCluster, StageBroadcast}
	if len(report.Completed) != len(want) {
		t.Fatalf("completed = %v, want %v", report.Completed, want)
	}
	for i, stage := range want {
		if report.Completed[i] != stage {
			t.Errorf("completed[%d] = %s, want %s", i, report.Completed[i], stage)
		}
	}

	stored := f.events.events[event.ID]
	if stored.MediaURL == "" {
		t.Error("media URL not recorded")
	}
	if stored.ThumbnailURL != "" {
		t.Error("image events should not get a keyframe thumbnail")
	}
	if stored.Category != models.CategorySecurity || stored.Severity != models.SeverityHigh {
		t.Errorf("classification not applied: %+v", stored)
	}
}

func TestProcessVideoRunsAllStages(t *testing.T) {
	f := newFixture()
	event, job := f.stageEvent(models.MediaVideo)

	report, err := f.processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if report.Partial() {
		t.Fatalf("unexpected stage errors: %v", report.Errors)
	}
	if len(report.Completed) != 6 {
		t.Fatalf("completed = %v, want all six stages", report.Completed)
	}

	stored := f.events.events[event.ID]
	if stored.ThumbnailURL == "" {
		t.Error("thumbnail URL not recorded")
	}
	if stored.Transcription != "someone shouting near the station" {
		t.Errorf("transcription = %q", stored.Transcription)
	}

	// Keyframe and audio landed in the object store.
	if _, ok := f.objects.objects[storage.ThumbnailKey(event.ID.String())]; !ok {
		t.Error("thumbnail not uploaded")
	}
	if _, ok := f.objects.objects[storage.AudioKey(event.ID.String())]; !ok {
		t.Error("audio track not uploaded")
	}

	// The transcription reached the classifier.
	if len(f.classifier.gotPrompts) != 1 || !strings.Contains(f.classifier.gotPrompts[0], "shouting") {
		t.Errorf("classifier prompts = %v", f.classifier.gotPrompts)
	}
}

func TestProcessBroadcastsEnrichedEvent(t *testing.T) {
	f := newFixture()
	_, job := f.stageEvent(models.MediaImage)

	if _, err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(f.broadcaster.types) != 1 || f.broadcaster.types[0] != models.MessageTypeNewEvent {
		t.Fatalf("broadcast types = %v", f.broadcaster.types)
	}
	// The broadcast payload carries the enrichment, not the raw upload.
	if f.broadcaster.events[0].Category != models.CategorySecurity {
		t.Errorf("broadcast category = %s", f.broadcaster.events[0].Category)
	}
}

func TestProcessClassifierFailureAppliesFallback(t *testing.T) {
	f := newFixture()
	f.classifier.err = errors.New("upstream 502")
	event, job := f.stageEvent(models.MediaImage)

	report, err := f.processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if _, ok := report.Errors[StageClassify]; !ok {
		t.Fatalf("classify should be recorded as failed: %v", report.Errors)
	}

	// Fallback classification was still written.
	stored := f.events.events[event.ID]
	if stored.Category != models.CategoryInformational || stored.Severity != models.SeverityLow {
		t.Errorf("fallback not applied: %+v", stored)
	}

	// Clustering and broadcast still ran.
	if len(f.clusterer.gotIDs) != 1 {
		t.Error("cluster stage did not run")
	}
	if len(f.broadcaster.types) != 1 {
		t.Error("broadcast stage did not run")
	}
}

func TestProcessVideoDownloadFailure(t *testing.T) {
	f := newFixture()
	f.objects.downloadErr = errors.New("connection refused")
	_, job := f.stageEvent(models.MediaVideo)

	report, err := f.processor.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if _, ok := report.Errors[StageExtractKeyframe]; !ok {
		t.Error("keyframe stage should fail when media cannot be fetched")
	}
	if _, ok := report.Errors[StageTranscribe]; !ok {
		t.Error("transcribe stage should fail when media cannot be fetched")
	}
	// The text-only stages are unaffected.
	if len(f.classifier.gotPrompts) != 1 {
		t.Error("classify stage did not run")
	}
}

func TestProcessMissingEventFailsJob(t *testing.T) {
	f := newFixture()

	_, err := f.processor.Process(context.Background(), Job{EventID: uuid.New(), MediaKey: "events/x/media.jpg"})
	if err == nil {
		t.Fatal("expected error for missing event")
	}
}

func TestReprocessRebuildsJob(t *testing.T) {
	f := newFixture()
	event, job := f.stageEvent(models.MediaImage)

	if _, err := f.processor.Process(context.Background(), job); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	urlBefore := f.events.events[event.ID].MediaURL

	report, err := f.processor.Reprocess(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	if report.Partial() {
		t.Fatalf("unexpected stage errors: %v", report.Errors)
	}
	if got := f.events.events[event.ID].MediaURL; got != urlBefore {
		t.Errorf("reprocess changed the media URL: %q -> %q", urlBefore, got)
	}
}

// Reprocessing derives the staged object key from the recorded media
// URL, so uploads that did not use the default extension still resolve.
func TestReprocessKeepsUploadExtension(t *testing.T) {
	f := newFixture()

	event := &models.Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Latitude:  52.2297,
		Longitude: 21.0122,
		MediaType: models.MediaVideo,
		Status:    models.StatusNew,
	}
	key := storage.MediaKey(event.ID.String(), ".mov")
	event.MediaURL = f.objects.URL(key)
	f.events.add(event)
	f.objects.objects[key] = []byte("raw-media")

	report, err := f.processor.Reprocess(context.Background(), event.ID)
	if err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	if report.Partial() {
		t.Fatalf("unexpected stage errors: %v", report.Errors)
	}
	if got := f.events.events[event.ID].MediaURL; got != f.objects.URL(key) {
		t.Errorf("media URL = %q, want the original .mov object", got)
	}
}

func TestReprocessWithoutStoredMediaFails(t *testing.T) {
	f := newFixture()
	event, _ := f.stageEvent(models.MediaImage)

	if _, err := f.processor.Reprocess(context.Background(), event.ID); err == nil {
		t.Fatal("expected error for an event with no recorded media URL")
	}
}

func TestRetryBackoff(t *testing.T) {
	cfg := &config.PipelineConfig{MaxDeliver: 4, RetryBackoff: time.Minute}
	backoff := retryBackoff(cfg)
	if len(backoff) != 3 {
		t.Fatalf("len(backoff) = %d, want 3", len(backoff))
	}
	for _, d := range backoff {
		if d != time.Minute {
			t.Errorf("backoff entry = %v, want 1m", d)
		}
	}

	if got := retryBackoff(&config.PipelineConfig{MaxDeliver: 1, RetryBackoff: time.Minute}); got != nil {
		t.Errorf("single delivery should have no backoff, got %v", got)
	}
}

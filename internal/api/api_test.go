// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/auth"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/clusterer"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/database"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/gamification"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/pipeline"
)

// testDBSemaphore serializes database creation to prevent resource
// exhaustion when many tests run in parallel against DuckDB CGO.
var testDBSemaphore = make(chan struct{}, 1)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjects) Upload(_ context.Context, key string, data []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (f *fakeObjects) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []pipeline.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, job pipeline.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeQueue) enqueued() []pipeline.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Job(nil), f.jobs...)
}

type busRecord struct {
	msgType string
	event   models.EventOut
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []busRecord
}

func (f *fakeBroadcaster) Publish(msgType string, event models.EventOut) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, busRecord{msgType: msgType, event: event})
}

func (f *fakeBroadcaster) published() []busRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]busRecord(nil), f.messages...)
}

type fakeStream struct {
	ch chan models.BusMessage
}

func (f *fakeStream) Stream() (<-chan models.BusMessage, func(), error) {
	return f.ch, func() {}, nil
}

type apiFixture struct {
	cfg      *config.ServerConfig
	db       *database.DB
	objects  *fakeObjects
	queue    *fakeQueue
	bus      *fakeBroadcaster
	stream   *fakeStream
	game     *gamification.Service
	clusters *clusterer.Engine
	tokens   *auth.Tokens
	handler  *Handler
	server   *httptest.Server
}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", MaxMemory: "1GB"})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	serverCfg := &config.ServerConfig{
		CORSOrigins:    []string{"*"},
		MaxUploadBytes: 10 << 20,
		RateLimitReqs:  10000,
	}
	fx := &apiFixture{
		cfg:     serverCfg,
		db:      db,
		objects: &fakeObjects{},
		queue:   &fakeQueue{},
		bus:     &fakeBroadcaster{},
		stream:  &fakeStream{ch: make(chan models.BusMessage, 8)},
		game:    gamification.New(db),
		clusters: clusterer.New(db, &config.ClusteringConfig{
			RadiusMeters:      500,
			TimeWindow:        2 * time.Hour,
			HighThreshold:     3,
			CriticalThreshold: 5,
		}),
		tokens: auth.NewTokens(&config.AuthConfig{
			JWTSecret:       "test-secret-not-for-production",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
		}),
	}
	fx.handler = NewHandler(serverCfg, db, fx.objects, fx.queue, fx.bus, fx.stream, fx.game, fx.clusters, fx.tokens)
	fx.server = httptest.NewServer(NewRouter(serverCfg, fx.handler))
	t.Cleanup(fx.server.Close)
	return fx
}

// newUser creates an account directly and returns it with a live access
// token.
func (fx *apiFixture) newUser(t *testing.T, username string, staff bool) (*models.User, string) {
	t.Helper()

	hash, err := auth.HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	user, err := fx.db.CreateUser(context.Background(), username, username+"@example.com", hash, staff)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	pair, err := fx.tokens.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}
	return user, pair.Access
}

func (fx *apiFixture) insertEvent(t *testing.T, mutate func(*models.Event)) *models.Event {
	t.Helper()

	e := &models.Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		Latitude:  52.2297,
		Longitude: 21.0122,
		MediaType: models.MediaImage,
		Category:  models.CategoryInformational,
		Severity:  models.SeverityLow,
		Status:    models.StatusNew,
	}
	if mutate != nil {
		mutate(e)
	}
	if err := fx.db.InsertEvent(context.Background(), e); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	return e
}

// uploadRequest builds a multipart report upload.
func uploadRequest(t *testing.T, url string, fields map[string]string, filename, contentType string, media []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}
	if filename != "" {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filename))
		header.Set("Content-Type", contentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart failed: %v", err)
		}
		if _, err := part.Write(media); err != nil {
			t.Fatalf("part write failed: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close failed: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/events/upload", &buf)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body failed: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestUploadEventAcceptsImage(t *testing.T) {
	fx := newFixture(t)

	req := uploadRequest(t, fx.server.URL, map[string]string{
		"latitude":    "52.2297",
		"longitude":   "21.0122",
		"description": "smoke near the station",
	}, "photo.jpg", "image/jpeg", []byte("jpeg-bytes"))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	out := decodeBody[models.EventUploadOut](t, resp)
	if out.Status != models.StatusNew {
		t.Errorf("status = %q, want new", out.Status)
	}

	id, err := uuid.Parse(out.ID)
	if err != nil {
		t.Fatalf("response ID is not a UUID: %v", err)
	}
	event, err := fx.db.GetEvent(context.Background(), id)
	if err != nil {
		t.Fatalf("event not persisted: %v", err)
	}
	if event.MediaType != models.MediaImage {
		t.Errorf("media type = %q, want image", event.MediaType)
	}
	if event.ReporterID != nil {
		t.Errorf("anonymous upload got reporter ID %d", *event.ReporterID)
	}

	jobs := fx.queue.enqueued()
	if len(jobs) != 1 {
		t.Fatalf("enqueued %d jobs, want 1", len(jobs))
	}
	if jobs[0].EventID != id {
		t.Errorf("job event ID = %s, want %s", jobs[0].EventID, id)
	}
	if !fx.objects.has(jobs[0].MediaKey) {
		t.Errorf("media not staged under %s", jobs[0].MediaKey)
	}
}

func TestUploadEventRejectsBadInput(t *testing.T) {
	fx := newFixture(t)

	cases := []struct {
		name     string
		fields   map[string]string
		filename string
		ctype    string
	}{
		{
			name:     "latitude out of range",
			fields:   map[string]string{"latitude": "95", "longitude": "21"},
			filename: "photo.jpg",
			ctype:    "image/jpeg",
		},
		{
			name:     "longitude not a number",
			fields:   map[string]string{"latitude": "52", "longitude": "east"},
			filename: "photo.jpg",
			ctype:    "image/jpeg",
		},
		{
			name:   "missing media file",
			fields: map[string]string{"latitude": "52", "longitude": "21"},
		},
		{
			name:     "unsupported media type",
			fields:   map[string]string{"latitude": "52", "longitude": "21"},
			filename: "notes.pdf",
			ctype:    "application/pdf",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := uploadRequest(t, fx.server.URL, tc.fields, tc.filename, tc.ctype, []byte("data"))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("upload failed: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if len(fx.queue.enqueued()) != 0 {
		t.Errorf("rejected uploads must not enqueue jobs")
	}
}

func TestUploadEventCreditsAuthenticatedReporter(t *testing.T) {
	fx := newFixture(t)
	user, token := fx.newUser(t, "reporter", false)

	req := uploadRequest(t, fx.server.URL, map[string]string{
		"latitude":  "52.23",
		"longitude": "21.01",
	}, "clip.mp4", "video/mp4", []byte("mp4-bytes"))
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	out := decodeBody[models.EventUploadOut](t, resp)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	event, err := fx.db.GetEvent(context.Background(), uuid.MustParse(out.ID))
	if err != nil {
		t.Fatalf("event not persisted: %v", err)
	}
	if event.ReporterID == nil || *event.ReporterID != user.ID {
		t.Fatalf("reporter ID = %v, want %d", event.ReporterID, user.ID)
	}

	stats, err := fx.game.UserStats(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("UserStats failed: %v", err)
	}
	if stats.ReportsSubmitted != 1 {
		t.Errorf("reports submitted = %d, want 1", stats.ReportsSubmitted)
	}
}

func TestGetEventNotFound(t *testing.T) {
	fx := newFixture(t)

	resp, err := http.Get(fx.server.URL + "/api/v1/events/" + uuid.NewString())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	out := decodeBody[models.ErrorOut](t, resp)
	if out.Detail != "Event not found" {
		t.Errorf("detail = %q", out.Detail)
	}
}

func TestListEventsStatusFilter(t *testing.T) {
	fx := newFixture(t)

	fx.insertEvent(t, nil)
	fx.insertEvent(t, func(e *models.Event) { e.Status = models.StatusVerified })
	fx.insertEvent(t, func(e *models.Event) { e.Status = models.StatusVerified })
	fx.insertEvent(t, func(e *models.Event) { e.Status = models.StatusFalseAlarm })

	resp, err := http.Get(fx.server.URL + "/api/v1/events/?status=verified")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[models.EventListOut](t, resp)
	if out.Total != 2 || len(out.Events) != 2 {
		t.Fatalf("total = %d, events = %d, want 2 verified", out.Total, len(out.Events))
	}
	for _, e := range out.Events {
		if e.Status != models.StatusVerified {
			t.Errorf("event %s has status %q", e.ID, e.Status)
		}
	}

	// Comma-separated values select the union.
	resp, err = http.Get(fx.server.URL + "/api/v1/events/?status=new,verified")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv status filter: status = %d, want 200", resp.StatusCode)
	}
	union := decodeBody[models.EventListOut](t, resp)
	if union.Total != 3 {
		t.Fatalf("status=new,verified: total = %d, want 3", union.Total)
	}
	for _, e := range union.Events {
		if e.Status == models.StatusFalseAlarm {
			t.Errorf("false alarm leaked through status filter")
		}
	}

	// Unknown values are dropped, not rejected; valid neighbors still
	// apply.
	resp, err = http.Get(fx.server.URL + "/api/v1/events/?status=bogus")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unknown status filter: status = %d, want 200", resp.StatusCode)
	}
	all := decodeBody[models.EventListOut](t, resp)
	if all.Total != 4 {
		t.Errorf("unknown status filter: total = %d, want unfiltered 4", all.Total)
	}

	resp, err = http.Get(fx.server.URL + "/api/v1/events/?status=verified,bogus")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mixed status filter: status = %d, want 200", resp.StatusCode)
	}
	mixed := decodeBody[models.EventListOut](t, resp)
	if mixed.Total != 2 {
		t.Errorf("status=verified,bogus: total = %d, want 2", mixed.Total)
	}
}

func TestListEventsBoundsFilter(t *testing.T) {
	fx := newFixture(t)

	warsaw := fx.insertEvent(t, nil)
	fx.insertEvent(t, func(e *models.Event) {
		e.Latitude = 51.5074
		e.Longitude = -0.1278
	})

	resp, err := http.Get(fx.server.URL + "/api/v1/events/?bounds=52.0,20.5,52.5,21.5")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[models.EventListOut](t, resp)
	if out.Total != 1 || len(out.Events) != 1 {
		t.Fatalf("total = %d, events = %d, want the Warsaw event only", out.Total, len(out.Events))
	}
	if out.Events[0].ID != warsaw.ID {
		t.Errorf("bounds returned event %s, want %s", out.Events[0].ID, warsaw.ID)
	}

	// A malformed box is ignored, not rejected.
	resp, err = http.Get(fx.server.URL + "/api/v1/events/?bounds=52.0,20.5,52.5")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("malformed bounds: status = %d, want 200", resp.StatusCode)
	}
	all := decodeBody[models.EventListOut](t, resp)
	if all.Total != 2 {
		t.Errorf("malformed bounds should be ignored, total = %d, want 2", all.Total)
	}
}

func TestUpdateEventStatusRequiresStaff(t *testing.T) {
	fx := newFixture(t)
	event := fx.insertEvent(t, nil)
	_, token := fx.newUser(t, "civilian", false)

	url := fx.server.URL + "/api/v1/events/" + event.ID.String() + "/status"

	resp := doJSON(t, http.MethodPatch, url, "", models.StatusUpdateIn{Status: models.StatusVerified})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = doJSON(t, http.MethodPatch, url, token, models.StatusUpdateIn{Status: models.StatusVerified})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("non-staff: status = %d, want 403", resp.StatusCode)
	}
	out := decodeBody[models.ErrorOut](t, resp)
	if out.Detail != "Staff access required" {
		t.Errorf("detail = %q", out.Detail)
	}
}

func TestUpdateEventStatusVerified(t *testing.T) {
	fx := newFixture(t)
	reporter, _ := fx.newUser(t, "reporter", false)
	_, staffToken := fx.newUser(t, "operator", true)

	event := fx.insertEvent(t, func(e *models.Event) {
		e.ReporterID = &reporter.ID
		e.Severity = models.SeverityCritical
	})

	url := fx.server.URL + "/api/v1/events/" + event.ID.String() + "/status"
	resp := doJSON(t, http.MethodPatch, url, staffToken, models.StatusUpdateIn{Status: models.StatusVerified})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decodeBody[models.EventOut](t, resp)
	if out.Status != models.StatusVerified {
		t.Errorf("status = %q, want verified", out.Status)
	}

	stats, err := fx.game.UserStats(context.Background(), reporter.ID)
	if err != nil {
		t.Fatalf("UserStats failed: %v", err)
	}
	if stats.ReportsVerified != 1 {
		t.Errorf("reports verified = %d, want 1", stats.ReportsVerified)
	}

	published := fx.bus.published()
	if len(published) != 1 {
		t.Fatalf("published %d messages, want 1", len(published))
	}
	if published[0].msgType != models.MessageTypeStatusChange {
		t.Errorf("message type = %q, want status_change", published[0].msgType)
	}
	if published[0].event.Status != models.StatusVerified {
		t.Errorf("broadcast status = %q, want verified", published[0].event.Status)
	}
}

func TestUpdateEventStatusInvalidVerdict(t *testing.T) {
	fx := newFixture(t)
	_, staffToken := fx.newUser(t, "operator", true)
	event := fx.insertEvent(t, nil)

	url := fx.server.URL + "/api/v1/events/" + event.ID.String() + "/status"
	resp := doJSON(t, http.MethodPatch, url, staffToken, models.StatusUpdateIn{Status: models.StatusNew})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateEventStatusFalseAlarmDetachesCluster(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, staffToken := fx.newUser(t, "operator", true)

	first := fx.insertEvent(t, nil)
	second := fx.insertEvent(t, func(e *models.Event) {
		e.Latitude = first.Latitude + 0.0005
	})

	cluster, err := fx.clusters.Assign(ctx, second)
	if err != nil {
		t.Fatalf("Assign failed: %v", err)
	}
	if cluster == nil {
		t.Fatal("expected the two nearby events to cluster")
	}

	url := fx.server.URL + "/api/v1/events/" + second.ID.String() + "/status"
	resp := doJSON(t, http.MethodPatch, url, staffToken, models.StatusUpdateIn{Status: models.StatusFalseAlarm})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	updated, err := fx.db.GetEvent(ctx, second.ID)
	if err != nil {
		t.Fatalf("GetEvent failed: %v", err)
	}
	if updated.ClusterID != nil {
		t.Errorf("false alarm still attached to cluster %s", updated.ClusterID)
	}

	// A two-member cluster dissolves when one member is pulled out.
	clusters, err := fx.db.ListClusters(ctx, database.ClusterFilter{})
	if err != nil {
		t.Fatalf("ListClusters failed: %v", err)
	}
	if len(clusters) != 0 {
		t.Errorf("cluster survived with %d entries", len(clusters))
	}
}

func TestUpdateEventStatusFalseAlarmDebitsOnce(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	reporter, _ := fx.newUser(t, "reporter", false)
	_, staffToken := fx.newUser(t, "operator", true)

	event := fx.insertEvent(t, func(e *models.Event) {
		e.ReporterID = &reporter.ID
	})

	url := fx.server.URL + "/api/v1/events/" + event.ID.String() + "/status"
	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodPatch, url, staffToken, models.StatusUpdateIn{Status: models.StatusFalseAlarm})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i+1, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	profile, err := fx.db.GetProfile(ctx, reporter.ID)
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile.ReputationScore != gamification.PointsFalseAlarm {
		t.Errorf("reputation = %d, want the penalty applied once (%d)",
			profile.ReputationScore, gamification.PointsFalseAlarm)
	}
}

func TestListClustersAndStats(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first := fx.insertEvent(t, nil)
	second := fx.insertEvent(t, func(e *models.Event) {
		e.Latitude = first.Latitude + 0.0005
	})
	if _, err := fx.clusters.Assign(ctx, second); err != nil {
		t.Fatalf("Assign failed: %v", err)
	}

	resp, err := http.Get(fx.server.URL + "/api/v1/clusters")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clusters: status = %d, want 200", resp.StatusCode)
	}
	clusters := decodeBody[[]models.ClusterOut](t, resp)
	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if clusters[0].EventCount != 2 {
		t.Errorf("event count = %d, want 2", clusters[0].EventCount)
	}

	resp, err = http.Get(fx.server.URL + "/api/v1/clusters?bounds=0.0,0.0,1.0,1.0")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clusters with bounds: status = %d, want 200", resp.StatusCode)
	}
	empty := decodeBody[[]models.ClusterOut](t, resp)
	if len(empty) != 0 {
		t.Errorf("out-of-box cluster listing returned %d entries", len(empty))
	}

	resp, err = http.Get(fx.server.URL + "/api/v1/stats/summary")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: status = %d, want 200", resp.StatusCode)
	}
	stats := decodeBody[models.StatsOut](t, resp)
	if stats.TotalEvents != 2 {
		t.Errorf("total events = %d, want 2", stats.TotalEvents)
	}
}

func TestRegisterLoginRefresh(t *testing.T) {
	fx := newFixture(t)
	base := fx.server.URL + "/api/v1/auth"
	tokenBase := fx.server.URL + "/api/v1/token"

	register := models.RegisterIn{
		Username: "wanda",
		Email:    "wanda@example.com",
		Password: "long enough secret",
	}
	resp := doJSON(t, http.MethodPost, base+"/register", "", register)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status = %d, want 201", resp.StatusCode)
	}
	user := decodeBody[models.UserOut](t, resp)
	if user.Username != "wanda" || user.IsStaff {
		t.Errorf("unexpected registered user: %+v", user)
	}

	resp = doJSON(t, http.MethodPost, base+"/register", "", register)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register: status = %d, want 409", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = doJSON(t, http.MethodPost, tokenBase+"/pair", "", models.LoginIn{
		Username: "wanda",
		Password: "long enough secret",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token: status = %d, want 200", resp.StatusCode)
	}
	pair := decodeBody[models.TokenPairOut](t, resp)
	if pair.Access == "" || pair.Refresh == "" {
		t.Fatal("token pair has empty fields")
	}

	resp = doJSON(t, http.MethodPost, tokenBase+"/pair", "", models.LoginIn{
		Username: "wanda",
		Password: "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password: status = %d, want 401", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = doJSON(t, http.MethodPost, tokenBase+"/pair", "", models.LoginIn{
		Username: "nobody",
		Password: "irrelevant",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unknown user: status = %d, want 401", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = doJSON(t, http.MethodPost, tokenBase+"/refresh", "", models.RefreshIn{Refresh: pair.Refresh})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status = %d, want 200", resp.StatusCode)
	}
	refreshed := decodeBody[models.TokenPairOut](t, resp)
	if refreshed.Access == "" {
		t.Error("refreshed pair has empty access token")
	}

	// An access token is not a refresh token.
	resp = doJSON(t, http.MethodPost, tokenBase+"/refresh", "", models.RefreshIn{Refresh: pair.Access})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("access-as-refresh: status = %d, want 401", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp = doJSON(t, http.MethodGet, base+"/me", pair.Access, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status = %d, want 200", resp.StatusCode)
	}
	me := decodeBody[models.UserOut](t, resp)
	if me.Username != "wanda" {
		t.Errorf("me username = %q", me.Username)
	}
}

func TestUpdateMeChangesEmail(t *testing.T) {
	fx := newFixture(t)
	_, token := fx.newUser(t, "wanda", false)
	url := fx.server.URL + "/api/v1/auth/me"

	resp := doJSON(t, http.MethodPatch, url, token, models.AccountUpdateIn{Email: "new@example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	updated := decodeBody[models.UserOut](t, resp)
	if updated.Email != "new@example.com" {
		t.Errorf("email = %q, want new@example.com", updated.Email)
	}

	resp = doJSON(t, http.MethodPatch, url, token, models.AccountUpdateIn{Email: "not-an-email"})
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid email: status = %d, want 400", resp.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	fx := newFixture(t)
	base := fx.server.URL + "/api/v1/auth/register"

	cases := []models.RegisterIn{
		{Username: "ab", Email: "a@example.com", Password: "long enough secret"},
		{Username: "valid", Email: "not-an-email", Password: "long enough secret"},
		{Username: "valid", Email: "a@example.com", Password: "short"},
	}
	for i, in := range cases {
		resp := doJSON(t, http.MethodPost, base, "", in)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
}

func TestLeaderboardAndBadges(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	user, _ := fx.newUser(t, "reporter", false)
	if _, err := fx.game.OnReportSubmitted(ctx, user.ID, time.Now().UTC()); err != nil {
		t.Fatalf("OnReportSubmitted failed: %v", err)
	}

	resp, err := http.Get(fx.server.URL + "/api/v1/auth/leaderboard")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leaderboard: status = %d, want 200", resp.StatusCode)
	}
	board := decodeBody[models.LeaderboardOut](t, resp)
	if board.TotalUsers != 1 || len(board.Entries) != 1 {
		t.Fatalf("leaderboard = %+v, want one entry", board)
	}
	if board.Entries[0].Username != "reporter" {
		t.Errorf("top entry = %q", board.Entries[0].Username)
	}

	resp, err = http.Get(fx.server.URL + "/api/v1/auth/badges")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("badges: status = %d, want 200", resp.StatusCode)
	}
	badges := decodeBody[[]models.BadgeOut](t, resp)
	if len(badges) == 0 {
		t.Error("badge catalog is empty")
	}

	resp, err = http.Get(fx.server.URL + "/api/v1/auth/leaderboard?limit=0")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0: status = %d, want 400", resp.StatusCode)
	}
}

func TestStreamEventsFrames(t *testing.T) {
	fx := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fx.handler.StreamEvents(rec, req)
	}()

	event := models.Event{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Latitude:  52.23,
		Longitude: 21.01,
		MediaType: models.MediaImage,
		Category:  models.CategoryEmergency,
		Severity:  models.SeverityHigh,
		Status:    models.StatusNew,
	}
	fx.stream.ch <- models.BusMessage{Type: models.MessageTypeNewEvent, Event: event.Out()}

	// Give the handler a moment to drain the channel before tearing the
	// connection down.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: connected") {
		t.Errorf("missing connected frame in %q", body)
	}
	if !strings.Contains(body, "event: event_update") {
		t.Errorf("missing event_update frame in %q", body)
	}
	if !strings.Contains(body, event.ID.String()) {
		t.Errorf("event payload missing from stream body")
	}
}

// readFrame reads one SSE frame (lines up to the blank separator).
func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()

	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream read failed: %v", err)
		}
		if line == "\n" {
			return b.String()
		}
		b.WriteString(line)
	}
}

func TestStreamEventsOutlivesWriteTimeout(t *testing.T) {
	fx := newFixture(t)

	ts := httptest.NewUnstartedServer(NewRouter(fx.cfg, fx.handler))
	ts.Config.WriteTimeout = 200 * time.Millisecond
	ts.Start()
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/events/stream")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	if frame := readFrame(t, reader); !strings.Contains(frame, "event: connected") {
		t.Fatalf("first frame = %q, want connected", frame)
	}

	// Wait out the server's write deadline, then publish; the frame must
	// still arrive on the same connection.
	time.Sleep(400 * time.Millisecond)

	event := fx.insertEvent(t, nil)
	fx.stream.ch <- models.BusMessage{Type: models.MessageTypeNewEvent, Event: event.Out()}

	frame := readFrame(t, reader)
	if !strings.Contains(frame, "event: event_update") {
		t.Errorf("frame = %q, want event_update", frame)
	}
	if !strings.Contains(frame, event.ID.String()) {
		t.Errorf("frame %q missing event payload", frame)
	}
}

func TestHealthEndpoints(t *testing.T) {
	fx := newFixture(t)

	resp, err := http.Get(fx.server.URL + "/health/live")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live: status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(fx.server.URL + "/health/ready")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready: status = %d, want 200", resp.StatusCode)
	}
}

func TestMediaKind(t *testing.T) {
	cases := []struct {
		filename string
		ctype    string
		want     models.MediaKind
	}{
		{"a.jpg", "image/jpeg", models.MediaImage},
		{"a.mp4", "video/mp4", models.MediaVideo},
		{"a.png", "application/octet-stream", models.MediaImage},
		{"a.mov", "application/octet-stream", models.MediaVideo},
		{"a.pdf", "application/pdf", ""},
		{"a", "application/octet-stream", ""},
	}
	for _, tc := range cases {
		header := &multipart.FileHeader{
			Filename: tc.filename,
			Header:   textproto.MIMEHeader{"Content-Type": []string{tc.ctype}},
		}
		kind, _, _ := mediaKind(header)
		if kind != tc.want {
			t.Errorf("mediaKind(%q, %q) = %q, want %q", tc.filename, tc.ctype, kind, tc.want)
		}
	}
}

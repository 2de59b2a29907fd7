// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package storage

import "testing"

func TestObjectKeys(t *testing.T) {
	id := "a3a1f9a0-0000-0000-0000-000000000001"

	if got := MediaKey(id, ".mp4"); got != "events/"+id+"/media.mp4" {
		t.Errorf("MediaKey = %q", got)
	}
	if got := ThumbnailKey(id); got != "events/"+id+"/media_thumb.jpg" {
		t.Errorf("ThumbnailKey = %q", got)
	}
	if got := AudioKey(id); got != "events/"+id+"/audio.mp3" {
		t.Errorf("AudioKey = %q", got)
	}
}

func TestStoreURL(t *testing.T) {
	s := &Store{bucket: "attention-map", baseURL: "http://127.0.0.1:9000"}

	want := "http://127.0.0.1:9000/attention-map/events/x/media.jpg"
	if got := s.URL("events/x/media.jpg"); got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if got := s.URL("/events/x/media.jpg"); got != want {
		t.Errorf("URL with leading slash = %q, want %q", got, want)
	}
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
)

// Transcriber transcribes extracted audio through a Whisper-compatible
// endpoint (Groq by default).
type Transcriber struct {
	cfg     *config.TranscribeConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewTranscriber creates a remote transcriber.
func NewTranscriber(cfg *config.TranscribeConfig) *Transcriber {
	settings := gobreaker.Settings{
		Name:    "transcriber",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	return &Transcriber{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Transcribe sends MP3 audio to the transcription endpoint and returns
// the recognized text. An empty result with nil error means the audio
// carried no recognizable speech.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return t.breaker.Execute(func() (string, error) {
		return t.transcribe(ctx, audio)
	})
}

func (t *Transcriber) transcribe(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.WriteField("model", t.cfg.Model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	url := strings.TrimSuffix(t.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcription endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}

	text := strings.TrimSpace(parsed.Text)
	logging.Debug().Int("chars", len(text)).Msg("Transcribed audio")
	return text, nil
}

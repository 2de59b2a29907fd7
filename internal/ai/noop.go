// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package ai

import (
	"context"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// NoopClassifier is used when no classifier API key is configured.
// Every event receives the default classification.
type NoopClassifier struct{}

// Classify returns the default classification without calling out.
func (NoopClassifier) Classify(_ context.Context, _, _ string) (models.Classification, error) {
	return models.DefaultClassification("Classification skipped - API not configured"), nil
}

// NoopTranscriber is used when no transcription API key is configured.
type NoopTranscriber struct{}

// Transcribe returns an empty transcription without calling out.
func (NoopTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	return "", nil
}

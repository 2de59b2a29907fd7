// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package ai provides the remote classification and transcription
// clients used by the enrichment pipeline. Both are optional: when no
// API key is configured the pipeline runs with no-op implementations
// and events receive the default classification.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// categoryHints describe each category in the classification prompt.
var categoryHints = []struct {
	name models.Category
	desc string
}{
	{models.CategoryEmergency, "Fire, explosion, collapse"},
	{models.CategorySecurity, "Drone activity, suspicious activity"},
	{models.CategoryTraffic, "Accident, road blockage"},
	{models.CategoryProtest, "March, demonstration, gathering"},
	{models.CategoryInfrastructure, "Pothole, broken streetlight, damage"},
	{models.CategoryEnvironmental, "Pollution, fallen tree, flooding"},
	{models.CategoryInformational, "General observation"},
}

// severityHints describe each severity level in the prompt.
var severityHints = []struct {
	level models.Severity
	desc  string
}{
	{models.SeverityLow, "Low - Informational only"},
	{models.SeverityMedium, "Medium - Needs attention, not urgent"},
	{models.SeverityHigh, "High - Urgent, requires response"},
	{models.SeverityCritical, "Critical - Life-threatening emergency"},
}

// Classifier classifies incident descriptions through an
// OpenAI-compatible chat-completions endpoint, guarded by a circuit
// breaker so a degraded upstream cannot stall pipeline workers.
type Classifier struct {
	cfg     *config.ClassifierConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[models.Classification]
}

// NewClassifier creates a remote classifier.
func NewClassifier(cfg *config.ClassifierConfig) *Classifier {
	settings := gobreaker.Settings{
		Name:    "classifier",
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

	return &Classifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[models.Classification](settings),
	}
}

// Classify classifies a description, optionally enriched with an audio
// transcription. Failures return the default classification together
// with the error so the pipeline can record the event as informational
// and keep going.
func (c *Classifier) Classify(ctx context.Context, description, transcription string) (models.Classification, error) {
	full := CombineInput(description, transcription)

	result, err := c.breaker.Execute(func() (models.Classification, error) {
		return c.classify(ctx, full)
	})
	if err != nil {
		return models.DefaultClassification("Classification failed: " + err.Error()), err
	}
	return result, nil
}

// chat-completions wire shapes, request then response.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Classifier) classify(ctx context.Context, description string) (models.Classification, error) {
	var zero models.Classification

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: BuildPrompt(description)},
		},
	})
	if err != nil {
		return zero, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://attention-map.app")
	req.Header.Set("X-Title", "Attention Map")

	resp, err := c.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("classification request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return zero, fmt.Errorf("classification endpoint returned %d: %s", resp.StatusCode, payload)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return zero, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return zero, fmt.Errorf("classification response has no choices")
	}

	result, err := ParseClassification(parsed.Choices[0].Message.Content)
	if err != nil {
		return zero, err
	}

	logging.Info().
		Str("category", string(result.Category)).
		Int("severity", int(result.Severity)).
		Msg("Classified event")

	return result, nil
}

// CombineInput joins the user description and the audio transcription
// into the classifier input, labelling each part and skipping the ones
// that are empty.
func CombineInput(description, transcription string) string {
	var parts []string
	if description != "" {
		parts = append(parts, "User description: "+description)
	}
	if transcription != "" {
		parts = append(parts, "Audio transcription: "+transcription)
	}
	return strings.Join(parts, "\n\n")
}

// BuildPrompt assembles the classification prompt for a description.
func BuildPrompt(description string) string {
	if description == "" {
		description = "No description provided"
	}

	var b strings.Builder
	b.WriteString("Analyze this incident report and classify it.\n\n")
	b.WriteString("Description: " + description + "\n\n")
	b.WriteString("Classify into one of these categories:\n")
	for _, c := range categoryHints {
		fmt.Fprintf(&b, "- %s: %s\n", c.name, c.desc)
	}
	b.WriteString("\nAlso assign severity (1-4):\n")
	for _, s := range severityHints {
		fmt.Fprintf(&b, "- %d: %s\n", s.level, s.desc)
	}
	b.WriteString("\nRespond in JSON format only:\n")
	b.WriteString(`{"category": "...", "subcategory": "...", "severity": N, "confidence": 0.0-1.0, "reasoning": "..."}`)
	return b.String()
}

// ParseClassification parses model output into a Classification,
// stripping markdown code fences and clamping out-of-range values.
func ParseClassification(content string) (models.Classification, error) {
	var zero models.Classification

	content = StripFences(content)

	var raw struct {
		Category    string   `json:"category"`
		Subcategory string   `json:"subcategory"`
		Severity    int      `json:"severity"`
		Confidence  *float64 `json:"confidence"`
		Reasoning   string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return zero, fmt.Errorf("invalid classification JSON: %w", err)
	}

	category := models.Category(strings.ToLower(strings.TrimSpace(raw.Category)))
	if !category.Valid() {
		category = models.CategoryInformational
	}

	return models.Classification{
		Category:    category,
		Subcategory: raw.Subcategory,
		Severity:    models.Severity(raw.Severity).Clamp(),
		Confidence:  raw.Confidence,
		Reasoning:   raw.Reasoning,
	}, nil
}

// StripFences removes a wrapping markdown code fence, with or without
// a "json" language tag, from model output.
func StripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}

	parts := strings.Split(content, "```")
	if len(parts) < 2 {
		return content
	}
	inner := parts[1]
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

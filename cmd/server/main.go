// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package main is the entry point for the Attention Map server.
//
// Attention Map is a civic incident reporting platform: residents upload
// geotagged photo and video reports, an asynchronous pipeline enriches
// them (keyframe extraction, transcription, AI classification, spatial
// clustering), and operators triage the results on a live map.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file (Koanf v2)
//  2. Embedded NATS (optional): in-process broker with JetStream
//  3. Database: DuckDB with the spatial extension
//  4. Object storage: S3-compatible bucket for media and thumbnails
//  5. Fan-out bus and pipeline work queue (NATS + Watermill)
//  6. Enrichment pipeline: media, transcription, classification, clustering
//  7. HTTP server: REST API, SSE stream, Prometheus metrics
//
// Long-lived components run under a Suture supervision tree so a
// crashing worker pool restarts without dropping the HTTP listener.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, config.yaml, built-in
// defaults. Minimal production setup:
//
//	export AUTH_JWT_SECRET=$(openssl rand -base64 32)
//	export STORAGE_ENDPOINT=http://minio:9000
//	export STORAGE_ACCESS_KEY=...
//	export STORAGE_SECRET_KEY=...
//	./attention-map
//
// With no CLASSIFIER_API_KEY or TRANSCRIBE_API_KEY the pipeline falls
// back to rule-free defaults: reports keep the informational category
// until an operator triages them.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the worker pool finishes its current jobs, then
// the queue, bus, broker, and database close in that order.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/ai"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/api"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/auth"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/bus"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/clusterer"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/database"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/gamification"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/media"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/pipeline"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/storage"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Bool("classifier", cfg.ClassifierEnabled()).
		Bool("transcriber", cfg.TranscribeEnabled()).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedded broker first: the bus and the work queue dial it.
	var embedded *bus.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		embedded, err = bus.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		cfg.NATS.URL = embedded.ClientURL()
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized")

	objects, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize object storage")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		logging.Fatal().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("Failed to ensure media bucket")
	}

	natsBus, err := bus.Connect(&cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect fan-out bus")
	}
	defer natsBus.Close()

	queue, err := pipeline.NewQueue(ctx, cfg.NATS.URL, &cfg.Pipeline)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize pipeline queue")
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing pipeline queue")
		}
	}()

	var classifier pipeline.Classifier = ai.NoopClassifier{}
	if cfg.ClassifierEnabled() {
		classifier = ai.NewClassifier(&cfg.Classifier)
		logging.Info().Str("model", cfg.Classifier.Model).Msg("AI classification enabled")
	} else {
		logging.Warn().Msg("Classifier disabled (no CLASSIFIER_API_KEY); reports stay informational until triage")
	}
	var transcriber pipeline.Transcriber = ai.NoopTranscriber{}
	if cfg.TranscribeEnabled() {
		transcriber = ai.NewTranscriber(&cfg.Transcribe)
		logging.Info().Str("model", cfg.Transcribe.Model).Msg("Audio transcription enabled")
	}

	engine := clusterer.New(db, &cfg.Clustering)
	game := gamification.New(db)
	tokens := auth.NewTokens(&cfg.Auth)

	processor := pipeline.NewProcessor(
		db,
		objects,
		media.NewExtractor(&cfg.Media),
		transcriber,
		classifier,
		engine,
		natsBus,
	)

	handler := api.NewHandler(&cfg.Server, db, objects, queue, natsBus, natsBus, game, engine, tokens)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(&cfg.Server, handler),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.NewRunnerService("pipeline-workers", func(ctx context.Context) error {
		return queue.Run(ctx, processor)
	}))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Int("workers", cfg.Pipeline.Workers).Msg("Supervision tree assembled")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervision tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	if embedded != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := embedded.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Error stopping embedded NATS server")
		}
		shutdownCancel()
	}

	logging.Info().Msg("Server stopped")
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package config provides layered configuration for the Attention Map server.
//
// Configuration is loaded with Koanf v2 from three layers, later layers
// overriding earlier ones:
//
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (SERVER_PORT, DATABASE_PATH, ...)
//
// The loaded Config is passed explicitly into component constructors;
// there is no global settings object.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the server.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	NATS       NATSConfig       `koanf:"nats"`
	Storage    StorageConfig    `koanf:"storage"`
	Classifier ClassifierConfig `koanf:"classifier"`
	Transcribe TranscribeConfig `koanf:"transcribe"`
	Media      MediaConfig      `koanf:"media"`
	Auth       AuthConfig       `koanf:"auth"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Clustering ClusteringConfig `koanf:"clustering"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - SERVER_HOST: Listen address (default: 0.0.0.0)
//   - SERVER_PORT: Listen port (default: 8000)
//   - SERVER_TIMEOUT: Read/write timeout (default: 30s)
//   - SERVER_CORS_ORIGINS: Comma-separated allowed CORS origins
//   - SERVER_MAX_UPLOAD_BYTES: Upload size cap (default: 50 MiB)
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout        time.Duration `koanf:"timeout"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes" validate:"min=1"`
	RateLimitReqs  int           `koanf:"rate_limit_reqs"`
}

// DatabaseConfig holds DuckDB settings.
//
// Environment Variables:
//   - DATABASE_PATH: DuckDB file path; ":memory:" for ephemeral (default: /data/attention_map.duckdb)
//   - DATABASE_MAX_MEMORY: DuckDB memory cap (default: 2GB)
//   - DATABASE_THREADS: Query threads; 0 = runtime.NumCPU()
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// NATSConfig holds the connection settings shared by the fan-out bus
// (core NATS) and the pipeline work queue (JetStream).
//
// Environment Variables:
//   - NATS_URL: Connection URL (default: nats://127.0.0.1:4222)
//   - NATS_EMBEDDED_SERVER: Run an in-process NATS server (default: true)
//   - NATS_STORE_DIR: JetStream storage directory for the embedded server
//   - NATS_BUS_SUBJECT: Fan-out subject (default: events.updates)
type NATSConfig struct {
	URL            string        `koanf:"url" validate:"required"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	BusSubject     string        `koanf:"bus_subject" validate:"required"`
	MaxReconnects  int           `koanf:"max_reconnects"`
	ReconnectWait  time.Duration `koanf:"reconnect_wait"`
}

// StorageConfig holds S3-compatible object store settings (MinIO).
//
// Environment Variables:
//   - STORAGE_ENDPOINT: host:port of the object store
//   - STORAGE_ACCESS_KEY / STORAGE_SECRET_KEY: credentials
//   - STORAGE_BUCKET: bucket name (default: attention-map)
//   - STORAGE_USE_SSL: TLS to the object store (default: false)
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Bucket    string `koanf:"bucket" validate:"required"`
	Region    string `koanf:"region"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// ClassifierConfig holds the remote AI classification endpoint settings.
// When APIKey is empty, classification is disabled and events fall back
// to the default classification.
//
// Environment Variables:
//   - CLASSIFIER_API_KEY: API key; empty disables classification
//   - CLASSIFIER_BASE_URL: OpenAI-compatible base URL (default: OpenRouter)
//   - CLASSIFIER_MODEL: Model identifier
//   - CLASSIFIER_TIMEOUT: Per-call timeout (default: 60s)
type ClassifierConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// TranscribeConfig holds the remote speech-to-text endpoint settings.
// When APIKey is empty, transcription is disabled.
//
// Environment Variables:
//   - TRANSCRIBE_API_KEY: API key; empty disables transcription
//   - TRANSCRIBE_BASE_URL: Whisper-compatible base URL (default: Groq)
//   - TRANSCRIBE_MODEL: Model identifier
//   - TRANSCRIBE_TIMEOUT: Per-call timeout (default: 30s)
type TranscribeConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// MediaConfig holds ffmpeg/ffprobe subprocess settings for keyframe and
// audio extraction.
//
// Environment Variables:
//   - MEDIA_FFMPEG_PATH / MEDIA_FFPROBE_PATH: tool paths
//   - MEDIA_THUMBNAIL_WIDTH: keyframe width in pixels (default: 640)
//   - MEDIA_THUMBNAIL_QUALITY: JPEG quality 1-100 (default: 85)
type MediaConfig struct {
	FFmpegPath       string        `koanf:"ffmpeg_path"`
	FFprobePath      string        `koanf:"ffprobe_path"`
	ThumbnailWidth   int           `koanf:"thumbnail_width" validate:"min=16"`
	ThumbnailQuality int           `koanf:"thumbnail_quality" validate:"min=1,max=100"`
	KeyframeTimeout  time.Duration `koanf:"keyframe_timeout"`
	AudioTimeout     time.Duration `koanf:"audio_timeout"`
}

// AuthConfig holds JWT signing settings.
//
// Environment Variables:
//   - AUTH_JWT_SECRET: HS256 signing key (min 32 chars, required)
//   - AUTH_ACCESS_TOKEN_TTL: access token lifetime (default: 1h)
//   - AUTH_REFRESH_TOKEN_TTL: refresh token lifetime (default: 168h)
type AuthConfig struct {
	JWTSecret       string        `koanf:"jwt_secret" validate:"required,min=32"`
	AccessTokenTTL  time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL time.Duration `koanf:"refresh_token_ttl"`
}

// PipelineConfig holds work-queue and worker-pool settings.
//
// Environment Variables:
//   - PIPELINE_WORKERS: concurrent pipeline workers (default: 4)
//   - PIPELINE_MAX_DELIVER: total delivery attempts per job (default: 4)
//   - PIPELINE_RETRY_BACKOFF: redelivery wait after a failed job (default: 60s)
type PipelineConfig struct {
	StreamName   string        `koanf:"stream_name" validate:"required"`
	Topic        string        `koanf:"topic" validate:"required"`
	Workers      int           `koanf:"workers" validate:"min=1"`
	MaxDeliver   int           `koanf:"max_deliver" validate:"min=1"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	DurableName  string        `koanf:"durable_name"`
	QueueGroup   string        `koanf:"queue_group"`
}

// ClusteringConfig holds the spatio-temporal clustering parameters.
//
// Environment Variables:
//   - CLUSTERING_RADIUS_METERS: join radius (default: 100)
//   - CLUSTERING_TIME_WINDOW: recency window (default: 30m)
//   - CLUSTERING_HIGH_THRESHOLD: member count escalating to High (default: 3)
//   - CLUSTERING_CRITICAL_THRESHOLD: member count escalating to Critical (default: 5)
type ClusteringConfig struct {
	RadiusMeters      float64       `koanf:"radius_meters" validate:"gt=0"`
	TimeWindow        time.Duration `koanf:"time_window" validate:"gt=0"`
	HighThreshold     int           `koanf:"high_threshold" validate:"min=2"`
	CriticalThreshold int           `koanf:"critical_threshold" validate:"min=2"`
}

// LoggingConfig holds logging settings.
//
// Environment Variables:
//   - LOGGING_LEVEL: trace/debug/info/warn/error (default: info)
//   - LOGGING_FORMAT: json or console (default: json)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for consistency. Field-level rules
// come from validator tags; cross-field rules are checked explicitly.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Clustering.CriticalThreshold < c.Clustering.HighThreshold {
		return fmt.Errorf("clustering critical_threshold (%d) must be >= high_threshold (%d)",
			c.Clustering.CriticalThreshold, c.Clustering.HighThreshold)
	}
	if c.Pipeline.MaxDeliver < 1 {
		return fmt.Errorf("pipeline max_deliver must be at least 1")
	}

	return nil
}

// ClassifierEnabled reports whether the remote classifier is configured.
func (c *Config) ClassifierEnabled() bool {
	return c.Classifier.APIKey != ""
}

// TranscribeEnabled reports whether the remote transcriber is configured.
func (c *Config) TranscribeEnabled() bool {
	return c.Transcribe.APIKey != ""
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/attention-map/config.yaml",
	"/etc/attention-map/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefixes maps recognized environment variable prefixes to their
// koanf section. SERVER_MAX_UPLOAD_BYTES -> server.max_upload_bytes.
var envPrefixes = []string{
	"server",
	"database",
	"nats",
	"storage",
	"classifier",
	"transcribe",
	"media",
	"auth",
	"pipeline",
	"clustering",
	"logging",
}

// Default returns a Config populated with all default values.
// Defaults are applied first, then overridden by config file and env vars.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			Timeout:        30 * time.Second,
			CORSOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000"},
			MaxUploadBytes: 50 << 20, // 50 MiB
			RateLimitReqs:  100,
		},
		Database: DatabaseConfig{
			Path:      "/data/attention_map.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			BusSubject:     "events.updates",
			MaxReconnects:  60,
			ReconnectWait:  2 * time.Second,
		},
		Storage: StorageConfig{
			Endpoint:  "127.0.0.1:9000",
			AccessKey: "",
			SecretKey: "",
			Bucket:    "attention-map",
			Region:    "us-east-1",
			UseSSL:    false,
		},
		Classifier: ClassifierConfig{
			APIKey:  "", // empty disables classification
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "google/gemini-2.5-flash-lite",
			Timeout: 60 * time.Second,
		},
		Transcribe: TranscribeConfig{
			APIKey:  "", // empty disables transcription
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "whisper-large-v3-turbo",
			Timeout: 30 * time.Second,
		},
		Media: MediaConfig{
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			ThumbnailWidth:   640,
			ThumbnailQuality: 85,
			KeyframeTimeout:  60 * time.Second,
			AudioTimeout:     30 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:       "",
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 7 * 24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			StreamName:   "PIPELINE",
			Topic:        "pipeline.jobs",
			Workers:      4,
			MaxDeliver:   4, // 1 initial delivery + 3 retries
			RetryBackoff: 60 * time.Second,
			DurableName:  "pipeline-worker",
			QueueGroup:   "pipeline",
		},
		Clustering: ClusteringConfig{
			RadiusMeters:      100,
			TimeWindow:        30 * time.Minute,
			HighThreshold:     3,
			CriticalThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variables (highest priority), then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Environment variables carry slices as comma-separated strings.
	if raw, ok := k.Get("server.cors_origins").(string); ok {
		parts := strings.Split(raw, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		if err := k.Set("server.cors_origins", origins); err != nil {
			return nil, fmt.Errorf("normalize cors origins: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
		return ""
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps recognized environment variables to koanf paths:
// SERVER_PORT -> server.port, CLUSTERING_TIME_WINDOW -> clustering.time_window.
// Unrecognized variables are ignored so unrelated process environment
// cannot leak into the configuration.
func envTransform(key string) string {
	lower := strings.ToLower(key)
	for _, prefix := range envPrefixes {
		if strings.HasPrefix(lower, prefix+"_") {
			return prefix + "." + strings.TrimPrefix(lower, prefix+"_")
		}
	}
	return ""
}

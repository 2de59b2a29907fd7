// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package metrics provides Prometheus instrumentation for the upload
// path, the enrichment pipeline, clustering, and stream fan-out.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Upload and pipeline metrics
	EventsUploadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_uploaded_total",
			Help: "Total number of accepted event uploads",
		},
		[]string{"media_type"},
	)

	PipelineJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_jobs_total",
			Help: "Total number of pipeline jobs by outcome",
		},
		[]string{"outcome"}, // "completed", "partial", "failed"
	)

	PipelineStageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_stage_errors_total",
			Help: "Total number of pipeline stage failures",
		},
		[]string{"stage"},
	)

	PipelineJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_job_duration_seconds",
			Help:    "Duration of pipeline jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Clustering metrics
	ClustersFormedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clusters_formed_total",
			Help: "Total number of clusters formed",
		},
	)

	ClusterEscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_escalations_total",
			Help: "Total number of cluster severity escalations",
		},
		[]string{"severity"},
	)

	// Stream fan-out metrics
	StreamClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stream_clients_connected",
			Help: "Number of currently connected stream clients",
		},
	)

	BusMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Total number of messages published on the fan-out bus",
		},
		[]string{"type"},
	)
)

// ObserveAPIRequest records one completed API request.
func ObserveAPIRequest(method, path string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/metrics"
)

// streamKeepAlive is the idle interval between SSE comment frames that
// keep intermediaries from closing the connection.
const streamKeepAlive = 30 * time.Second

// StreamEvents is the SSE endpoint. Each client gets its own bus
// subscription; a client that falls behind loses messages rather than
// slowing anyone else down.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondDetail(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	messages, cancel, err := h.stream.Stream()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to subscribe stream client")
		respondDetail(w, http.StatusServiceUnavailable, "Event stream unavailable")
		return
	}
	defer cancel()

	// The stream outlives the server's write timeout; without this the
	// connection is torn down at the deadline no matter how many
	// keep-alives went out.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logging.Warn().Err(err).Msg("Failed to clear stream write deadline")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable proxy buffering (nginx) so frames reach the client live.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "event: connected\ndata: {\"status\": \"connected\"}\n\n")
	flusher.Flush()

	metrics.StreamClientsConnected.Inc()
	defer metrics.StreamClientsConnected.Dec()
	logging.Debug().Str("remote", r.RemoteAddr).Msg("Stream client connected")

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			logging.Debug().Str("remote", r.RemoteAddr).Msg("Stream client disconnected")
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, open := <-messages:
			if !open {
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				logging.Warn().Err(err).Msg("Failed to encode stream message")
				continue
			}
			fmt.Fprintf(w, "event: event_update\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

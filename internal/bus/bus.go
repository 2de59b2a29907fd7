// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

// Package bus provides the real-time fan-out channel between the
// enrichment pipeline and connected stream clients.
//
// It uses core NATS publish/subscribe (not JetStream): fan-out is
// fire-and-forget by design. A slow or absent subscriber never blocks
// the pipeline, and messages published while a client is disconnected
// are simply not seen by it.
package bus

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/metrics"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/models"
)

// subscriptionBuffer is the per-subscriber channel depth. When a
// subscriber falls this far behind, further messages are dropped for it.
const subscriptionBuffer = 64

// Bus publishes and subscribes event update messages on a single
// subject.
type Bus struct {
	conn    *nats.Conn
	subject string
}

// Connect establishes the NATS connection for the fan-out bus.
func Connect(cfg *config.NATSConfig) (*Bus, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("attention-map-bus"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("Bus connection lost")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Bus reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	logging.Info().Str("subject", cfg.BusSubject).Msg("Fan-out bus connected")

	return &Bus{conn: conn, subject: cfg.BusSubject}, nil
}

// Publish broadcasts an event update. Publish errors are logged, not
// returned: fan-out failure must never fail the pipeline stage that
// produced the event.
func (b *Bus) Publish(msgType string, event models.EventOut) {
	payload, err := json.Marshal(models.BusMessage{Type: msgType, Event: event})
	if err != nil {
		logging.Error().Err(err).Str("type", msgType).Msg("Failed to encode bus message")
		return
	}

	if err := b.conn.Publish(b.subject, payload); err != nil {
		logging.Error().Err(err).Str("type", msgType).Msg("Failed to publish bus message")
		return
	}

	metrics.BusMessagesPublished.WithLabelValues(msgType).Inc()
	logging.Debug().
		Str("type", msgType).
		Str("event_id", event.ID.String()).
		Msg("Published event update")
}

// Subscription delivers bus messages to one consumer. Messages that
// arrive while the consumer's buffer is full are dropped.
type Subscription struct {
	sub *nats.Subscription
	ch  chan models.BusMessage
}

// Subscribe starts receiving event updates. The caller must Close the
// subscription when done.
func (b *Bus) Subscribe() (*Subscription, error) {
	ch := make(chan models.BusMessage, subscriptionBuffer)

	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		var m models.BusMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			logging.Warn().Err(err).Msg("Dropping malformed bus message")
			return
		}
		select {
		case ch <- m:
		default:
			logging.Warn().Str("type", m.Type).Msg("Subscriber behind, dropping bus message")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", b.subject, err)
	}

	return &Subscription{sub: sub, ch: ch}, nil
}

// Stream subscribes and returns the message channel with a cancel
// function, the shape the stream handler consumes.
func (b *Bus) Stream() (<-chan models.BusMessage, func(), error) {
	sub, err := b.Subscribe()
	if err != nil {
		return nil, nil, err
	}
	return sub.C(), sub.Close, nil
}

// C returns the message channel.
func (s *Subscription) C() <-chan models.BusMessage {
	return s.ch
}

// Close stops the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if err := s.sub.Unsubscribe(); err != nil && err != nats.ErrBadSubscription {
		logging.Warn().Err(err).Msg("Failed to unsubscribe from bus")
	}
}

// Healthy reports whether the underlying connection is usable.
func (b *Bus) Healthy() bool {
	return b.conn != nil && b.conn.Status() == nats.CONNECTED
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		logging.Warn().Err(err).Msg("Failed to drain bus connection")
		b.conn.Close()
	}
	// Drain closes asynchronously; give it a moment before hard close.
	deadline := time.Now().Add(2 * time.Second)
	for b.conn.Status() != nats.CLOSED && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

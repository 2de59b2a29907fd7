// Attention Map - Civic Incident Reporting and Real-Time Clustering
// Copyright 2026 pgryko
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pgryko/attention-map-warwaw-ai-hackathon

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/config"
	"github.com/pgryko/attention-map-warwaw-ai-hackathon/internal/logging"
)

// Queue is the durable JetStream work queue carrying enrichment jobs
// from the upload handler to the worker pool. Jobs survive restarts;
// failed jobs are redelivered up to MaxDeliver times with the
// configured backoff.
type Queue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	cfg        config.PipelineConfig

	mu     sync.Mutex
	closed bool
}

// NewQueue ensures the stream exists and builds the Watermill
// publisher and subscriber against it.
func NewQueue(ctx context.Context, url string, cfg *config.PipelineConfig) (*Queue, error) {
	if err := ensureStream(ctx, url, cfg); err != nil {
		return nil, err
	}

	wmLogger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.Name("attention-map-pipeline"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Pipeline queue disconnected from NATS")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Pipeline queue reconnected to NATS")
		}),
	}

	publisher, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created by ensureStream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create pipeline publisher: %w", err)
	}

	subOpts := []natsgo.SubOpt{
		natsgo.BindStream(cfg.StreamName),
		natsgo.MaxDeliver(cfg.MaxDeliver),
		natsgo.MaxAckPending(cfg.Workers * 2),
		natsgo.AckWait(5 * time.Minute),
		natsgo.DeliverAll(),
	}
	if backoff := retryBackoff(cfg); len(backoff) > 0 {
		subOpts = append(subOpts, natsgo.BackOff(backoff))
	}

	subscriber, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   5 * time.Minute,
		CloseTimeout:     30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    false,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    cfg.DurableName,
		},
	}, wmLogger)
	if err != nil {
		closeQuietly(publisher)
		return nil, fmt.Errorf("create pipeline subscriber: %w", err)
	}

	logging.Info().
		Str("stream", cfg.StreamName).
		Str("topic", cfg.Topic).
		Int("workers", cfg.Workers).
		Int("max_deliver", cfg.MaxDeliver).
		Msg("Pipeline queue ready")

	return &Queue{
		publisher:  publisher,
		subscriber: subscriber,
		cfg:        *cfg,
	}, nil
}

// ensureStream creates or updates the JetStream stream backing the work
// queue. Idempotent; safe to run on every start.
func ensureStream(ctx context.Context, url string, cfg *config.PipelineConfig) error {
	nc, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(5),
		natsgo.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS for stream setup: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.Topic},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}

	if _, err := js.Stream(ctx, cfg.StreamName); err == nil {
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.StreamName, err)
		}
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("check stream %s: %w", cfg.StreamName, err)
	}

	if _, err := js.CreateStream(ctx, streamCfg); err != nil {
		return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
	}
	logging.Info().Str("stream", cfg.StreamName).Str("topic", cfg.Topic).Msg("Created pipeline stream")
	return nil
}

// retryBackoff builds the redelivery schedule: one wait per retry,
// MaxDeliver-1 retries in total.
func retryBackoff(cfg *config.PipelineConfig) []time.Duration {
	retries := cfg.MaxDeliver - 1
	if retries <= 0 || cfg.RetryBackoff <= 0 {
		return nil
	}
	backoff := make([]time.Duration, retries)
	for i := range backoff {
		backoff[i] = cfg.RetryBackoff
	}
	return backoff
}

// Enqueue publishes one job. The event ID doubles as the JetStream
// message ID so accidental double-submission deduplicates.
func (q *Queue) Enqueue(_ context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(natsgo.MsgIdHdr, job.EventID.String())

	if err := q.publisher.Publish(q.cfg.Topic, msg); err != nil {
		return fmt.Errorf("enqueue job for event %s: %w", job.EventID, err)
	}

	logging.Debug().
		Str("event_id", job.EventID.String()).
		Str("media_type", string(job.MediaType)).
		Msg("Pipeline job enqueued")
	return nil
}

// Run consumes jobs with a pool of workers until the context is
// canceled. Stage failures inside a job are already absorbed by the
// processor; only a failed job run (event missing, malformed payload
// retried past usefulness) is nacked for redelivery.
func (q *Queue) Run(ctx context.Context, processor *Processor) error {
	messages, err := q.subscriber.Subscribe(ctx, q.cfg.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", q.cfg.Topic, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for msg := range messages {
				q.handle(ctx, processor, worker, msg)
			}
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

func (q *Queue) handle(ctx context.Context, processor *Processor, worker int, msg *message.Message) {
	var job Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		// A payload that never parses will never parse on redelivery.
		logging.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed pipeline job")
		msg.Ack()
		return
	}

	if _, err := processor.Process(ctx, job); err != nil {
		logging.Warn().
			Err(err).
			Int("worker", worker).
			Str("event_id", job.EventID.String()).
			Msg("Pipeline job failed, scheduling redelivery")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close shuts down the publisher and subscriber. Idempotent.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true

	var errs []error
	if err := q.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}
	if err := q.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	return errors.Join(errs...)
}

func closeQuietly(c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error during close")
	}
}

// Package kafka publishes evaluation results to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/flood-skill-eval/internal/domain"
	"github.com/couchcryptid/flood-skill-eval/internal/observability"
)

// Values of the result_kind header.
const (
	KindSite   = "site"
	KindCounty = "county"
)

// Write retry policy.
const (
	defaultAttempts   = 3
	defaultBackoff    = 500 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes one message per site contingency table and per county
// score of an evaluation.
type Publisher struct {
	writer     messageWriter
	logger     *slog.Logger
	metrics    *observability.Metrics
	attempts   int
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewPublisher creates a Kafka producer for the results topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{
		writer:     w,
		logger:     logger,
		metrics:    metrics,
		attempts:   defaultAttempts,
		backoff:    defaultBackoff,
		maxBackoff: defaultMaxBackoff,
	}
}

// Publish serializes the evaluation and writes it in a single WriteMessages
// call, retried with exponential backoff. Site messages are keyed by site id
// and county messages by FIPS.
func (p *Publisher) Publish(ctx context.Context, ev *domain.Evaluation) error {
	msgs, err := evaluationMessages(ev)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.write(ctx, msgs); err != nil {
		return fmt.Errorf("publish results: %w", err)
	}
	p.metrics.ResultsPublished.Add(float64(len(msgs)))
	p.logger.Info("results published",
		"sites", len(ev.Sites),
		"counties", len(ev.Counties),
	)
	return nil
}

func (p *Publisher) write(ctx context.Context, msgs []kafkago.Message) error {
	backoff := p.backoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = p.writer.WriteMessages(ctx, msgs...); err == nil {
			return nil
		}
		if attempt >= p.attempts {
			return err
		}
		p.logger.Warn("result write failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !retry.SleepWithContext(ctx, backoff) {
			return errors.Join(err, ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, p.maxBackoff)
	}
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func evaluationMessages(ev *domain.Evaluation) ([]kafkago.Message, error) {
	evaluatedAt := ev.EvaluatedAt.UTC().Format(time.RFC3339)
	msgs := make([]kafkago.Message, 0, len(ev.Sites)+len(ev.Counties))
	for _, s := range ev.Sites {
		msg, err := serializeToMessage(s.SiteID, KindSite, evaluatedAt, s)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	for _, c := range ev.Counties {
		msg, err := serializeToMessage(c.FIPS, KindCounty, evaluatedAt, c)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// serializeToMessage marshals a result row into a Kafka message.
func serializeToMessage(key, kind, evaluatedAt string, v any) (kafkago.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize %s result %s: %w", kind, key, err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "result_kind", Value: []byte(kind)},
			{Key: "evaluated_at", Value: []byte(evaluatedAt)},
		},
	}, nil
}

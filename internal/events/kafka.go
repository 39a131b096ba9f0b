package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/phenotype-similarity-server/internal/domain"
)

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, key, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Retry defaults for messages that fail transiently
const (
	DefaultMaxAttempts  = 5
	DefaultRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 10 * time.Second
)

// Consumer reads events from the invalidation topic
type Consumer struct {
	reader      messageReader
	handler     MessageHandler
	maxAttempts int
	backoff     time.Duration
	logger      *logrus.Entry
}

// NewConsumer creates a consumer in the configured consumer group
func NewConsumer(cfg domain.KafkaConfig, handler MessageHandler, logger *logrus.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    1e6,
		StartOffset: kafka.LastOffset,
	})
	c := newConsumer(r, cfg.Topic, handler, logger)
	if cfg.MaxAttempts > 0 {
		c.maxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBackoff > 0 {
		c.backoff = cfg.RetryBackoff
	}
	return c
}

func newConsumer(r messageReader, topic string, handler MessageHandler, logger *logrus.Logger) *Consumer {
	return &Consumer{
		reader:      r,
		handler:     handler,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
		logger:      logger.WithFields(logrus.Fields{"component": "kafka-consumer", "topic": topic}),
	}
}

// Run consumes until ctx is cancelled. A message that fails transiently is
// retried in place with exponential backoff, since committing a later offset
// would commit it too. It is committed once handled, when it can never be
// handled, or after the last attempt.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Event consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.WithField("reason", ctx.Err()).Info("Event consumer stopping")
				return nil
			}
			c.logger.WithError(err).Error("Failed to fetch message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		fields := logrus.Fields{"partition": msg.Partition, "offset": msg.Offset, "key": string(msg.Key)}
		if !c.process(ctx, msg, fields) {
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.WithFields(fields).WithError(err).Error("Failed to commit message")
		}
	}
}

// process reports whether msg is done with and may be committed
func (c *Consumer) process(ctx context.Context, msg kafka.Message, fields logrus.Fields) bool {
	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, msg.Key, msg.Value)
		switch {
		case err == nil:
			return true
		case IsPoison(err):
			c.logger.WithFields(fields).WithError(err).Warn("Skipping malformed message")
			return true
		case attempt >= c.maxAttempts:
			c.logger.WithFields(fields).WithError(err).WithField("attempts", attempt).
				Error("Giving up on message; cached results may be stale until the next invalidation")
			return true
		}

		c.logger.WithFields(fields).WithError(err).WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": delay,
		}).Warn("Failed to process message, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay = min(delay*2, maxRetryBackoff)
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Publisher writes events to the invalidation topic
type Publisher struct {
	writer messageWriter
	source string
	logger *logrus.Entry
}

// NewPublisher creates a synchronous publisher. source identifies this
// replica in published events.
func NewPublisher(cfg domain.KafkaConfig, source string, logger *logrus.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(w, cfg.Topic, source, logger)
}

func newPublisher(w messageWriter, topic, source string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		writer: w,
		source: source,
		logger: logger.WithFields(logrus.Fields{"component": "kafka-producer", "topic": topic}),
	}
}

// Publish serializes and writes one event
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Source == "" {
		event.Source = p.source
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := kafka.Message{Key: []byte(event.Key()), Value: value}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithFields(logrus.Fields{
			"type":  event.Type,
			"key":   event.Key(),
			"error": err,
		}).Error("Failed to publish event")
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.WithFields(logrus.Fields{"type": event.Type, "key": event.Key()}).Debug("Event published")
	return nil
}

// Close flushes pending writes and closes the underlying Kafka writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

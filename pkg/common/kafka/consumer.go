package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/predict-mdr/platform/pkg/common/logger"
	"github.com/predict-mdr/platform/pkg/common/models"
	"github.com/segmentio/kafka-go"
)

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     messageReader
	deadLetter messageWriter
	attempts   int
	backoff    time.Duration
}

type EventHandler func(ctx context.Context, event models.Event) error

// ErrSkip tells the consumer to commit an event without retrying it.
var ErrSkip = errors.New("skip event")

type ConsumerOption func(*Consumer)

// WithRetry runs a failing handler up to attempts times, doubling backoff
// between tries.
func WithRetry(attempts int, backoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.attempts = attempts
		c.backoff = backoff
	}
}

// WithDeadLetter parks events that exhaust their attempts on topic.
func WithDeadLetter(brokers []string, topic string) ConsumerOption {
	return func(c *Consumer) {
		if topic == "" {
			return
		}
		c.deadLetter = &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
		}
	}
}

func NewConsumer(brokers []string, topic string, groupID string, opts ...ConsumerOption) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return newConsumer(reader, opts...)
}

func newConsumer(reader messageReader, opts ...ConsumerOption) *Consumer {
	c := &Consumer{reader: reader, attempts: 1, backoff: time.Second}
	for _, opt := range opts {
		opt(c)
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	return c
}

// Consume blocks until ctx is done. A group reader never re-fetches a
// message once a later offset is committed, so every message is settled
// before the next fetch: handled, skipped, or parked on the dead-letter topic
// after its attempts run out. Without a dead-letter topic an exhausted event
// is logged and dropped.
func (c *Consumer) Consume(ctx context.Context, handler EventHandler) error {
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).Error("Failed to fetch message")
			continue
		}

		if err := c.settle(ctx, message, handler); err != nil {
			// Cancelled mid-retry: leave the offset so the group redelivers it.
			return err
		}
		c.commit(ctx, message)
	}
}

// settle returns an error only when ctx ends before the message is settled.
func (c *Consumer) settle(ctx context.Context, message kafka.Message, handler EventHandler) error {
	var event models.Event
	if err := json.Unmarshal(message.Value, &event); err != nil {
		logger.Log.WithError(err).WithField("offset", message.Offset).Error("Failed to unmarshal event")
		c.park(ctx, message, err)
		return nil
	}
	log := logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"offset":     message.Offset,
	})

	delay := c.backoff
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = handler(ctx, event)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSkip) {
			log.WithError(err).Debug("Event skipped")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Failed to process event")
		if attempt == c.attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	log.WithError(err).Error("Event exhausted its attempts")
	c.park(ctx, message, err)
	return nil
}

// park copies message to the dead-letter topic with the failure attached.
func (c *Consumer) park(ctx context.Context, message kafka.Message, cause error) {
	if c.deadLetter == nil {
		return
	}
	parked := kafka.Message{
		Key:   message.Key,
		Value: message.Value,
		Headers: append(append([]kafka.Header{}, message.Headers...),
			kafka.Header{Key: "dlq-error", Value: []byte(cause.Error())},
			kafka.Header{Key: "dlq-topic", Value: []byte(message.Topic)},
			kafka.Header{Key: "dlq-partition", Value: []byte(strconv.Itoa(message.Partition))},
			kafka.Header{Key: "dlq-offset", Value: []byte(strconv.FormatInt(message.Offset, 10))},
		),
	}
	if err := c.deadLetter.WriteMessages(ctx, parked); err != nil {
		logger.Log.WithError(err).WithField("offset", message.Offset).Error("Failed to park event on dead-letter topic")
	}
}

func (c *Consumer) commit(ctx context.Context, message kafka.Message) {
	if err := c.reader.CommitMessages(ctx, message); err != nil {
		logger.Log.WithError(err).Error("Failed to commit message")
	}
}

func (c *Consumer) Close() error {
	var err error
	if c.deadLetter != nil {
		err = c.deadLetter.Close()
	}
	if rerr := c.reader.Close(); rerr != nil {
		err = rerr
	}
	return err
}

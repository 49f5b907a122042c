package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

const (
	defaultRetryBackoff = 200 * time.Millisecond
	defaultMaxBackoff   = 10 * time.Second
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Returning an error means "try again later", so
// messages that can never succeed must be dropped by the handler itself.
type Handler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	r            messageReader
	retryBackoff time.Duration
	maxBackoff   time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		StartOffset:       kafka.FirstOffset,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxWait:           time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return newConsumerWithReader(kafka.NewReader(cfg))
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{
		r:            r,
		retryBackoff: defaultRetryBackoff,
		maxBackoff:   defaultMaxBackoff,
		sleep:        sleepCtx,
	}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume delivers messages in partition order and commits each one only after the
// handler accepted it. A failing message is retried with backoff and holds its partition
// until it succeeds or ctx is done.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := c.deliver(ctx, msg, handler); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, msg kafka.Message, handler Handler) error {
	backoff := c.retryBackoff
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg.Key, msg.Value)
		if err == nil {
			return nil
		}
		slog.Warn("kafka message not handled",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"attempt", attempt, "error", err.Error())
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

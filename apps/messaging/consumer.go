package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/events"
	"github.com/mahaj/chat-gateway/pkg/model"
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type indexer interface {
	Touch(ctx context.Context, msg model.Message) error
}

// Consumer folds the message journal into the conversation index.
type Consumer struct {
	reader  reader
	index   indexer
	timeout time.Duration
	log     *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, index indexer, timeout time.Duration, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, index: index, timeout: timeout, log: log}
}

// Consume runs until ctx is done. A record is committed once it has been
// indexed or found undecodable; index failures are retried.
func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("journal read failed, retrying", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		msg, err := events.Decode(m)
		if err != nil {
			c.log.Error("skipping undecodable record", zap.Int64("offset", m.Offset), zap.Error(err))
			c.commit(ctx, m)
			continue
		}

		for !c.handle(ctx, msg) {
			if !sleep(ctx, time.Second) {
				return
			}
		}
		c.commit(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, msg model.Message) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.index.Touch(ctx, msg); err != nil {
		c.log.Error("conversation index update failed", zap.String("message_id", msg.ID), zap.Error(err))
		return false
	}
	c.log.Debug("message indexed", zap.String("message_id", msg.ID), zap.String("type", string(msg.Type)))
	return true
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

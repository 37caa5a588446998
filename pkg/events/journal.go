// Package events publishes persisted chat messages to Kafka for downstream
// consumers, keyed by conversation so each conversation stays ordered.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/model"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Journal struct {
	w   writer
	log *zap.Logger
}

// NewJournal builds an async writer: Publish returns once the record is
// buffered and delivery failures are logged from the completion callback.
func NewJournal(brokers []string, topic string, log *zap.Logger) *Journal {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	w.Completion = func(msgs []kafka.Message, err error) {
		if err != nil {
			log.Error("journal delivery failed", zap.Int("messages", len(msgs)), zap.Error(err))
		}
	}
	return &Journal{w: w, log: log}
}

func (j *Journal) Publish(ctx context.Context, msg model.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode journal record")
	}
	err = j.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(model.ConversationKey(msg)),
		Value: value,
		Time:  msg.CreatedAt,
	})
	return errors.Wrap(err, "journal write")
}

// Close flushes buffered records.
func (j *Journal) Close() error {
	return j.w.Close()
}

// Decode parses a journal record back into a message.
func Decode(m kafka.Message) (model.Message, error) {
	var msg model.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return model.Message{}, errors.Wrapf(err, "decode journal record at offset %d", m.Offset)
	}
	return msg, nil
}

package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/chat-gateway/pkg/model"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	done      chan struct{}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	close(r.done)
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeIndex struct {
	fails   int
	touched []string
}

func (x *fakeIndex) Touch(_ context.Context, msg model.Message) error {
	if x.fails > 0 {
		x.fails--
		return errors.New("scylla timeout")
	}
	x.touched = append(x.touched, msg.ID)
	return nil
}

func record(t *testing.T, offset int64, msg model.Message) kafka.Message {
	v, err := json.Marshal(msg)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: v}
}

func TestConsumer_IndexesAndCommits(t *testing.T) {
	r := &fakeReader{done: make(chan struct{})}
	r.queue = []kafka.Message{
		record(t, 1, model.Message{ID: "a", Sender: "u1", Receiver: "u2", Type: model.TypePrivate}),
		{Offset: 2, Value: []byte("garbage")},
		record(t, 3, model.Message{ID: "b", Sender: "u1", Room: "r1", Type: model.TypeRoom}),
	}
	idx := &fakeIndex{}
	c := &Consumer{reader: r, index: idx, timeout: time.Second, log: zaptest.NewLogger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Consume(ctx)
		close(stopped)
	}()

	<-r.done
	cancel()
	<-stopped

	require.Equal(t, []string{"a", "b"}, idx.touched)
	require.Equal(t, []int64{1, 2, 3}, r.committed)
}

func TestConsumer_RetriesIndexFailure(t *testing.T) {
	r := &fakeReader{done: make(chan struct{})}
	r.queue = []kafka.Message{record(t, 1, model.Message{ID: "a", Type: model.TypePrivate})}
	idx := &fakeIndex{fails: 1}
	c := &Consumer{reader: r, index: idx, timeout: time.Second, log: zaptest.NewLogger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		c.Consume(ctx)
		close(stopped)
	}()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not retry")
	}
	cancel()
	<-stopped

	require.Equal(t, []string{"a"}, idx.touched)
	require.Equal(t, []int64{1}, r.committed)
}

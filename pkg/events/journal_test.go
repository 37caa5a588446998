package events

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/chat-gateway/pkg/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestJournal_Publish(t *testing.T) {
	w := &fakeWriter{}
	j := &Journal{w: w, log: zaptest.NewLogger(t)}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	msg := model.Message{ID: "42", Sender: "u2", Receiver: "u1", Body: "hi", Type: model.TypePrivate, CreatedAt: at}
	require.NoError(t, j.Publish(context.Background(), msg))
	require.NoError(t, j.Publish(context.Background(), model.Message{ID: "43", Sender: "u1", Room: "r1", Type: model.TypeRoom}))

	require.Len(t, w.msgs, 2)
	require.Equal(t, "dm:u1:u2", string(w.msgs[0].Key))
	require.Equal(t, "room:r1", string(w.msgs[1].Key))
	require.Equal(t, at, w.msgs[0].Time)

	decoded, err := Decode(w.msgs[0])
	require.NoError(t, err)
	require.Equal(t, msg, decoded)

	require.NoError(t, j.Close())
	require.True(t, w.closed)
}

func TestJournal_PublishError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	j := &Journal{w: w, log: zaptest.NewLogger(t)}
	require.ErrorContains(t, j.Publish(context.Background(), model.Message{ID: "1"}), "broker down")
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode(kafka.Message{Value: []byte("nope"), Offset: 7})
	require.ErrorContains(t, err, "offset 7")
}

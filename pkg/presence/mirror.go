package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/model"
)

type StatusWriter interface {
	WriteStatus(ctx context.Context, update model.PresenceUpdate, at time.Time) error
}

type mirrored struct {
	update model.PresenceUpdate
	at     time.Time
}

// Mirror copies presence transitions to an external StatusWriter from a
// single goroutine, so writes land in transition order. It never blocks the
// registry: when the queue is full the transition is dropped.
type Mirror struct {
	w       StatusWriter
	queue   chan mirrored
	timeout time.Duration
	log     *zap.Logger
}

func NewMirror(w StatusWriter, size int, timeout time.Duration, log *zap.Logger) *Mirror {
	return &Mirror{
		w:       w,
		queue:   make(chan mirrored, size),
		timeout: timeout,
		log:     log,
	}
}

func (m *Mirror) PresenceChanged(update model.PresenceUpdate) {
	select {
	case m.queue <- mirrored{update: update, at: time.Now().UTC()}:
	default:
		m.log.Warn("presence mirror queue full, dropping update",
			zap.String("user_id", update.UserID), zap.String("status", string(update.Status)))
	}
}

// Run drains the queue until ctx is done. Updates still queued at that
// point are written before Run returns.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case item := <-m.queue:
			m.write(item)
		case <-ctx.Done():
			for {
				select {
				case item := <-m.queue:
					m.write(item)
				default:
					return
				}
			}
		}
	}
}

func (m *Mirror) write(item mirrored) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.w.WriteStatus(ctx, item.update, item.at); err != nil {
		m.log.Error("presence mirror write failed", zap.String("user_id", item.update.UserID), zap.Error(err))
	}
}

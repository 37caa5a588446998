package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chat-gateway/pkg/model"
)

const (
	presenceKeyPrefix = "presence:"
	onlineSetKey      = "presence:online"
)

// Snapshot is the last mirrored state of a user.
type Snapshot struct {
	UserID    string       `json:"userId"`
	Status    model.Status `json:"status"`
	UpdatedAt time.Time    `json:"updatedAt,omitempty"`
}

// RedisStore keeps presence:<user> hashes plus a set of users not offline.
type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) WriteStatus(ctx context.Context, update model.PresenceUpdate, at time.Time) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, presenceKeyPrefix+update.UserID,
			"status", string(update.Status),
			"updated_at", at.Format(time.RFC3339Nano))
		if update.Status == model.StatusOffline {
			pipe.SRem(ctx, onlineSetKey, update.UserID)
		} else {
			pipe.SAdd(ctx, onlineSetKey, update.UserID)
		}
		return nil
	})
	return errors.Wrap(err, "redis presence write")
}

func (s *RedisStore) ReadStatus(ctx context.Context, userID string) (Snapshot, error) {
	vals, err := s.rdb.HGetAll(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "redis presence read")
	}
	snap := Snapshot{UserID: userID, Status: model.StatusOffline}
	if st, ok := vals["status"]; ok {
		snap.Status = model.Status(st)
	}
	if ts, ok := vals["updated_at"]; ok {
		snap.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts)
	}
	return snap, nil
}

func (s *RedisStore) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, onlineSetKey).Result()
	return users, errors.Wrap(err, "redis online users")
}

// Reset marks every mirrored user offline. The gateway calls it at startup,
// when its in-memory registry is empty and therefore authoritative.
func (s *RedisStore) Reset(ctx context.Context) error {
	users, err := s.OnlineUsers(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, u := range users {
		if err := s.WriteStatus(ctx, model.PresenceUpdate{UserID: u, Status: model.StatusOffline}, now); err != nil {
			return err
		}
	}
	return nil
}

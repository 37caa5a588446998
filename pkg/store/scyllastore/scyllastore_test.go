package scyllastore

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/snowflake"
	"github.com/mahaj/chat-gateway/pkg/store"
)

func TestMemberColumnsRoundTrip(t *testing.T) {
	members := []model.Member{{ID: "u1", Name: "Ana"}, {ID: "u2", Name: "Ben"}}
	ids, names := memberColumns(members)
	require.Equal(t, []string{"u1", "u2"}, ids)
	require.Equal(t, []string{"Ana", "Ben"}, names)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	row := roomRow{id: "r1", name: "design", createdBy: "u1", createdByName: "Ana", memberIDs: ids, memberNames: names, createdAt: created}
	room := row.room()
	require.Equal(t, members, room.Members)
	require.Equal(t, time.UTC, room.CreatedAt.Location())
}

func TestRoomRowToleratesShortNames(t *testing.T) {
	row := roomRow{id: "r1", memberIDs: []string{"u1", "u2"}, memberNames: []string{"Ana"}}
	require.Equal(t, []model.Member{{ID: "u1", Name: "Ana"}, {ID: "u2"}}, row.room().Members)
}

type fakeNames struct {
	claims    map[string]nameClaim
	rooms     map[string]model.Room
	insertErr error
	// releaseCtxErr records ctx.Err() seen by release.
	releaseCtxErr error
	releaseErr    error
}

func newFakeNames() *fakeNames {
	return &fakeNames{claims: map[string]nameClaim{}, rooms: map[string]model.Room{}}
}

func (f *fakeNames) claim(_ context.Context, name, id string, at time.Time) (bool, nameClaim, error) {
	if held, ok := f.claims[name]; ok {
		return false, held, nil
	}
	f.claims[name] = nameClaim{roomID: id, claimedAt: at}
	return true, nameClaim{}, nil
}

func (f *fakeNames) takeOver(_ context.Context, name, staleID, id string, at time.Time) (bool, error) {
	if f.claims[name].roomID != staleID {
		return false, nil
	}
	f.claims[name] = nameClaim{roomID: id, claimedAt: at}
	return true, nil
}

func (f *fakeNames) release(ctx context.Context, name, id string) error {
	f.releaseCtxErr = ctx.Err()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if f.claims[name].roomID == id {
		delete(f.claims, name)
	}
	return nil
}

func (f *fakeNames) roomExists(_ context.Context, id string) (bool, error) {
	_, ok := f.rooms[id]
	return ok, nil
}

func (f *fakeNames) insertRoom(_ context.Context, room model.Room) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.rooms[room.ID] = room
	return nil
}

func newNameStore(t *testing.T, names *fakeNames, clock *time.Time) (*Store, *observer.ObservedLogs) {
	ids, err := snowflake.NewNode(1)
	require.NoError(t, err)
	core, logs := observer.New(zap.InfoLevel)
	return &Store{ids: ids, names: names, now: func() time.Time { return *clock }, log: zap.New(core)}, logs
}

func TestCreateRoom_ReleasesNameOnExpiredContext(t *testing.T) {
	names := newFakeNames()
	clock := time.Now()
	s, _ := newNameStore(t, names, &clock)
	names.insertErr = context.DeadlineExceeded

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.CreateRoom(ctx, model.Room{Name: " design "})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, names.releaseCtxErr)
	require.Empty(t, names.claims)

	names.insertErr = nil
	room, err := s.CreateRoom(context.Background(), model.Room{Name: "design"})
	require.NoError(t, err)
	require.Equal(t, room.ID, names.claims["design"].roomID)
}

func TestCreateRoom_LogsFailedRelease(t *testing.T) {
	names := newFakeNames()
	clock := time.Now()
	s, logs := newNameStore(t, names, &clock)
	names.insertErr = errors.New("write timeout")
	names.releaseErr = errors.New("unavailable")

	_, err := s.CreateRoom(context.Background(), model.Room{Name: "design"})
	require.Error(t, err)
	require.Equal(t, 1, logs.FilterMessage("release room name").Len())
}

func TestCreateRoom_OrphanedName(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		live    bool
		wantErr error
	}{
		{"stale orphan is taken over", 2 * claimGrace, false, nil},
		{"fresh claim may still be inserting", claimGrace / 2, false, store.ErrConflict},
		{"name held by a live room", 2 * claimGrace, true, store.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := newFakeNames()
			clock := time.Now()
			s, _ := newNameStore(t, names, &clock)
			names.claims["design"] = nameClaim{roomID: "old", claimedAt: clock.Add(-tt.age)}
			if tt.live {
				names.rooms["old"] = model.Room{ID: "old", Name: "design"}
			}

			room, err := s.CreateRoom(context.Background(), model.Room{Name: "design"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, "old", names.claims["design"].roomID)
				return
			}
			require.NoError(t, err)
			require.Equal(t, room.ID, names.claims["design"].roomID)
			require.Contains(t, names.rooms, room.ID)
		})
	}
}

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/gateway"
	"github.com/mahaj/chat-gateway/pkg/model"
	"github.com/mahaj/chat-gateway/pkg/presence"
	"github.com/mahaj/chat-gateway/pkg/rooms"
	"github.com/mahaj/chat-gateway/pkg/store/memstore"
)

var secret = []byte("test-secret")

type testEnv struct {
	srv      *Server
	http     *httptest.Server
	registry *presence.Registry
	store    *memstore.Store
}

func newTestEnv(t *testing.T) *testEnv {
	log := zaptest.NewLogger(t)
	st := memstore.New()
	st.AddUser(model.User{ID: "u1", FirstName: "Ana"})
	st.AddUser(model.User{ID: "u2", FirstName: "Ben"})

	cfg := config.Gateway{MaxMessageSize: 4096, SendBuffer: 64}
	hub := gateway.NewHub(log)
	registry := presence.NewRegistry(log,
		presence.WithAwayWindow(time.Hour),
		presence.WithListener(presence.ListenerFunc(hub.PresenceListener())))
	svc := rooms.NewService(st, st, hub, rooms.ScopeGlobal, time.Second, log)
	router := gateway.NewRouter(hub, registry, svc, st, time.Second, log)
	verifier := auth.NewVerifier(secret, st, time.Second, log)

	srv := NewServer(context.Background(), cfg, verifier, router, hub, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.CloseAll(ctx)
		ts.Close()
	})
	return &testEnv{srv: srv, http: ts, registry: registry, store: st}
}

func (e *testEnv) dial(t *testing.T, userID string) *websocket.Conn {
	token, err := auth.GenerateToken(secret, userID, time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, payload any) {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(gateway.Envelope{Event: event, Data: data}))
}

// expect reads frames until one carries event, skipping the rest.
func expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env gateway.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			return env.Data
		}
	}
}

func TestHandshakeRejected(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"

	for name, query := range map[string]string{
		"no credential":  "",
		"bad credential": "?token=garbage",
	} {
		t.Run(name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(url+query, nil)
			require.Error(t, err)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	t.Run("unknown user", func(t *testing.T) {
		token, err := auth.GenerateToken(secret, "ghost", time.Hour)
		require.NoError(t, err)
		_, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
		require.Error(t, err)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
	require.Zero(t, env.registry.Online())
}

func TestEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "u1")
	b := env.dial(t, "u2")

	var online model.PresenceUpdate
	require.NoError(t, json.Unmarshal(expect(t, a, model.EventPresenceUpdate), &online))
	require.Equal(t, "u1", online.UserID)

	emit(t, a, model.EventCreateRoom, map[string]string{"roomName": "design"})
	var room model.Room
	require.NoError(t, json.Unmarshal(expect(t, b, model.EventRoomCreated), &room))

	emit(t, b, model.EventRoomMessage, map[string]string{"roomId": room.ID, "message": "hi"})
	var notice model.ErrorNotice
	require.NoError(t, json.Unmarshal(expect(t, b, model.EventError), &notice))
	require.Equal(t, "AuthorizationError:NotAMember", notice.Code)

	emit(t, a, model.EventAddMemberToRoom, map[string]string{"roomId": room.ID, "memberId": "u2"})
	expect(t, b, model.EventMemberAdded)

	emit(t, b, model.EventRoomMessage, map[string]string{"roomId": room.ID, "message": "hi"})
	var fromA, fromB model.Message
	require.NoError(t, json.Unmarshal(expect(t, a, model.EventRoomMessage), &fromA))
	require.NoError(t, json.Unmarshal(expect(t, b, model.EventRoomMessage), &fromB))
	require.Equal(t, fromA, fromB)
	require.Equal(t, "Ben", fromA.SenderName)

	emit(t, a, model.EventPrivateMessage, map[string]string{"toUserId": "u2", "message": "psst"})
	var dm model.Message
	require.NoError(t, json.Unmarshal(expect(t, b, model.EventPrivateMessage), &dm))
	require.Equal(t, "psst", dm.Body)
	require.True(t, dm.Delivered)

	resp, err := http.Get(env.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var report healthReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	require.Equal(t, 2, report.Connections)
	require.Equal(t, 2, report.Users)

	require.NoError(t, b.Close())
	var offline model.PresenceUpdate
	require.NoError(t, json.Unmarshal(expect(t, a, model.EventPresenceUpdate), &offline))
	for offline.UserID != "u2" || offline.Status != model.StatusOffline {
		require.NoError(t, json.Unmarshal(expect(t, a, model.EventPresenceUpdate), &offline))
	}
	require.Equal(t, model.StatusOffline, env.registry.Status("u2"))
}

func TestCloseAllDrivesUsersOffline(t *testing.T) {
	env := newTestEnv(t)
	a := env.dial(t, "u1")
	expect(t, a, model.EventPresenceUpdate)
	require.Eventually(t, func() bool { return env.registry.Online() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.srv.CloseAll(ctx))
	require.Zero(t, env.registry.Online())
	require.Equal(t, model.StatusOffline, env.registry.Status("u1"))
}

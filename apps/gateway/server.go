package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/config"
	"github.com/mahaj/chat-gateway/pkg/gateway"
)

// Server adapts websocket connections to the router.
type Server struct {
	cfg      config.Gateway
	verifier *auth.Verifier
	router   *gateway.Router
	hub      *gateway.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger

	// ctx is handed to every readPump; it outlives individual requests.
	ctx context.Context
	wg  sync.WaitGroup
}

func NewServer(ctx context.Context, cfg config.Gateway, verifier *auth.Verifier, router *gateway.Router, hub *gateway.Hub, log *zap.Logger) *Server {
	s := &Server{cfg: cfg, verifier: verifier, router: router, hub: hub, log: log, ctx: ctx}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	mux.HandleFunc("/health", s.health)
	return mux
}

type healthReport struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Users       int    `json:"users"`
	Rooms       int    `json:"rooms"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	conns, users, rooms := s.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthReport{Status: "ok", Connections: conns, Users: users, Rooms: rooms})
}

// CloseAll closes every live connection and waits until each one has gone
// through the disconnect path, or ctx ends.
func (s *Server) CloseAll(ctx context.Context) error {
	conns := s.hub.Conns()
	for _, c := range conns {
		c.Close()
	}
	s.log.Info("closing connections", zap.Int("count", len(conns)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

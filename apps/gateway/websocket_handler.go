package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/chaterr"
	"github.com/mahaj/chat-gateway/pkg/gateway"
	"github.com/mahaj/chat-gateway/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var errSlowConsumer = errors.New("send buffer full")

// Client is a middleman between the websocket connection and the router.
type Client struct {
	id   string
	user model.User
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, user model.User, buffer int) *Client {
	return &Client{
		id:   uuid.NewString(),
		user: user,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string       { return c.id }
func (c *Client) User() model.User { return c.user }

func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return gateway.ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return errSlowConsumer
	}
}

// Close tears down the socket; readPump then runs the disconnect path.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// readPump feeds frames to the router one at a time and disconnects the
// client when the socket ends.
func (s *Server) readPump(ctx context.Context, c *Client) {
	defer func() {
		s.router.Disconnect(c)
		c.Close()
		s.wg.Done()
	}()
	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		s.router.Handle(ctx, c, frame)
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origins := s.cfg.Origins()
	if len(origins) == 0 {
		return true
	}
	return lo.Contains(origins, r.Header.Get("Origin"))
}

// serveWs authenticates the handshake before upgrading, so a rejected
// client never gets a connection.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	user, err := s.verifier.Verify(r.Context(), auth.ExtractToken(r))
	if err != nil {
		status := http.StatusUnauthorized
		if chaterr.KindOf(err) == chaterr.KindStorage {
			status = http.StatusServiceUnavailable
		}
		s.log.Info("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, codeOf(err), status)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	client := newClient(conn, user, s.cfg.SendBuffer)
	s.wg.Add(1)
	s.router.Connect(client)

	go s.writePump(client)
	go s.readPump(s.ctx, client)
}

func codeOf(err error) string {
	if e, ok := chaterr.As(err); ok {
		return e.Code()
	}
	return "AuthError"
}

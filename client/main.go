// Command client is an interactive terminal client for the gateway.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/chat-gateway/pkg/auth"
	"github.com/mahaj/chat-gateway/pkg/gateway"
	"github.com/mahaj/chat-gateway/pkg/logger"
	"github.com/mahaj/chat-gateway/pkg/model"
)

const usage = `commands:
  /dm <user> <text>        private message
  /room <room> <text>      room message
  /create <name>           create a room
  /join <room>             subscribe this connection to a room
  /add <room> <user>       add a member
  /typing <user>           typing indicator
  /seen <message> <user>   mark a message seen
  /quit`

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "gateway service address")
	userID := flag.String("user", "", "user id to mint a token for")
	token := flag.String("token", "", "token to present (overrides -user)")
	secret := flag.String("secret", os.Getenv("SECRET_KEY"), "signing secret used with -user")
	flag.Parse()

	log := logger.New("info")
	defer log.Sync()

	if *token == "" {
		if *userID == "" || *secret == "" {
			log.Fatal("either -token or -user with -secret is required")
		}
		t, err := auth.GenerateToken([]byte(*secret), *userID, 24*time.Hour)
		if err != nil {
			log.Fatal("mint token", zap.Error(err))
		}
		*token = t
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws", RawQuery: url.Values{"token": {*token}}.Encode()}
	log.Info("connecting", zap.String("url", "ws://"+*serverAddr+"/ws"))

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial", zap.Error(err))
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env gateway.Envelope
			if err := c.ReadJSON(&env); err != nil {
				log.Info("connection closed", zap.Error(err))
				return
			}
			fmt.Printf("\r%s\n> ", render(env))
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	go func() {
		fmt.Println(usage)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "/quit" {
				interrupt <- os.Interrupt
				return
			}
			event, payload, ok := parse(line)
			if !ok {
				if line != "" {
					fmt.Println(usage)
				}
				fmt.Print("> ")
				continue
			}
			data, _ := json.Marshal(payload)
			if err := c.WriteJSON(gateway.Envelope{Event: event, Data: data}); err != nil {
				log.Warn("write", zap.Error(err))
				return
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Warn("write close", zap.Error(err))
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}

func parse(line string) (string, map[string]string, bool) {
	fields := strings.SplitN(line, " ", 3)
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	switch fields[0] {
	case "/dm":
		return model.EventPrivateMessage, map[string]string{"toUserId": arg(1), "message": arg(2)}, true
	case "/room":
		return model.EventRoomMessage, map[string]string{"roomId": arg(1), "message": arg(2)}, true
	case "/create":
		return model.EventCreateRoom, map[string]string{"roomName": strings.TrimSpace(strings.TrimPrefix(line, "/create"))}, true
	case "/join":
		return model.EventJoinRoom, map[string]string{"roomId": arg(1)}, true
	case "/add":
		return model.EventAddMemberToRoom, map[string]string{"roomId": arg(1), "memberId": arg(2)}, true
	case "/typing":
		return model.EventTyping, map[string]string{"to": arg(1)}, true
	case "/seen":
		return model.EventMessageSeen, map[string]string{"messageId": arg(1), "to": arg(2)}, true
	}
	return "", nil, false
}

func render(env gateway.Envelope) string {
	switch env.Event {
	case model.EventPrivateMessage, model.EventRoomMessage:
		var m model.Message
		if json.Unmarshal(env.Data, &m) == nil {
			where := "dm"
			if m.Room != "" {
				where = "#" + m.Room
			}
			return fmt.Sprintf("[%s] %s: %s (id %s)", where, m.SenderName, m.Body, m.ID)
		}
	case model.EventPresenceUpdate:
		var p model.PresenceUpdate
		if json.Unmarshal(env.Data, &p) == nil {
			return fmt.Sprintf("* %s is %s", p.UserID, p.Status)
		}
	case model.EventError:
		var e model.ErrorNotice
		if json.Unmarshal(env.Data, &e) == nil {
			return fmt.Sprintf("! %s: %s", e.Code, e.Message)
		}
	}
	return fmt.Sprintf("%s %s", env.Event, env.Data)
}

package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/coder/websocket"

	"github.com/rallyhouse/rally/pkg/bus"
)

// wsClientMessage is every op a client may send.
type wsClientMessage struct {
	Op             string   `json:"op"`
	Token          string   `json:"token,omitempty"`
	Topic          string   `json:"topic,omitempty"`
	Events         []string `json:"events,omitempty"`
	SubscriptionID string   `json:"subscription_id,omitempty"`
}

type wsServerMessage struct {
	Op             string `json:"op"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	ConnectionID   string `json:"connection_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// wsConn is one upgraded client connection. The read loop is the only
// goroutine that mutates it; event deliveries come from bus drain goroutines
// and only write to the socket, which coder/websocket serializes.
type wsConn struct {
	id     string
	conn   *websocket.Conn
	authed bool
	client string
	subs   map[string]bool // subscription ids owned by this connection
}

func (w *wsConn) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// runWS owns the read loop for one connection until it closes.
func (s *Server) runWS(ctx context.Context, w *wsConn) {
	defer s.bus.CloseConn(w.id)

	_ = w.send(ctx, wsServerMessage{Op: "connected", ConnectionID: w.id})

	for {
		_, data, err := w.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "invalid message"})
			continue
		}
		s.handleWSMessage(ctx, w, msg)
	}
}

func (s *Server) handleWSMessage(ctx context.Context, w *wsConn, msg wsClientMessage) {
	switch msg.Op {
	case "auth":
		client, ok := s.checkToken(msg.Token)
		if !ok {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "invalid token"})
			return
		}
		w.authed = true
		w.client = client
		_ = w.send(ctx, wsServerMessage{Op: "authenticated"})

	case "subscribe":
		if !w.authed {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "authenticate first"})
			return
		}
		if !validTopic(msg.Topic) {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "invalid topic"})
			return
		}
		subID, err := s.bus.Subscribe(w.id, msg.Topic, msg.Events, bus.SinkFunc(
			func(ctx context.Context, ev bus.Event) error {
				return w.send(ctx, ev)
			}))
		if err != nil {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "subscribe failed"})
			return
		}
		w.subs[subID] = true
		_ = w.send(ctx, wsServerMessage{Op: "subscribed", SubscriptionID: subID})

	case "unsubscribe":
		if msg.SubscriptionID == "" {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "subscription_id is required"})
			return
		}
		// Only subscriptions this connection created may be dropped.
		if !w.subs[msg.SubscriptionID] {
			_ = w.send(ctx, wsServerMessage{Op: "error", Message: "unknown subscription"})
			return
		}
		delete(w.subs, msg.SubscriptionID)
		s.bus.Unsubscribe(msg.SubscriptionID)
		_ = w.send(ctx, wsServerMessage{Op: "unsubscribed", SubscriptionID: msg.SubscriptionID})

	case "ping":
		_ = w.send(ctx, wsServerMessage{Op: "pong"})

	default:
		_ = w.send(ctx, wsServerMessage{Op: "error", Message: "unknown op"})
	}
}

func validTopic(topic string) bool {
	return strings.HasPrefix(topic, "session:") ||
		strings.HasPrefix(topic, "raid:") ||
		strings.HasPrefix(topic, "agent:")
}

package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// frame is the wire shape relayed between endpoints: the relay itself never
// looks inside Data.
type frame struct {
	Sender string `json:"sender"`
	Data   []byte `json:"data"`
}

// RelayChannel is a Channel backed by a relay server (cmd/relay): one
// websocket connection per subscribed topic, reconnecting on a ticker until
// unsubscribed. Publishing while disconnected fails and is reported to the
// caller; the sync protocol recovers through a later sync exchange.
type RelayChannel struct {
	baseURL *url.URL
	id      string

	mu   sync.Mutex
	subs map[string]*relaySub
}

type relaySub struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewRelayChannel creates a channel that connects to the relay at addr
// (host:port).
func NewRelayChannel(addr string) (*RelayChannel, error) {
	baseURL, err := url.Parse("ws://" + addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay address: %w", err)
	}
	return &RelayChannel{baseURL: baseURL, id: uuid.NewString(), subs: map[string]*relaySub{}}, nil
}

func (r *RelayChannel) ID() string { return r.id }

func (r *RelayChannel) Subscribe(topic string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[topic]; ok {
		return fmt.Errorf("already subscribed to %q", topic)
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &relaySub{cancel: cancel}
	r.subs[topic] = sub
	go r.readContinuously(ctx, topic, sub, h)
	return nil
}

func (r *RelayChannel) Unsubscribe(topic string) error {
	r.mu.Lock()
	sub, ok := r.subs[topic]
	delete(r.subs, topic)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("not subscribed to %q", topic)
	}
	sub.cancel()
	sub.mu.Lock()
	if sub.conn != nil {
		_ = sub.conn.Close()
	}
	sub.mu.Unlock()
	return nil
}

func (r *RelayChannel) Publish(topic string, data []byte) error {
	r.mu.Lock()
	sub, ok := r.subs[topic]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("not subscribed to %q", topic)
	}
	raw, err := json.Marshal(frame{Sender: r.id, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.conn == nil {
		return fmt.Errorf("not connected to relay")
	}
	if err := sub.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readContinuously dials the relay and pumps inbound frames to the handler,
// redialling after a short pause whenever the connection drops.
func (r *RelayChannel) readContinuously(ctx context.Context, topic string, sub *relaySub, h Handler) {
	for {
		if err := r.connectAndRead(ctx, topic, sub, h); err != nil && ctx.Err() == nil {
			slog.Error("relay connection failed", "topic", topic, "err", err)
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func (r *RelayChannel) connectAndRead(ctx context.Context, topic string, sub *relaySub, h Handler) error {
	u := r.baseURL.JoinPath("topics", topic, "ws")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	sub.mu.Lock()
	sub.conn = conn
	sub.mu.Unlock()
	defer func() {
		sub.mu.Lock()
		sub.conn = nil
		sub.mu.Unlock()
		_ = conn.Close()
	}()
	slog.Info("connected to relay", "topic", topic)

	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Error("discarding undecodable frame", "topic", topic, "err", err)
			continue
		}
		h(Message{Topic: topic, Sender: f.Sender, Data: f.Data})
	}
}

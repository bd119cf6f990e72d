// Package rt maintains the realtime websocket channel to the server. Inbound
// events are decoded and republished on the process bus; outbound sends are
// acknowledged request/response pairs keyed by request id.
package rt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"courier/internal/bus"
	"courier/internal/wire"
)

// ErrUnauthorized means the handshake was rejected for auth reasons. The
// caller must not retry with the same token.
var ErrUnauthorized = errors.New("realtime handshake unauthorized")

// ErrNotConnected is returned for sends while the channel is down.
var ErrNotConnected = errors.New("realtime channel not connected")

const (
	minBackoff   = time.Second
	maxBackoff   = 30 * time.Second
	readLimit    = 1 << 20
	ackWaitSlack = time.Second
)

// TokenSource supplies the bearer token for the handshake.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// envelope is the framing for every websocket message in both directions.
type envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OutgoingMessage is the payload for message:send. ClientID doubles as the
// server-side idempotency key.
type OutgoingMessage struct {
	ClientID  string `json:"clientId"`
	ChatID    string `json:"chatId"`
	Text      string `json:"text"`
	Type      string `json:"type"`
	ReplyTo   string `json:"replyTo,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type Adapter struct {
	url        string
	tokens     TokenSource
	bus        *bus.Bus
	log        *zap.Logger
	ackTimeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan envelope
	rooms     map[string]struct{}
	connected bool
}

func New(serverURL string, tokens TokenSource, b *bus.Bus, ackTimeout time.Duration, log *zap.Logger) *Adapter {
	return &Adapter{
		url:        wsURL(serverURL),
		tokens:     tokens,
		bus:        b,
		log:        log.Named("rt"),
		ackTimeout: ackTimeout,
		pending:    make(map[string]chan envelope),
		rooms:      make(map[string]struct{}),
	}
}

func wsURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/ws"
}

// Run connects and keeps the channel alive with backoff until the context is
// canceled. An unauthorized handshake aborts the loop; everything else is
// treated as transient.
func (a *Adapter) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := a.connectAndRead(ctx)
		if errors.Is(err, ErrUnauthorized) {
			a.bus.Publish(bus.Event{Kind: "rt.unauthorized"})
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("realtime channel lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (a *Adapter) connectAndRead(ctx context.Context) error {
	token, err := a.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.Dial(dialCtx, a.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	a.mu.Lock()
	a.conn = conn
	a.connected = true
	rooms := make([]string, 0, len(a.rooms))
	for id := range a.rooms {
		rooms = append(rooms, id)
	}
	a.mu.Unlock()

	a.log.Info("realtime channel connected", zap.String("url", a.url))
	for _, chatID := range rooms {
		if err := a.fire(ctx, "chat:join", map[string]string{"chatId": chatID}); err != nil {
			a.log.Warn("rejoin failed", zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	a.bus.Publish(bus.Event{Kind: "rt.connected"})

	err = a.readLoop(ctx, conn)

	a.mu.Lock()
	a.conn = nil
	a.connected = false
	for id, ch := range a.pending {
		close(ch)
		delete(a.pending, id)
	}
	a.mu.Unlock()
	a.bus.Publish(bus.Event{Kind: "rt.disconnected"})
	_ = conn.Close(websocket.StatusNormalClosure, "")

	status := websocket.CloseStatus(err)
	if status == websocket.StatusPolicyViolation {
		return ErrUnauthorized
	}
	return err
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		if env.RequestID != "" && (env.Event == "ack" || env.Event == "error") {
			a.resolve(env)
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) resolve(env envelope) {
	a.mu.Lock()
	ch, ok := a.pending[env.RequestID]
	if ok {
		delete(a.pending, env.RequestID)
	}
	a.mu.Unlock()
	if ok {
		ch <- env
	}
}

// Connected reports whether the channel is currently up.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// SendMessage transmits a queued message and waits for the server's ack,
// which carries the authoritative record.
func (a *Adapter) SendMessage(ctx context.Context, msg OutgoingMessage) (*wire.Message, error) {
	env, err := a.request(ctx, "message:send", msg)
	if err != nil {
		return nil, err
	}
	var wm wire.Message
	if err := json.Unmarshal(env.Data, &wm); err != nil {
		return nil, fmt.Errorf("decode send ack: %w", err)
	}
	return &wm, nil
}

// JoinChat subscribes to a chat's room. Membership survives reconnects.
func (a *Adapter) JoinChat(ctx context.Context, chatID string) error {
	a.mu.Lock()
	a.rooms[chatID] = struct{}{}
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return nil
	}
	return a.fire(ctx, "chat:join", map[string]string{"chatId": chatID})
}

// LeaveChat unsubscribes from a chat's room.
func (a *Adapter) LeaveChat(ctx context.Context, chatID string) error {
	a.mu.Lock()
	delete(a.rooms, chatID)
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return nil
	}
	return a.fire(ctx, "chat:leave", map[string]string{"chatId": chatID})
}

// MarkRead reports messages as read; the server fans the receipt out.
func (a *Adapter) MarkRead(ctx context.Context, chatID string, messageIDs []string) error {
	return a.fire(ctx, "message:read", map[string]any{"chatId": chatID, "messageIds": messageIDs})
}

// Typing reports a typing indicator change. Best effort.
func (a *Adapter) Typing(ctx context.Context, chatID string, typing bool) error {
	return a.fire(ctx, "typing", map[string]any{"chatId": chatID, "typing": typing})
}

// request sends an envelope and waits for its ack.
func (a *Adapter) request(ctx context.Context, event string, data any) (envelope, error) {
	id := uuid.NewString()
	ch := make(chan envelope, 1)

	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return envelope{}, ErrNotConnected
	}
	a.pending[id] = ch
	a.mu.Unlock()

	if err := a.write(ctx, envelope{Event: event, Data: marshal(data), RequestID: id}); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return envelope{}, err
	}

	timeout := a.ackTimeout
	if timeout <= 0 {
		timeout = ackWaitSlack
	}
	select {
	case env, ok := <-ch:
		if !ok {
			return envelope{}, ErrNotConnected
		}
		if env.Event == "error" {
			return envelope{}, fmt.Errorf("server rejected %s: %s", event, env.Error)
		}
		return env, nil
	case <-time.After(timeout):
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return envelope{}, fmt.Errorf("%s: ack timeout after %s", event, timeout)
	case <-ctx.Done():
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return envelope{}, ctx.Err()
	}
}

// fire sends an envelope without waiting for an ack.
func (a *Adapter) fire(ctx context.Context, event string, data any) error {
	return a.write(ctx, envelope{Event: event, Data: marshal(data)})
}

func (a *Adapter) write(ctx context.Context, env envelope) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func marshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}

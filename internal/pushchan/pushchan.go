// Package pushchan implements the real-time chat transport: a WebSocket
// carrying JSON event frames keyed by session id, with bounded reconnects.
package pushchan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/botctl/internal/chat"
	"github.com/tidwall/gjson"
)

// Event names of the wire protocol.
const (
	EventSessionRequest = "session_request"
	EventUserUttered    = "user_uttered"
	EventBotUttered     = "bot_uttered"
	EventBotTyping      = "bot_typing"
)

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = time.Second

	writeTimeout = 10 * time.Second
	eventBuffer  = 16
)

var (
	// ErrReconnectExhausted is delivered on Events when the connection was
	// lost and every reconnect attempt failed. The stream ends after it.
	ErrReconnectExhausted = errors.New("push channel: reconnect attempts exhausted")

	// ErrNotConnected indicates a send while no connection is established.
	ErrNotConnected = errors.New("push channel: not connected")
)

// Config configures a Channel.
type Config struct {
	URL          string
	SessionID    string
	Token        string // sent as bearer Authorization when set
	MaxAttempts  int
	InitialDelay time.Duration
	Dialer       *websocket.Dialer
	Logger       *slog.Logger
}

func (c *Config) withDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Channel is a push connection for one chat session.
type Channel struct {
	cfg    Config
	logger *slog.Logger
	events chan chat.Incoming

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex // guards conn and serialises writes
	conn *websocket.Conn

	closeOnce sync.Once
}

var _ chat.Source = (*Channel)(nil)

// Dial connects and announces the session. The returned channel reconnects
// on its own until Close is called or attempts run out.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.URL == "" {
		return nil, errors.New("push channel: url is required")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("push channel: session id is required")
	}
	cfg.withDefaults()

	c := &Channel{
		cfg:    cfg,
		logger: cfg.Logger.With("session_id", cfg.SessionID),
		events: make(chan chat.Incoming, eventBuffer),
		done:   make(chan struct{}),
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.readLoop()
	return c, nil
}

// Events streams replies, typing notifications and the terminal error.
func (c *Channel) Events() <-chan chat.Incoming {
	return c.events
}

// Send emits a user_uttered event for the session.
func (c *Channel) Send(ctx context.Context, text string) error {
	return c.write(ctx, frame{
		Event: EventUserUttered,
		Data: map[string]string{
			"message":    text,
			"session_id": c.cfg.SessionID,
		},
	})
}

// Close terminates the connection and waits for the reader to stop.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			err = c.conn.Close()
			c.conn = nil
		}
		c.mu.Unlock()
		<-c.done
	})
	return err
}

func (c *Channel) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	req := frame{Event: EventSessionRequest, Data: map[string]string{"session_id": c.cfg.SessionID}}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send session_request: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})
	return conn, nil
}

func (c *Channel) write(ctx context.Context, f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("send %s: %w", f.Event, err)
	}
	return nil
}

func (c *Channel) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		conn := c.current()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err == nil {
			c.dispatch(raw)
			continue
		}
		if c.ctx.Err() != nil {
			return
		}

		c.logger.Warn("push channel lost", "error", err)
		if err := c.reconnect(conn); err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Error("push channel gave up", "attempts", c.cfg.MaxAttempts, "error", err)
			c.publish(chat.Incoming{Err: fmt.Errorf("%w: %v", ErrReconnectExhausted, err)})
			return
		}
		c.logger.Info("push channel reconnected")
	}
}

// reconnect replaces a dead connection, retrying with exponential backoff.
func (c *Channel) reconnect(dead *websocket.Conn) error {
	c.mu.Lock()
	if c.conn == dead {
		c.conn = nil
	}
	c.mu.Unlock()
	dead.Close()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialDelay
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), c.ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		conn, err := c.connect(c.ctx)
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ctx.Err() != nil {
			conn.Close()
			return backoff.Permanent(c.ctx.Err())
		}
		c.conn = conn
		return nil
	}, b, func(err error, next time.Duration) {
		c.logger.Debug("push reconnect failed", "attempt", attempt, "retry_in", next, "error", err)
	})
}

// dispatch maps one frame onto an Incoming event. Unknown events are ignored.
func (c *Channel) dispatch(raw []byte) {
	if !gjson.ValidBytes(raw) {
		c.logger.Debug("dropping malformed frame", "size", len(raw))
		return
	}
	event := gjson.GetBytes(raw, "event").String()
	switch event {
	case EventBotUttered:
		text := gjson.GetBytes(raw, "data.text").String()
		if text == "" {
			return
		}
		c.publish(chat.Incoming{Text: text})
	case EventBotTyping:
		typing := gjson.GetBytes(raw, "data.typing")
		c.publish(chat.Incoming{Typing: !typing.Exists() || typing.Bool()})
	default:
		c.logger.Debug("ignoring push event", "event", event)
	}
}

func (c *Channel) publish(ev chat.Incoming) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// MarshalFrame encodes a protocol frame; exported for servers and tests.
func MarshalFrame(event string, data any) ([]byte, error) {
	return json.Marshal(frame{Event: event, Data: data})
}

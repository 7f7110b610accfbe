package roomly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Types
// ============================================================================

// AuthenticatedPayload is the first frame the server sends on a new connection.
type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// RealtimeCommand is a client-to-server frame.
type RealtimeCommand struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

const (
	frameAuthenticated = "authenticated"
	frameSubscribe     = "subscribe"
	frameUnsubscribe   = "unsubscribe"
	frameError         = "error"
	framePong          = "pong"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the websocket transport.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	HandshakeTimeout  time.Duration
	ReadLimit         int64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 1 << 20
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ============================================================================
// WebSocket Transport
// ============================================================================

// WebSocketTransport opens push connections over a websocket.
type WebSocketTransport struct {
	baseURL string
	config  RealtimeConfig
}

var _ Transport = (*WebSocketTransport)(nil)

func NewWebSocketTransport(baseURL string, config *RealtimeConfig) *WebSocketTransport {
	cfg := RealtimeConfig{}
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &WebSocketTransport{baseURL: strings.TrimRight(baseURL, "/"), config: cfg}
}

func (t *WebSocketTransport) wsURL(token string) string {
	u := strings.Replace(t.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + url.QueryEscape(token)
}

// Open dials the server and waits for the "authenticated" frame.
func (t *WebSocketTransport) Open(ctx context.Context, creds Credentials) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.wsURL(creds.Token), &websocket.DialOptions{
		HTTPClient: t.config.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(t.config.ReadLimit)

	hsCtx, cancel := context.WithTimeout(ctx, t.config.HandshakeTimeout)
	defer cancel()
	_, data, err := conn.Read(hsCtx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("read auth message: %w", err)
	}
	var first struct {
		Type    string               `json:"type"`
		Payload AuthenticatedPayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &first); err != nil || first.Type != frameAuthenticated {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("%w: expected %q, got %q", ErrUnexpectedHandshake, frameAuthenticated, first.Type)
	}

	hbCtx, hbCancel := context.WithCancel(context.Background())
	c := &wsConn{
		conn:   conn,
		log:    t.config.Logger.With("userId", first.Payload.UserID),
		cancel: hbCancel,
	}
	go c.heartbeatLoop(hbCtx, t.config.HeartbeatInterval, t.config.HeartbeatTimeout)
	return c, nil
}

type wsConn struct {
	conn      *websocket.Conn
	log       *slog.Logger
	cancel    context.CancelFunc
	closeOnce sync.Once
	writeMu   sync.Mutex
}

func (c *wsConn) Subscribe(ctx context.Context, topic string) error {
	return c.send(ctx, &RealtimeCommand{Type: frameSubscribe, Payload: map[string]string{"topic": topic}})
}

func (c *wsConn) Unsubscribe(ctx context.Context, topic string) error {
	return c.send(ctx, &RealtimeCommand{Type: frameUnsubscribe, Payload: map[string]string{"topic": topic}})
}

func (c *wsConn) send(ctx context.Context, cmd *RealtimeCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Read returns the next topic event. Control frames and malformed events are
// logged and skipped.
func (c *wsConn) Read(ctx context.Context) (Envelope, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return Envelope{}, err
		}
		env, err := NormalizeEnvelope(data)
		if err != nil {
			c.log.Warn("Dropping malformed frame", "error", err)
			continue
		}
		switch env.Type {
		case frameError:
			var p RealtimeErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			c.log.Warn("Server error frame", "message", p.Message)
			continue
		case framePong, frameAuthenticated:
			continue
		}
		if env.Topic == "" {
			c.log.Debug("Dropping event without topic", "type", env.Type)
			continue
		}
		return env, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
	})
	return err
}

// heartbeatLoop pings the server; a missed pong closes the connection, which
// surfaces as a read error in the channel's read loop.
func (c *wsConn) heartbeatLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				c.log.Warn("Heartbeat failed, closing connection", "error", err)
				c.conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/observability"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 20 * time.Second
	pongWait     = 10 * time.Second
)

// Config selects the upstream endpoint and credential for one session.
type Config struct {
	APIKey string
	URL    string
	Model  string
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.URL == "" {
		return fmt.Errorf("realtime: url is required")
	}
	return nil
}

// Client is a single upstream realtime session. One client serves one end
// user; sessions are never shared because the upstream conversation state
// (input buffer, response queue) is per-connection.
type Client struct {
	cfg     Config
	log     *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	conn   *websocket.Conn
	done   chan struct{}
	writes sync.Mutex

	hmu      sync.RWMutex
	handlers map[string][]Handler
}

// NewClient validates the configuration eagerly so a missing credential
// surfaces at startup rather than on the first conversation.
func NewClient(cfg Config, log *zap.Logger, metrics *observability.Metrics) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		handlers: make(map[string][]Handler),
	}, nil
}

// Connect dials the upstream endpoint, applies the baseline session
// configuration, and starts the read and liveness loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime: dial failed: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	c.log.Info("upstream session connected", zap.String("model", c.cfg.Model))

	if err := c.UpdateSession(DefaultSessionConfig()); err != nil {
		c.Disconnect()
		return fmt.Errorf("realtime: baseline session update: %w", err)
	}

	go c.listen(conn, done)
	go c.keepAlive(conn, done)
	return nil
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("realtime: bad url: %w", err)
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Disconnect closes the session. Safe to call repeatedly and from any
// goroutine, including event handlers.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	close(done)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	c.log.Info("upstream session closed")
}

// Connected reports whether the transport is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// OnEvent registers a handler for one upstream event type. Multiple handlers
// for the same type run in registration order, duplicates included. Handlers
// run on the read goroutine and must not block.
func (c *Client) OnEvent(eventType string, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// SendEvent transmits one event frame. A fresh event_id is stamped unless the
// payload already carries one.
func (c *Client) SendEvent(eventType string, payload map[string]any) error {
	frame := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		frame[k] = v
	}
	frame["type"] = eventType
	if _, ok := frame["event_id"]; !ok {
		frame["event_id"] = fmt.Sprintf("evt_%d", time.Now().UnixMicro())
	}

	data, err := sonic.Marshal(frame)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", eventType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writes.Lock()
	defer c.writes.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime: send %s: %w", eventType, err)
	}
	c.metrics.ObserveUpstreamEvent("out", eventType)
	return nil
}

// AppendAudio pushes raw audio into the upstream input buffer.
func (c *Client) AppendAudio(audio []byte) error {
	return c.SendEvent("input_audio_buffer.append", map[string]any{
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

// AppendAudioBase64 forwards audio that is already base64-encoded, avoiding a
// decode/re-encode round trip on the hot path.
func (c *Client) AppendAudioBase64(audio string) error {
	return c.SendEvent("input_audio_buffer.append", map[string]any{
		"audio": audio,
	})
}

// CommitInput closes the current input buffer so the model treats it as a
// finished user turn.
func (c *Client) CommitInput() error {
	return c.SendEvent("input_audio_buffer.commit", nil)
}

// ClearInput drops any buffered input audio.
func (c *Client) ClearInput() error {
	return c.SendEvent("input_audio_buffer.clear", nil)
}

// CancelResponse aborts the in-flight model response, if any.
func (c *Client) CancelResponse() error {
	return c.SendEvent("response.cancel", nil)
}

// UpdateSession sends the complete session configuration. The upstream
// replaces the whole session object, so cfg must always be fully populated.
func (c *Client) UpdateSession(cfg SessionConfig) error {
	return c.SendEvent("session.update", map[string]any{"session": cfg})
}

// CreateConversationItem injects an item into the conversation, typically a
// scripted assistant message to be spoken.
func (c *Client) CreateConversationItem(item ConversationItem) error {
	return c.SendEvent("conversation.item.create", map[string]any{"item": item})
}

// CreateResponse asks the model to produce a response now.
func (c *Client) CreateResponse(params ResponseParams) error {
	return c.SendEvent("response.create", map[string]any{"response": params})
}

func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				c.log.Warn("upstream read failed", zap.Error(err))
				c.Disconnect()
			}
			return
		}

		ev, err := ParseEvent(data)
		if err != nil {
			c.log.Warn("skipping unparsable upstream frame", zap.Error(err))
			continue
		}
		c.metrics.ObserveUpstreamEvent("in", ev.Type)
		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev Event) {
	c.hmu.RLock()
	handlers := c.handlers[ev.Type]
	c.hmu.RUnlock()

	if len(handlers) == 0 {
		c.log.Debug("no handler for upstream event", zap.String("type", ev.Type))
		return
	}
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("event handler panicked",
						zap.String("event_type", ev.Type),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

func (c *Client) keepAlive(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writes.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait))
			c.writes.Unlock()
			if err != nil {
				c.log.Warn("upstream ping failed", zap.Error(err))
				c.Disconnect()
				return
			}
		}
	}
}

package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/protocol"
)

const (
	// DefaultReconnectDelay is the fixed wait between a close and the next dial
	DefaultReconnectDelay = 5 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 10 * time.Second
)

// ErrNotConnected is returned by Send while no channel is open
var ErrNotConnected = errors.New("not connected")

// Handler receives channel notifications. Calls for one connection arrive in
// order: HandleOpen, any number of HandleMessage, then HandleClose.
type Handler interface {
	HandleOpen()
	HandleMessage(frame []byte)
	HandleClose(err error)
}

// Config holds connection settings
type Config struct {
	// URL is the WebSocket endpoint, e.g. "wss://images.example.com/ws/master"
	URL string

	// TLSConfig is used for wss:// endpoints. May be nil.
	TLSConfig *tls.Config

	// ReconnectDelay defaults to DefaultReconnectDelay
	ReconnectDelay time.Duration

	HandshakeTimeout time.Duration
}

// Conn maintains one logical channel to the server. After a close, or a failed
// dial, it schedules exactly one reconnect after a fixed delay and keeps doing
// so until the context passed to Start is cancelled.
type Conn struct {
	cfg     Config
	handler Handler
	dialer  *websocket.Dialer
	logger  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	ws      *websocket.Conn
	dialing bool
	stopped bool

	writeMu sync.Mutex
}

// NewConn creates a connection manager. Nothing is dialled until Start.
func NewConn(cfg Config, handler Handler) *Conn {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Conn{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  cfg.TLSConfig,
			Subprotocols:     []string{protocol.Subprotocol},
		},
		logger: log.WithComponent("client"),
		ctx:    context.Background(),
	}
}

// MasterURL derives the WebSocket endpoint from a server base URL.
// http and https map to ws and wss respectively.
func MasterURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("failed to parse server URL: %w", err)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", server)
	}

	u.Path = strings.TrimRight(u.Path, "/") + protocol.MasterPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// Start dials in the background. Cancelling ctx closes the channel and stops
// all further reconnects.
func (c *Conn) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	go c.connect()
	go func() {
		<-ctx.Done()
		c.Close()
	}()
}

// Connected reports whether a channel is currently open
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Send JSON-encodes v and writes it as one text frame. Without an open
// channel it returns ErrNotConnected and nothing is queued.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Close closes the open channel, if any, and disables reconnects
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		return nil
	}

	c.writeMu.Lock()
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return ws.Close()
}

// connect performs one dial attempt. Reconnect timers are never cancelled, so
// a timer may fire while a channel is already open or being dialled; such an
// attempt is logged and skipped.
func (c *Conn) connect() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.ws != nil || c.dialing {
		c.mu.Unlock()
		c.logger.Warn().Str("url", c.cfg.URL).Msg("Skipping duplicate connect, channel already open")
		return
	}
	c.dialing = true
	ctx := c.ctx
	c.mu.Unlock()

	ws, err := c.dial(ctx)

	c.mu.Lock()
	c.dialing = false
	if err == nil && c.stopped {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	if err == nil {
		c.ws = ws
	}
	stopped := c.stopped
	c.mu.Unlock()

	if err != nil {
		if stopped {
			return
		}
		c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("Failed to connect")
		metrics.UpdateComponent(metrics.ComponentConnection, false, err.Error())
		c.scheduleReconnect()
		return
	}

	c.logger.Info().Str("url", c.cfg.URL).Msg("Connected")
	metrics.Connected.Set(1)
	metrics.UpdateComponent(metrics.ComponentConnection, true, "connected to "+c.cfg.URL)

	c.handler.HandleOpen()
	go c.readLoop(ws)
}

// Probe dials cfg.URL once, checks that the sub-protocol was accepted and
// closes the connection again. No handler is involved and nothing is retried.
func Probe(ctx context.Context, cfg Config) error {
	c := NewConn(cfg, nil)
	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	return ws.Close()
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: HTTP %d: %w", c.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}

	if ws.Subprotocol() != protocol.Subprotocol {
		_ = ws.Close()
		return nil, fmt.Errorf("server did not accept sub-protocol %q", protocol.Subprotocol)
	}
	return ws, nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(ws, err)
			return
		}
		c.handler.HandleMessage(frame)
	}
}

func (c *Conn) handleClose(ws *websocket.Conn, err error) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	stopped := c.stopped
	c.mu.Unlock()

	_ = ws.Close()
	metrics.Connected.Set(0)

	if stopped {
		c.logger.Info().Str("url", c.cfg.URL).Msg("Connection closed")
		metrics.UpdateComponent(metrics.ComponentConnection, false, "closed")
	} else {
		c.logger.Warn().Err(err).Str("url", c.cfg.URL).Msg("Connection lost")
		metrics.UpdateComponent(metrics.ComponentConnection, false, err.Error())
	}

	c.handler.HandleClose(err)

	if !stopped {
		c.scheduleReconnect()
	}
}

func (c *Conn) scheduleReconnect() {
	metrics.ReconnectsTotal.Inc()
	c.logger.Info().
		Dur("delay", c.cfg.ReconnectDelay).
		Str("url", c.cfg.URL).
		Msg("Scheduling reconnect")
	time.AfterFunc(c.cfg.ReconnectDelay, c.connect)
}

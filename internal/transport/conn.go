// Package transport provides an auto-reconnecting websocket client that
// reports open, message, close and error events and owns the heartbeat loop.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/askstream/internal/domain"
	"github.com/ashureev/askstream/internal/metrics"
	"github.com/ashureev/askstream/internal/timer"
	"github.com/coder/websocket"
)

var (
	// ErrNotConnected is returned by Send while no socket is open.
	ErrNotConnected = errors.New("socket not connected")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("socket closed")
)

const heartbeatKey = "heartbeat"

// Handlers receive connection events. They are invoked from transport
// goroutines and must not block.
type Handlers struct {
	OnOpen    func()
	OnMessage func(raw []byte)
	OnClose   func(reason string)
	OnError   func(err error)
}

// Socket is one logical connection that survives reconnects.
type Socket interface {
	Send(ctx context.Context, text string) error
	Close() error
}

// Config holds transport configuration.
type Config struct {
	HeartbeatInterval    time.Duration
	DialTimeout          time.Duration
	WriteTimeout         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 means unlimited
	ReadLimit            int64
}

// DefaultConfig returns default transport configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    30 * time.Second,
		DialTimeout:          10 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReconnectBaseDelay:   1 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: 10,
		ReadLimit:            1 << 20,
	}
}

func (c *Config) defaults() {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = d.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = d.ReconnectMaxDelay
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = d.ReadLimit
	}
}

// Dialer opens Sockets.
type Dialer struct {
	cfg    Config
	logger *slog.Logger
}

// NewDialer creates a dialer.
func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &Dialer{cfg: cfg, logger: logger}
}

// Dial starts connecting to endpoint in the background and returns
// immediately. OnOpen fires on every successful (re)connect.
func (d *Dialer) Dial(ctx context.Context, endpoint, token string, h Handlers) (Socket, error) {
	target, err := socketURL(endpoint, token)
	if err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &Conn{
		url:    target,
		cfg:    d.cfg,
		logger: d.logger,
		h:      h,
		timers: timer.NewRegistry(nil),
		recon:  newReconnector(d.cfg),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(connCtx)
	return c, nil
}

func socketURL(endpoint, token string) (string, error) {
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse socket endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("unsupported socket scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Conn is a reconnecting websocket connection.
type Conn struct {
	url    string
	cfg    Config
	logger *slog.Logger
	h      Handlers
	timers *timer.Registry
	recon  *reconnector

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

// exited is closed once the connection loop has returned.
func (c *Conn) exited() <-chan struct{} {
	return c.done
}

// Send writes a text frame on the current socket.
func (c *Conn) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	ws, closed := c.ws, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if ws == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()
	if err := ws.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		return fmt.Errorf("socket write: %w", err)
	}
	return nil
}

// Close stops reconnecting and closes the current socket. It does not wait
// for the connection loop; use Done for that.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.timers.Stop()
	c.cancel()

	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, "client closed"); err != nil {
			c.logger.Debug("Socket close returned error", "error", err)
		}
	}
	return nil
}

func (c *Conn) run(ctx context.Context) {
	defer close(c.done)
	defer c.timers.Stop()

	for {
		ws, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.emitClose("client closed")
				return
			}
			c.logger.Warn("Socket dial failed", "error", err)
			c.emitError(fmt.Errorf("dial: %w", err))
			if !c.waitReconnect(ctx) {
				c.emitClose("reconnect attempts exhausted")
				return
			}
			continue
		}

		if !c.attach(ws) {
			_ = ws.Close(websocket.StatusNormalClosure, "client closed")
			c.emitClose("client closed")
			return
		}
		c.recon.markConnected()
		c.startHeartbeat()
		c.logger.Debug("Socket open", "url", redact(c.url))
		c.emitOpen()

		reason := c.readLoop(ctx, ws)

		c.timers.CancelKey(heartbeatKey)
		c.detach(ws)

		if ctx.Err() != nil {
			c.emitClose("client closed")
			return
		}
		c.emitClose(reason)
		if !c.waitReconnect(ctx) {
			return
		}
	}
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(c.cfg.ReadLimit)
	return ws, nil
}

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ws = ws
	return true
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == ws {
		c.ws = nil
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn) string {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				c.logger.Debug("Socket closed by server", "status", status)
				return fmt.Sprintf("closed by server: %d", status)
			}
			if ctx.Err() == nil {
				c.logger.Warn("Socket read error", "error", err)
				c.emitError(fmt.Errorf("read: %w", err))
			}
			return err.Error()
		}
		if c.h.OnMessage != nil {
			c.h.OnMessage(data)
		}
	}
}

func (c *Conn) startHeartbeat() {
	if c.cfg.HeartbeatInterval <= 0 {
		return
	}
	c.timers.ScheduleRepeating(heartbeatKey, c.cfg.HeartbeatInterval, func() {
		if err := c.Send(context.Background(), domain.HeartbeatPing); err != nil {
			metrics.HeartbeatFailuresTotal.Inc()
			c.logger.Debug("Heartbeat send failed", "error", err)
		}
	})
}

func (c *Conn) waitReconnect(ctx context.Context) bool {
	if !c.recon.shouldReconnect() {
		c.logger.Warn("Socket reconnect attempts exhausted", "attempts", c.recon.attempt)
		return false
	}
	delay := c.recon.nextDelay()
	metrics.ReconnectsTotal.Inc()
	c.logger.Info("Socket reconnecting", "attempt", c.recon.attempt, "delay", delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Conn) emitOpen() {
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}
}

func (c *Conn) emitClose(reason string) {
	if c.h.OnClose != nil {
		c.h.OnClose(reason)
	}
}

func (c *Conn) emitError(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

// redact strips the token query parameter for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

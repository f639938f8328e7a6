package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ChannelState is reported to the state callback on every transition.
type ChannelState int

const (
	// StateConnected means the WebSocket handshake completed.
	StateConnected ChannelState = iota
	// StateDisconnected means a dial failed or an open connection dropped.
	StateDisconnected
)

// String returns a human-readable representation of the state.
func (s ChannelState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ChannelConfig holds configuration for the persistent channel.
type ChannelConfig struct {
	// URL is the ws:// or wss:// address of the server's channel endpoint.
	URL string

	// Identity is sent as handshake headers and query parameters.
	Identity Identity

	// ReconnectDelay is the constant wait before redialing (default 5s).
	ReconnectDelay time.Duration

	// DialTimeout bounds each connection attempt (default 10s).
	DialTimeout time.Duration

	// ReadLimit caps a single inbound message in bytes (default 4 MiB).
	ReadLimit int64

	// Logger for channel activity.
	Logger *log.Logger
}

// DefaultChannelConfig returns sensible defaults.
func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		ReconnectDelay: 5 * time.Second,
		DialTimeout:    10 * time.Second,
		ReadLimit:      4 << 20,
		Logger:         log.New(os.Stderr, "[transport] ", log.LstdFlags),
	}
}

// MessageHandler receives every message read from the channel.
type MessageHandler func(Message)

// StateHandler receives connection state transitions. err is set when a
// disconnect was caused by a failure.
type StateHandler func(state ChannelState, err error)

// Channel maintains the persistent connection to the server.
//
// A single goroutine dials, reads until the connection drops, waits
// ReconnectDelay and dials again. Close stops it and cancels any pending
// reconnect timer.
type Channel struct {
	config    *ChannelConfig
	onMessage MessageHandler
	onState   StateHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	started   bool
	closed    bool
	dials     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel creates a channel. Call Start to begin connecting.
func NewChannel(config *ChannelConfig, onMessage MessageHandler, onState StateHandler) (*Channel, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("channel URL cannot be empty")
	}
	defaults := DefaultChannelConfig()
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = defaults.ReadLimit
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if onMessage == nil {
		onMessage = func(Message) {}
	}
	if onState == nil {
		onState = func(ChannelState, error) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		config:    config,
		onMessage: onMessage,
		onState:   onState,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start launches the connect loop. Calling Start more than once, or after
// Close, does nothing.
func (c *Channel) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true

	c.wg.Add(1)
	go c.run()
}

// Close shuts the connection and stops reconnecting. Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	c.wg.Wait()
	return nil
}

// Connected reports whether the channel currently has an open connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Dials returns how many connection attempts have been made.
func (c *Channel) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

func (c *Channel) run() {
	defer c.wg.Done()

	for {
		err := c.connectAndRead()
		if c.ctx.Err() != nil {
			return
		}
		c.config.Logger.Printf("Channel disconnected: %v (reconnecting in %v)", err, c.config.ReconnectDelay)
		c.onState(StateDisconnected, err)

		timer := time.NewTimer(c.config.ReconnectDelay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectAndRead dials once and reads until the connection fails.
func (c *Channel) connectAndRead() error {
	c.mu.Lock()
	c.dials++
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(c.ctx, c.config.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.dialURL(), &websocket.DialOptions{
		HTTPHeader: c.headers(),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.config.URL, err)
	}
	conn.SetReadLimit(c.config.ReadLimit)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		return c.ctx.Err()
	}
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.config.Logger.Printf("Channel connected to %s", c.config.URL)
	c.onState(StateConnected, nil)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.connected = false
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			return fmt.Errorf("channel read failed: %w", err)
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.config.Logger.Printf("Warning: dropping malformed channel message: %v", err)
			continue
		}
		c.onMessage(msg)
	}
}

func (c *Channel) headers() http.Header {
	h := http.Header{}
	h.Set(HeaderUserID, c.config.Identity.UserID)
	h.Set(HeaderDeviceID, c.config.Identity.DeviceID)
	h.Set(HeaderPlatform, string(c.config.Identity.Platform))
	return h
}

// dialURL appends identity query parameters for servers that cannot read
// handshake headers (browser clients can't set them).
func (c *Channel) dialURL() string {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return c.config.URL
	}
	q := u.Query()
	q.Set("userId", c.config.Identity.UserID)
	q.Set("deviceId", c.config.Identity.DeviceID)
	q.Set("platform", string(c.config.Identity.Platform))
	u.RawQuery = q.Encode()
	return u.String()
}

package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/config"
	"github.com/nicknochnack/whisperd/logger"
)

const (
	websocketRetryDelay = 200 * time.Millisecond
	maxWriteRetries     = 3
)

// Conn represents one live websocket connection. Group and session identity
// are populated by the load handler and stay empty for connections that
// disconnect before finishing it.
type Conn struct {
	ID          string
	conn        *websocket.Conn
	ctx         context.Context
	cfg         *config.WebSocketConfig
	claims      *CustomClaims
	perspective chat.Role

	groupID   string
	sessionID string

	lastActivity  atomic.Int64
	pingTicker    *time.Ticker
	activityTimer *time.Timer
	cancel        context.CancelFunc
	mu            sync.Mutex
}

// NewConn creates a connection wrapper around an upgraded websocket.
func NewConn(id string, conn *websocket.Conn, cfg *config.WebSocketConfig, claims *CustomClaims) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ID:          id,
		conn:        conn,
		cfg:         cfg,
		claims:      claims,
		perspective: chat.RoleClient,
		cancel:      cancel,
		ctx:         ctx,
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

// Bind records the identity the load handler resolved for this connection.
func (c *Conn) Bind(groupID, sessionID string, perspective chat.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupID = groupID
	c.sessionID = sessionID
	c.perspective = perspective
}

// Binding returns the connection's group and session, empty until bound.
func (c *Conn) Binding() (groupID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groupID, c.sessionID
}

// Perspective returns the surface role this connection renders for.
func (c *Conn) Perspective() chat.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perspective
}

// SafeWriteJSON writes data to the websocket with retry capability.
func (c *Conn) SafeWriteJSON(data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	operation := func() error {
		return c.conn.WriteJSON(data)
	}

	backoffStrategy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(websocketRetryDelay), maxWriteRetries),
		c.ctx,
	)

	return backoff.RetryNotify(operation, backoffStrategy, func(err error, d time.Duration) {
		logger.Warn("retrying websocket write", "conn", c.ID, "error", err, "next_attempt_in", d)
	})
}

// UpdateActivity updates the last activity timestamp and resets the timeout
// timer. Only called for actual client actions, not pong responses.
func (c *Conn) UpdateActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastActivity.Store(time.Now().Unix())

	if c.activityTimer != nil {
		c.activityTimer.Stop()
		c.activityTimer = time.AfterFunc(
			time.Duration(c.cfg.ActivityTimeout)*time.Second,
			c.onActivityTimeout,
		)
	}
}

// LastActivityTime returns the time of last activity.
func (c *Conn) LastActivityTime() time.Time {
	return time.Unix(c.lastActivity.Load(), 0)
}

func (c *Conn) StartTimers() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.activityTimer = time.AfterFunc(
		time.Duration(c.cfg.ActivityTimeout)*time.Second,
		c.onActivityTimeout,
	)

	c.pingTicker = time.NewTicker(
		time.Duration(c.cfg.PingInterval) * time.Second,
	)
	go c.pingLoop()
}

func (c *Conn) pingLoop() {
	defer c.pingTicker.Stop()

	for {
		select {
		case <-c.pingTicker.C:
			if err := c.SendPing(); err != nil {
				logger.Warn("failed to send ping", "conn", c.ID, "error", err)
				c.Close(websocket.CloseInternalServerErr, "Ping failure")
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) onActivityTimeout() {
	logger.Info("connection timed out", "conn", c.ID)
	c.Close(websocket.ClosePolicyViolation, "Inactivity timeout")
}

func (c *Conn) SendPing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn.WriteControl(
		websocket.PingMessage,
		[]byte{},
		time.Now().Add(time.Duration(c.cfg.WriteTimeout)*time.Second),
	)
}

// UpdateLastSeen updates only the timestamp (for pong responses); it does not
// reset the activity timer.
func (c *Conn) UpdateLastSeen() {
	c.lastActivity.Store(time.Now().Unix())
}

// GetPongHandler returns a pong handler function based on configuration.
func (c *Conn) GetPongHandler() func(string) error {
	return func(msg string) error {
		if c.cfg.KeepAlive {
			c.UpdateActivity()
		} else {
			c.UpdateLastSeen()
		}
		return nil
	}
}

// Close closes the websocket connection.
func (c *Conn) Close(code int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pingTicker != nil {
		c.pingTicker.Stop()
	}
	if c.activityTimer != nil {
		c.activityTimer.Stop()
	}

	if c.cancel != nil {
		c.cancel()
	}

	writeTimeout := time.Duration(c.cfg.WriteTimeout) * time.Second
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeTimeout),
	)
	if err != nil {
		logger.Debug("error sending close message", "conn", c.ID, "error", err)
	}

	return c.conn.Close()
}

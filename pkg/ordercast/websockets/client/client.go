// Package client implements the dashboard side of the ordercast
// protocol: a WebSocket client that subscribes to one restaurant's order
// events, dispatches them to registered handlers, and transparently
// reconnects with a bounded fixed-interval retry policy. UI code works
// entirely through Connect/Disconnect/Send/On/Off and never touches the
// underlying connection.
package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dishly/ordercast/pkg/ordercast"
)

// State is the connection state of the client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// EventHandler is invoked for every inbound message whose type it was
// registered for. Handlers run synchronously on the read goroutine, in
// registration order.
type EventHandler func(msg ordercast.Message)

// HandlerID identifies one registered handler so it can be removed with
// Off. Go func values are not comparable, so removal is by id rather
// than by the handler itself.
type HandlerID int

type handlerEntry struct {
	id HandlerID
	fn EventHandler
}

type dialFunc func(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error)

func defaultDial(ctx context.Context, url string, opts *websocket.DialOptions) (*websocket.Conn, *http.Response, error) {
	return websocket.Dial(ctx, url, opts)
}

// Client maintains one logical session with an ordercast server. After
// a successful connect it subscribes to the configured restaurant; when
// the connection drops it retries at a fixed interval up to the
// configured number of attempts, re-subscribing after each reconnect.
// Once the attempt budget is exhausted it stays disconnected until
// Connect is called again.
type Client struct {
	url                  string
	logger               *zap.Logger
	dialTimeout          time.Duration
	reconnectInterval    time.Duration
	maxReconnectAttempts int
	writeChannelSize     int
	dial                 dialFunc

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connCtx        context.Context
	connCancel     context.CancelFunc
	baseCtx        context.Context
	restaurantID   string
	attempts       int
	reconnectTimer *time.Timer
	stopped        bool
	writeChannel   chan []byte

	handlersMu sync.Mutex
	handlers   map[string][]handlerEntry
	nextID     HandlerID
}

// Connect establishes the connection and, when restaurantID is not
// empty, subscribes to that restaurant's order events. The context
// governs this session: reconnection dials derive from it.
//
// If the initial dial fails the error is returned AND the retry policy
// starts, exactly as it would for a drop after a successful connect.
func (c *Client) Connect(ctx context.Context, restaurantID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("client is already %s", state)
	}
	// A retry from an earlier failure cycle may still be armed; cancel
	// it so this session is the only one dialing.
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopped = false
	c.attempts = 0
	c.baseCtx = ctx
	c.restaurantID = restaurantID
	c.mu.Unlock()

	return c.connect()
}

// connect performs one connection attempt. Called by Connect and by the
// reconnection timer.
func (c *Client) connect() error {
	c.mu.Lock()
	if c.stopped || c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	baseCtx := c.baseCtx
	restaurantID := c.restaurantID
	c.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(baseCtx, c.dialTimeout)
	conn, _, err := c.dial(dialCtx, c.url, nil)
	dialCancel()
	if err != nil {
		c.logger.Warn("Failed to connect WebSocket",
			zap.String("url", c.url),
			zap.Error(err),
		)
		c.enterDisconnected()
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.stopped {
		// Disconnect raced the dial; drop the fresh connection.
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	connCtx, connCancel := context.WithCancel(baseCtx)
	c.conn = conn
	c.connCtx = connCtx
	c.connCancel = connCancel
	c.writeChannel = make(chan []byte, c.writeChannelSize)
	c.state = StateConnected
	c.attempts = 0
	writeChannel := c.writeChannel
	c.mu.Unlock()

	c.logger.Info("WebSocket connected", zap.String("url", c.url))

	if restaurantID != "" {
		if err := c.Send(ordercast.SubscribeMessage{RestaurantID: restaurantID}); err != nil {
			c.logger.Warn("Failed to queue subscribe message", zap.Error(err))
		}
	}

	go c.readLoop(connCtx, conn)
	go c.writeLoop(connCtx, conn, writeChannel)

	return nil
}

// Disconnect tears the session down: it cancels any pending reconnect
// timer, closes the connection and clears all registered handlers.
// No automatic reconnection happens afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.stopped = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}

	c.handlersMu.Lock()
	c.handlers = make(map[string][]handlerEntry)
	c.handlersMu.Unlock()

	c.logger.Info("WebSocket client disconnected")
	return nil
}

// Send encodes msg and queues it for delivery. Returns an error when the
// client is not connected or the outbound buffer is full.
func (c *Client) Send(msg ordercast.Message) error {
	data, err := ordercast.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	c.mu.Lock()
	writeChannel := c.writeChannel
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || writeChannel == nil {
		return fmt.Errorf("client is not connected")
	}

	select {
	case writeChannel <- data:
		return nil
	default:
		return fmt.Errorf("write channel is full")
	}
}

// On registers handler for inbound messages of the given type (e.g.
// ordercast.MessageTypeNewOrder). Multiple handlers per type are allowed
// and run in registration order. The returned id removes the handler
// via Off.
func (c *Client) On(msgType string, handler EventHandler) HandlerID {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextID++
	id := c.nextID
	c.handlers[msgType] = append(c.handlers[msgType], handlerEntry{id: id, fn: handler})
	return id
}

// Off removes a handler previously registered with On. Removing an
// unknown id is a no-op.
func (c *Client) Off(msgType string, id HandlerID) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	entries := c.handlers[msgType]
	for i, entry := range entries {
		if entry.id == id {
			c.handlers[msgType] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(c.handlers[msgType]) == 0 {
		delete(c.handlers, msgType)
	}
}

// State returns the current connection state. After the reconnection
// budget is exhausted this stays StateDisconnected, which the UI can
// surface as a persistent "disconnected" affordance.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// readLoop processes inbound frames until the connection fails or the
// session is cancelled.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("WebSocket read failed", zap.Error(err))
			}
			c.handleConnectionLoss(conn)
			return
		}

		msg, err := ordercast.DecodeMessage(data)
		if err != nil {
			c.logger.Warn("Failed to parse inbound message", zap.Error(err))
			continue
		}

		c.dispatch(msg)
	}
}

// writeLoop drains the outbound queue onto the socket.
func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn, writeChannel chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-writeChannel:
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("WebSocket write failed", zap.Error(err))
				}
				c.handleConnectionLoss(conn)
				return
			}
		}
	}
}

// dispatch invokes the handlers registered for the message's type, in
// registration order. A panicking handler is contained so the remaining
// handlers still run.
func (c *Client) dispatch(msg ordercast.Message) {
	msgType := ordercast.MessageType(msg)

	c.handlersMu.Lock()
	entries := make([]handlerEntry, len(c.handlers[msgType]))
	copy(entries, c.handlers[msgType])
	c.handlersMu.Unlock()

	for _, entry := range entries {
		c.invoke(msgType, entry, msg)
	}
}

func (c *Client) invoke(msgType string, entry handlerEntry, msg ordercast.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event handler panicked",
				zap.String("message_type", msgType),
				zap.Any("panic", r),
			)
		}
	}()
	entry.fn(msg)
}

// handleConnectionLoss transitions to disconnected once per connection,
// regardless of whether the read or the write side noticed first, and
// starts the retry policy unless Disconnect was explicit.
func (c *Client) handleConnectionLoss(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// Stale notification from a connection already replaced or torn
		// down.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	c.state = StateDisconnected
	stopped := c.stopped
	c.mu.Unlock()

	conn.Close(websocket.StatusInternalError, "connection lost")

	if !stopped {
		c.scheduleReconnect()
	}
}

// enterDisconnected is the failed-dial path into the retry policy.
func (c *Client) enterDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	stopped := c.stopped
	c.mu.Unlock()

	if !stopped {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms the reconnection timer when attempts remain.
// The attempt counter is incremented here, before the attempt runs, so
// an exhausted budget can never arm another timer.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if c.attempts >= c.maxReconnectAttempts {
		c.logger.Error("Max reconnection attempts reached, giving up",
			zap.Int("attempts", c.attempts),
		)
		return
	}

	c.attempts++
	attempt := c.attempts
	c.logger.Info("Scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.maxReconnectAttempts),
		zap.Duration("delay", c.reconnectInterval),
	)

	c.reconnectTimer = time.AfterFunc(c.reconnectInterval, func() {
		if err := c.connect(); err != nil {
			c.logger.Warn("Reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
	})
}

package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dishly/ordercast/pkg/ordercast"
)

// Connection handles one dashboard WebSocket connection: it decodes
// inbound control messages, records the subscription in the registry,
// and forwards broadcast frames to the client.
//
// Connection implements ordercast.Receiver. All writes to the socket go
// through a single sender goroutine fed by the outbound channel, which
// keeps frame order per connection and lets Push stay non-blocking.
type Connection struct {
	ctx      context.Context
	conn     *websocket.Conn
	registry *ordercast.Registry
	logger   *zap.Logger
	config   *ListenerConfig

	// Restaurant recorded by the last accepted subscribe. Written only
	// by the reader goroutine, read after the reader has returned.
	restaurantID string

	outbound chan []byte
	done     chan struct{}

	cleanupOnce sync.Once
}

func newConnection(ctx context.Context, conn *websocket.Conn, config *ListenerConfig) *Connection {
	return &Connection{
		ctx:      ctx,
		conn:     conn,
		registry: config.registry,
		logger:   config.logger,
		config:   config,
		outbound: make(chan []byte, config.queueSize),
		done:     make(chan struct{}),
	}
}

// Start runs the connection until it closes: the sender goroutine drains
// outbound frames while the reader runs in the calling goroutine.
func (c *Connection) Start() {
	c.logger.Debug("Starting WebSocket connection handler")

	go c.frameSender()

	c.messageReader()

	c.logger.Debug("WebSocket connection handler stopping")
	c.cleanup()
}

// Push implements ordercast.Receiver. It enqueues an already-serialized
// frame for delivery and never blocks: when the connection is closed or
// its buffer is full the frame is refused and the broadcaster moves on.
func (c *Connection) Push(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- data:
		return true
	default:
		return false
	}
}

// frameSender serializes all socket writes through one goroutine and
// sends periodic pings for connection health.
func (c *Connection) frameSender() {
	defer c.logger.Debug("Frame sender stopped")

	var pingChan <-chan time.Time
	if c.config.pingInterval > 0 {
		pingTicker := time.NewTicker(c.config.pingInterval)
		defer pingTicker.Stop()
		pingChan = pingTicker.C
	}

	for {
		select {
		case data := <-c.outbound:
			if err := c.writeFrame(data); err != nil {
				c.logger.Debug("Failed to send WebSocket frame", zap.Error(err))
				if websocket.CloseStatus(err) != -1 {
					return
				}
				// Transient write error: keep the connection, later
				// frames may still go through.
			}

		case <-pingChan:
			pingCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug("Ping failed, stopping sender", zap.Error(err))
				return
			}

		case <-c.done:
			return

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) writeFrame(data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, c.config.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// messageReader reads client frames until the connection closes. A
// malformed frame is logged and skipped; it never terminates the
// connection or affects other connections.
func (c *Connection) messageReader() {
	defer c.logger.Debug("Message reader stopped")

	c.conn.SetReadLimit(32768)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(c.ctx, c.config.readTimeout)
		_, data, err := c.conn.Read(readCtx)
		cancel()
		if err != nil {
			if closeStatus := websocket.CloseStatus(err); closeStatus != -1 {
				c.logger.Debug("WebSocket closed by client",
					zap.Int("close_status", int(closeStatus)),
				)
			} else {
				c.logger.Debug("WebSocket read failed", zap.Error(err))
			}
			return
		}

		if len(data) == 0 {
			continue
		}

		msg, err := ordercast.DecodeMessage(data)
		if err != nil {
			var unknown *ordercast.ErrUnknownMessageType
			if errors.As(err, &unknown) {
				// Clients only subscribe; anything else is ignored.
				c.logger.Debug("Ignoring message of unhandled type",
					zap.String("type", unknown.Type),
				)
			} else {
				c.logger.Warn("Failed to parse incoming WebSocket message",
					zap.Error(err),
					zap.Int("data_length", len(data)),
				)
			}
			continue
		}

		c.handleMessage(msg)
	}
}

// handleMessage dispatches one decoded inbound message. The switch is
// exhaustive over the client-to-server protocol; server-to-client kinds
// arriving here are ignored.
func (c *Connection) handleMessage(msg ordercast.Message) {
	switch m := msg.(type) {
	case ordercast.SubscribeMessage:
		c.handleSubscribe(m)
	case ordercast.SubscribedMessage, ordercast.NewOrderMessage, ordercast.OrderUpdatedMessage:
		c.logger.Debug("Ignoring server-to-client message from client",
			zap.String("type", ordercast.MessageType(msg)),
		)
	}
}

func (c *Connection) handleSubscribe(msg ordercast.SubscribeMessage) {
	if msg.RestaurantID == "" {
		c.logger.Warn("Subscribe without restaurant id, ignoring")
		return
	}

	c.restaurantID = msg.RestaurantID
	c.registry.Subscribe(c, msg.RestaurantID)

	ack, err := ordercast.EncodeMessage(ordercast.SubscribedMessage{RestaurantID: msg.RestaurantID})
	if err != nil {
		c.logger.Error("Failed to encode subscribed ack", zap.Error(err))
		return
	}
	if !c.Push(ack) {
		c.logger.Warn("Outbound buffer full, dropping subscribed ack",
			zap.String("restaurant_id", msg.RestaurantID),
		)
	}
}

// cleanup removes the connection's subscription and closes the socket.
// Safe to call more than once.
func (c *Connection) cleanup() {
	c.cleanupOnce.Do(func() {
		close(c.done)

		if c.restaurantID != "" {
			c.registry.Unsubscribe(c, c.restaurantID)
		}

		err := c.conn.Close(websocket.StatusNormalClosure, "connection closed")
		if err != nil {
			// Expected when the peer closed first or shutdownClose ran.
			c.logger.Debug("WebSocket close error", zap.Error(err))
		}
	})
}

// shutdownClose closes the socket with a specific code during graceful
// shutdown. The reader exits on the close and normal cleanup follows.
func (c *Connection) shutdownClose(code websocket.StatusCode, reason string) {
	if err := c.conn.Close(code, reason); err != nil {
		c.logger.Debug("Error closing WebSocket during shutdown", zap.Error(err))
	}
}

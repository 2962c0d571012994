package server

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dishly/ordercast/pkg/ordercast"
)

// ListenerConfig holds the configuration for creating a WebSocket
// Listener. Use NewListenerConfig() and chain the With methods, then
// call Build().
type ListenerConfig struct {
	registry     *ordercast.Registry
	logger       *zap.Logger
	queueSize    int
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

const (
	// DefaultQueueSize is the per-connection outbound frame buffer.
	// Frames beyond it are dropped rather than blocking the broadcaster.
	DefaultQueueSize = 256

	// DefaultPingInterval is the interval for WebSocket ping frames used
	// to detect dead connections.
	DefaultPingInterval = 30 * time.Second

	// DefaultReadTimeout bounds a single read from a client. Only a data
	// frame from the client resets it, so a dashboard that never sends
	// anything is cycled at this cadence and comes back through its
	// reconnect logic.
	DefaultReadTimeout = 60 * time.Second

	// DefaultWriteTimeout bounds a single write so a slow or dead client
	// is detected quickly.
	DefaultWriteTimeout = 10 * time.Second
)

// NewListenerConfig creates a ListenerConfig with default timeouts and
// queue size. Registry and Logger are required.
//
// Example:
//
//	listener, err := server.NewListenerConfig().
//	    WithRegistry(registry).
//	    WithLogger(logger).
//	    WithQueueSize(512).
//	    Build()
func NewListenerConfig() *ListenerConfig {
	return &ListenerConfig{
		queueSize:    DefaultQueueSize,
		pingInterval: DefaultPingInterval,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
}

// WithRegistry sets the connection registry subscriptions are recorded in.
func (c *ListenerConfig) WithRegistry(registry *ordercast.Registry) *ListenerConfig {
	c.registry = registry
	return c
}

// WithLogger sets the logger used for connection lifecycle and errors.
func (c *ListenerConfig) WithLogger(logger *zap.Logger) *ListenerConfig {
	c.logger = logger
	return c
}

// WithQueueSize sets the per-connection outbound buffer size. Larger
// values absorb bigger bursts at the cost of memory. Non-positive values
// are ignored.
func (c *ListenerConfig) WithQueueSize(size int) *ListenerConfig {
	if size > 0 {
		c.queueSize = size
	}
	return c
}

// WithPingInterval sets the ping frame interval. Zero disables pings.
// Negative values are ignored.
func (c *ListenerConfig) WithPingInterval(interval time.Duration) *ListenerConfig {
	if interval >= 0 {
		c.pingInterval = interval
	}
	return c
}

// WithReadTimeout sets the per-read deadline for client messages.
func (c *ListenerConfig) WithReadTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.readTimeout = timeout
	}
	return c
}

// WithWriteTimeout sets the per-write deadline for outbound frames.
func (c *ListenerConfig) WithWriteTimeout(timeout time.Duration) *ListenerConfig {
	if timeout > 0 {
		c.writeTimeout = timeout
	}
	return c
}

// IsValid checks that all required parameters are set.
func (c *ListenerConfig) IsValid() error {
	var missing []string
	if c.registry == nil {
		missing = append(missing, "Registry")
	}
	if c.logger == nil {
		missing = append(missing, "Logger")
	}

	if len(missing) > 0 {
		return fmt.Errorf("invalid listener configuration, missing: %v", missing)
	}

	return nil
}

// Build creates a Listener from the configuration. Returns an error if
// the Registry or Logger is missing.
func (c *ListenerConfig) Build() (*Listener, error) {
	if err := c.IsValid(); err != nil {
		return nil, err
	}

	return newListener(c), nil
}

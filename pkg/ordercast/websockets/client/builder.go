package client

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultReconnectInterval is the fixed delay between reconnection
	// attempts after the connection drops.
	DefaultReconnectInterval = 5 * time.Second

	// DefaultMaxReconnectAttempts bounds automatic reconnection. Once
	// reached the client stays disconnected until Connect is called
	// again explicitly.
	DefaultMaxReconnectAttempts = 5

	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = 30 * time.Second

	// DefaultWriteChannelSize is the outbound message buffer.
	DefaultWriteChannelSize = 100
)

// ClientBuilder provides a fluent interface for building order event
// clients.
type ClientBuilder struct {
	url                  string
	logger               *zap.Logger
	dialTimeout          time.Duration
	reconnectInterval    time.Duration
	maxReconnectAttempts int
	writeChannelSize     int
}

// NewClient creates a new client builder with default timings.
func NewClient() *ClientBuilder {
	return &ClientBuilder{
		logger:               zap.NewNop(),
		dialTimeout:          DefaultDialTimeout,
		reconnectInterval:    DefaultReconnectInterval,
		maxReconnectAttempts: DefaultMaxReconnectAttempts,
		writeChannelSize:     DefaultWriteChannelSize,
	}
}

// WithURL sets the WebSocket URL to connect to (e.g. "ws://host/ws").
func (b *ClientBuilder) WithURL(url string) *ClientBuilder {
	b.url = url
	return b
}

// WithLogger sets the logger for the client. Nil is ignored.
func (b *ClientBuilder) WithLogger(logger *zap.Logger) *ClientBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithDialTimeout sets the timeout for establishing the connection.
func (b *ClientBuilder) WithDialTimeout(timeout time.Duration) *ClientBuilder {
	if timeout > 0 {
		b.dialTimeout = timeout
	}
	return b
}

// WithReconnectInterval sets the fixed delay before each automatic
// reconnection attempt.
func (b *ClientBuilder) WithReconnectInterval(interval time.Duration) *ClientBuilder {
	if interval > 0 {
		b.reconnectInterval = interval
	}
	return b
}

// WithMaxReconnectAttempts sets how many automatic reconnection attempts
// are made before the client gives up. Zero disables automatic
// reconnection entirely; negative values are ignored.
func (b *ClientBuilder) WithMaxReconnectAttempts(attempts int) *ClientBuilder {
	if attempts >= 0 {
		b.maxReconnectAttempts = attempts
	}
	return b
}

// WithWriteChannelSize sets the outbound message buffer size.
func (b *ClientBuilder) WithWriteChannelSize(size int) *ClientBuilder {
	if size > 0 {
		b.writeChannelSize = size
	}
	return b
}

// Build creates a new Client with the configured options.
func (b *ClientBuilder) Build() (*Client, error) {
	if b.url == "" {
		return nil, fmt.Errorf("URL is required")
	}

	return &Client{
		url:                  b.url,
		logger:               b.logger,
		dialTimeout:          b.dialTimeout,
		reconnectInterval:    b.reconnectInterval,
		maxReconnectAttempts: b.maxReconnectAttempts,
		writeChannelSize:     b.writeChannelSize,
		dial:                 defaultDial,
		handlers:             make(map[string][]handlerEntry),
	}, nil
}

// Package server accepts dashboard WebSocket connections and wires them
// into the connection registry so broadcast events reach the clients
// watching each restaurant.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/dishly/ordercast/pkg/ordercast"
)

// Listener upgrades HTTP requests to WebSocket connections and manages
// their lifecycle. Plug ServeWebsocket into any router at the /ws path.
type Listener struct {
	registry *ordercast.Registry
	logger   *zap.Logger
	config   *ListenerConfig

	// Connection tracking for graceful shutdown
	connections  map[*Connection]struct{}
	connMutex    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func newListener(config *ListenerConfig) *Listener {
	return &Listener{
		registry:    config.registry,
		logger:      config.logger,
		config:      config,
		connections: make(map[*Connection]struct{}),
		shutdown:    make(chan struct{}),
	}
}

// ServeWebsocket handles an incoming HTTP request by upgrading it to a
// WebSocket connection and running the connection until it closes.
func (l *Listener) ServeWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		l.logger.Error("Failed to accept WebSocket connection",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
		return
	}

	select {
	case <-l.shutdown:
		l.logger.Debug("Rejecting new connection due to shutdown")
		conn.Close(websocket.StatusServiceRestart, "server shutting down")
		return
	default:
	}

	connection := newConnection(r.Context(), conn, l.config)

	l.connMutex.Lock()
	l.connections[connection] = struct{}{}
	connCount := len(l.connections)
	l.connMutex.Unlock()

	l.logger.Debug("WebSocket connection established",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)

	connection.Start()

	l.connMutex.Lock()
	delete(l.connections, connection)
	connCount = len(l.connections)
	l.connMutex.Unlock()

	l.logger.Debug("WebSocket connection finished",
		zap.String("remote_addr", r.RemoteAddr),
		zap.Int("active_connections", connCount),
	)
}

// Shutdown stops accepting connections and closes the active ones with
// StatusGoingAway, then waits for them to finish or ctx to expire.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.logger.Info("Starting graceful WebSocket shutdown")

		close(l.shutdown)

		l.connMutex.RLock()
		connections := make([]*Connection, 0, len(l.connections))
		for conn := range l.connections {
			connections = append(connections, conn)
		}
		l.connMutex.RUnlock()

		for _, conn := range connections {
			go conn.shutdownClose(websocket.StatusGoingAway, "server shutting down")
		}
	})

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.connMutex.RLock()
			remaining := len(l.connections)
			l.connMutex.RUnlock()

			if remaining > 0 {
				l.logger.Warn("Shutdown timeout reached with active connections",
					zap.Int("remaining_connections", remaining),
				)
			}
			return ctx.Err()

		case <-ticker.C:
			l.connMutex.RLock()
			remaining := len(l.connections)
			l.connMutex.RUnlock()

			if remaining == 0 {
				l.logger.Info("All WebSocket connections closed")
				return nil
			}
		}
	}
}

// ConnectionCount returns the number of active WebSocket connections.
func (l *Listener) ConnectionCount() int {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return len(l.connections)
}

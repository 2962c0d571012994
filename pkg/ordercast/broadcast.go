package ordercast

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dishly/ordercast/pkg/ordercast/o11y"
)

// Broadcaster is the single entry point the order-mutation layer uses to
// push events to dashboards. It serializes each event once and hands the
// frame to every receiver currently subscribed to the order's restaurant.
//
// Delivery is best-effort and at-most-once: there is no retry and no
// queue beyond each connection's own outbound buffer. Callers must invoke
// OrderCreated / OrderUpdated only after the underlying write succeeded,
// so clients never observe an event for a write that might still fail.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger

	// Observability (nil if not configured)
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider

	eventCounter     o11y.Counter
	dropCounter      o11y.Counter
	latencyHistogram o11y.Histogram
}

// NewBroadcaster creates a Broadcaster over registry with no
// instrumentation.
func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	return NewBroadcasterWithObservability(registry, logger, nil)
}

// NewBroadcasterWithObservability creates a Broadcaster that records
// metrics and spans through the given providers. A nil config or nil
// providers disable the corresponding instrumentation.
func NewBroadcasterWithObservability(registry *Registry, logger *zap.Logger, obs *o11y.Config) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broadcaster{
		registry: registry,
		logger:   logger,
	}

	if obs != nil {
		b.metricsProvider = obs.MetricsProvider
		b.tracingProvider = obs.TracingProvider
	}
	if b.metricsProvider != nil {
		b.eventCounter = b.metricsProvider.Counter("ordercast_events_broadcast_total")
		b.dropCounter = b.metricsProvider.Counter("ordercast_deliveries_dropped_total")
		b.latencyHistogram = b.metricsProvider.Histogram("ordercast_broadcast_duration_seconds")
	}

	return b
}

// OrderCreated pushes a new_order event to every dashboard watching the
// order's restaurant. Call it only after the order has been persisted.
func (b *Broadcaster) OrderCreated(ctx context.Context, order *Order) error {
	return b.broadcast(ctx, order.RestaurantID, NewOrderMessage{Order: order})
}

// OrderUpdated pushes an order_updated event to every dashboard watching
// the order's restaurant. Call it only after the update has been
// persisted.
func (b *Broadcaster) OrderUpdated(ctx context.Context, order *Order) error {
	return b.broadcast(ctx, order.RestaurantID, OrderUpdatedMessage{Order: order})
}

func (b *Broadcaster) broadcast(ctx context.Context, restaurantID string, msg Message) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	msgType := MessageType(msg)

	if b.tracingProvider != nil {
		var span o11y.Span
		ctx, span = b.tracingProvider.StartSpan(ctx, "ordercast.broadcast")
		defer span.End()

		span.SetAttributes(
			o11y.Label{Key: "restaurant_id", Value: restaurantID},
			o11y.Label{Key: "message_type", Value: msgType},
		)
	}

	data, err := EncodeMessage(msg)
	if err != nil {
		// Should not happen for protocol messages; contain it here so a
		// bad payload never aborts the caller's request handling.
		b.logger.Error("Failed to encode broadcast message",
			zap.Error(err),
			zap.String("message_type", msgType),
		)
		return err
	}

	receivers := b.registry.Deliver(restaurantID)
	delivered := 0
	for _, r := range receivers {
		if r.Push(data) {
			delivered++
			continue
		}
		// Receiver closed or backed up: skip it, its own close event
		// removes it from the registry.
		b.logger.Warn("Dropped delivery to slow or closed receiver",
			zap.String("restaurant_id", restaurantID),
			zap.String("message_type", msgType),
		)
		if b.dropCounter != nil {
			b.dropCounter.Add(ctx, 1, o11y.Label{Key: "restaurant_id", Value: restaurantID})
		}
	}

	if b.eventCounter != nil {
		b.eventCounter.Add(ctx, 1,
			o11y.Label{Key: "restaurant_id", Value: restaurantID},
			o11y.Label{Key: "message_type", Value: msgType},
		)
	}
	if b.latencyHistogram != nil {
		b.latencyHistogram.Record(ctx, time.Since(start).Seconds(),
			o11y.Label{Key: "message_type", Value: msgType})
	}

	b.logger.Debug("Broadcast complete",
		zap.String("restaurant_id", restaurantID),
		zap.String("message_type", msgType),
		zap.Int("receivers", len(receivers)),
		zap.Int("delivered", delivered),
	)

	return nil
}

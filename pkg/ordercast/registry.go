package ordercast

import (
	"sync"

	"go.uber.org/zap"
)

// Receiver is the delivery end of one live dashboard connection.
// Push hands the receiver an already-serialized frame and must not block;
// it reports whether the frame was accepted. A receiver that refuses a
// frame (closed, or its queue is full) is simply skipped for that
// broadcast and cleans itself up through its own close path.
type Receiver interface {
	Push(data []byte) bool
}

// Registry is the authoritative mapping from restaurant id to the set of
// live connections subscribed to it. It is the only shared mutable state
// in the broadcast path; all mutation goes through Subscribe and
// Unsubscribe. Construct one per server process and pass it by reference
// to the WebSocket listener and the order-mutation layer.
type Registry struct {
	mu           sync.RWMutex
	byRestaurant map[string]map[Receiver]struct{}
	restaurantOf map[Receiver]string
	logger       *zap.Logger
}

// NewRegistry creates an empty Registry. A nil logger is replaced with a
// no-op logger.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byRestaurant: make(map[string]map[Receiver]struct{}),
		restaurantOf: make(map[Receiver]string),
		logger:       logger,
	}
}

// Subscribe registers r under restaurantID. Subscribing the same receiver
// to the same restaurant twice is a no-op (set semantics). A receiver
// subscribed to a different restaurant is moved: the previous membership
// is evicted before the new one is added, so a receiver is never fanned
// out to from more than one restaurant.
func (reg *Registry) Subscribe(r Receiver, restaurantID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if prev, ok := reg.restaurantOf[r]; ok {
		if prev == restaurantID {
			return
		}
		reg.removeLocked(r, prev)
	}

	set, ok := reg.byRestaurant[restaurantID]
	if !ok {
		set = make(map[Receiver]struct{})
		reg.byRestaurant[restaurantID] = set
	}
	set[r] = struct{}{}
	reg.restaurantOf[r] = restaurantID

	reg.logger.Debug("Receiver subscribed",
		zap.String("restaurant_id", restaurantID),
		zap.Int("subscribers", len(set)),
	)
}

// Unsubscribe removes r from restaurantID's set. Unsubscribing a receiver
// that was never subscribed is a no-op, not an error. When the last
// receiver for a restaurant leaves, the restaurant's entry is removed
// entirely so the map does not accumulate empty sets.
func (reg *Registry) Unsubscribe(r Receiver, restaurantID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.removeLocked(r, restaurantID)
}

func (reg *Registry) removeLocked(r Receiver, restaurantID string) {
	set, ok := reg.byRestaurant[restaurantID]
	if !ok {
		return
	}
	if _, ok := set[r]; !ok {
		return
	}

	delete(set, r)
	delete(reg.restaurantOf, r)
	if len(set) == 0 {
		delete(reg.byRestaurant, restaurantID)
	}

	reg.logger.Debug("Receiver unsubscribed",
		zap.String("restaurant_id", restaurantID),
		zap.Int("subscribers", len(set)),
	)
}

// Deliver returns a snapshot of the receivers currently subscribed to
// restaurantID, or nil if there are none. Read-only; the caller iterates
// the snapshot without holding any registry lock, so a slow receiver
// never blocks subscription changes. No ordering is guaranteed among the
// returned receivers.
func (reg *Registry) Deliver(restaurantID string) []Receiver {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	set, ok := reg.byRestaurant[restaurantID]
	if !ok {
		return nil
	}

	receivers := make([]Receiver, 0, len(set))
	for r := range set {
		receivers = append(receivers, r)
	}
	return receivers
}

// Restaurants returns the number of restaurants with at least one live
// subscriber.
func (reg *Registry) Restaurants() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byRestaurant)
}

// Receivers returns the number of live subscribers for restaurantID.
func (reg *Registry) Receivers(restaurantID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.byRestaurant[restaurantID])
}

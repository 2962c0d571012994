// Package storage provides the persistence layer for the order service.
// The broadcast path never touches it; the HTTP API writes here first
// and broadcasts only after a write succeeded. The in-memory
// implementation is the reference store; any database can stand in
// behind the Store interface.
package storage

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dishly/ordercast/pkg/ordercast"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role values for users.
const (
	RoleSuperAdmin      = "super_admin"
	RoleRestaurantOwner = "restaurant_owner"
)

// User is a dashboard account. Password holds the bcrypt hash, never
// the plaintext.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Password     string `json:"-"`
	Role         string `json:"role"`
	RestaurantID string `json:"restaurantId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Restaurant is a venue orders belong to.
type Restaurant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// OrderUpdate is a partial order update. Nil fields are left unchanged.
type OrderUpdate struct {
	Status *ordercast.OrderStatus
}

// Store is the persistence interface the HTTP API works against.
type Store interface {
	CreateUser(user *User) (*User, error)
	GetUser(id string) (*User, error)
	GetUserByUsername(username string) (*User, error)

	CreateRestaurant(restaurant *Restaurant) (*Restaurant, error)
	GetRestaurant(id string) (*Restaurant, error)

	CreateOrder(order *ordercast.Order) (*ordercast.Order, error)
	GetOrder(id string) (*ordercast.Order, error)
	ListOrders() ([]*ordercast.Order, error)
	ListOrdersByRestaurant(restaurantID string) ([]*ordercast.Order, error)
	UpdateOrder(id string, update OrderUpdate) (*ordercast.Order, error)
}

// MemoryStore is a mutex-guarded in-memory Store. All data is lost on
// process restart, matching the subscription registry's
// rebuilt-from-scratch semantics.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	restaurants map[string]*Restaurant
	orders      map[string]*ordercast.Order
	orderSeq    []string // creation order, for stable listings
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		restaurants: make(map[string]*Restaurant),
		orders:      make(map[string]*ordercast.Order),
	}
}

func (s *MemoryStore) CreateUser(user *User) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now()
	s.users[u.ID] = &u

	out := u
	return &out, nil
}

func (s *MemoryStore) GetUser(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryStore) GetUserByUsername(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			out := *u
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CreateRestaurant(restaurant *Restaurant) (*Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *restaurant
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now()
	s.restaurants[r.ID] = &r

	out := r
	return &out, nil
}

func (s *MemoryStore) GetRestaurant(id string) (*Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.restaurants[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *r
	return &out, nil
}

// CreateOrder persists the order, assigning an id, pending status and
// timestamps.
func (s *MemoryStore) CreateOrder(order *ordercast.Order) (*ordercast.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := cloneOrder(order)
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = ordercast.OrderStatusPending
	}
	now := time.Now()
	o.CreatedAt = now
	o.UpdatedAt = now

	s.orders[o.ID] = o
	s.orderSeq = append(s.orderSeq, o.ID)

	return cloneOrder(o), nil
}

func (s *MemoryStore) GetOrder(id string) (*ordercast.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrders() ([]*ordercast.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]*ordercast.Order, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		if o, ok := s.orders[id]; ok {
			orders = append(orders, cloneOrder(o))
		}
	}
	return orders, nil
}

func (s *MemoryStore) ListOrdersByRestaurant(restaurantID string) ([]*ordercast.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []*ordercast.Order
	for _, id := range s.orderSeq {
		if o, ok := s.orders[id]; ok && o.RestaurantID == restaurantID {
			orders = append(orders, cloneOrder(o))
		}
	}
	return orders, nil
}

// UpdateOrder applies a partial update and bumps UpdatedAt.
func (s *MemoryStore) UpdateOrder(id string, update OrderUpdate) (*ordercast.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}

	if update.Status != nil {
		o.Status = *update.Status
	}
	o.UpdatedAt = time.Now()

	return cloneOrder(o), nil
}

func cloneOrder(o *ordercast.Order) *ordercast.Order {
	out := *o
	if o.Items != nil {
		out.Items = make([]ordercast.OrderItem, len(o.Items))
		copy(out.Items, o.Items)
	}
	return &out
}

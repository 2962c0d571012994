// Package httpapi is the order CRUD collaborator of the broadcast
// subsystem: it persists order writes and, only after a write has
// succeeded, hands the result to the Broadcaster so dashboards hear
// about it. It also mounts the WebSocket upgrade path so the whole
// service is served from one router.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/dishly/ordercast/pkg/ordercast"
	"github.com/dishly/ordercast/pkg/ordercast/storage"
)

const defaultTokenTTL = 24 * time.Hour

// Server holds the HTTP handlers for authentication and order CRUD.
type Server struct {
	store       storage.Store
	broadcaster *ordercast.Broadcaster
	registry    *ordercast.Registry
	logger      *zap.Logger
	validate    *validator.Validate
	jwtSecret   []byte
	tokenTTL    time.Duration
}

// NewServer creates the API server. The broadcaster must share its
// registry with the WebSocket listener mounted on the same router.
func NewServer(store storage.Store, broadcaster *ordercast.Broadcaster, registry *ordercast.Registry, logger *zap.Logger, jwtSecret string) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		store:       store,
		broadcaster: broadcaster,
		registry:    registry,
		logger:      logger,
		validate:    validator.New(),
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    defaultTokenTTL,
	}
}

// WithTokenTTL overrides the default lifetime of issued tokens.
// Non-positive values are ignored.
func (s *Server) WithTokenTTL(ttl time.Duration) *Server {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

// Routes builds the service router. When ws is non-nil it is mounted at
// wsPath (or /ws when wsPath is empty) as the WebSocket upgrade
// endpoint.
func (s *Server) Routes(wsPath string, ws http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/orders", s.handleCreateOrder)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/api/orders", s.handleListOrders)
		r.Patch("/api/orders/{id}", s.handleUpdateOrder)
	})

	if ws != nil {
		if wsPath == "" {
			wsPath = "/ws"
		}
		r.Get(wsPath, ws.ServeHTTP)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"subscribedRestaurants": s.registry.Restaurants(),
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string        `json:"token"`
	User  *storage.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.issueToken(user.ID)
	if err != nil {
		s.logger.Error("Failed to sign token", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	s.writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// handleCreateOrder is the public order placement endpoint used by the
// customer menu. The new_order broadcast happens strictly after the
// store accepted the order.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var order ordercast.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(order); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation error")
		return
	}

	created, err := s.store.CreateOrder(&order)
	if err != nil {
		s.logger.Error("Failed to create order", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := s.broadcaster.OrderCreated(r.Context(), created); err != nil {
		// Delivery is best-effort; the order itself was persisted.
		s.logger.Warn("Failed to broadcast new order",
			zap.String("order_id", created.ID),
			zap.Error(err),
		)
	}

	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var (
		orders []*ordercast.Order
		err    error
	)
	switch {
	case user.Role == storage.RoleSuperAdmin:
		orders, err = s.store.ListOrders()
	case user.RestaurantID != "":
		orders, err = s.store.ListOrdersByRestaurant(user.RestaurantID)
	default:
		orders = []*ordercast.Order{}
	}
	if err != nil {
		s.logger.Error("Failed to list orders", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if orders == nil {
		orders = []*ordercast.Order{}
	}

	s.writeJSON(w, http.StatusOK, orders)
}

type updateOrderRequest struct {
	Status ordercast.OrderStatus `json:"status"`
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	orderID := chi.URLParam(r, "id")

	existing, err := s.store.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("Failed to load order", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if user.Role != storage.RoleSuperAdmin && user.RestaurantID != existing.RestaurantID {
		s.writeError(w, http.StatusForbidden, "not authorized to update this order")
		return
	}

	var req updateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Status.Valid() {
		s.writeError(w, http.StatusBadRequest, "invalid order status")
		return
	}

	updated, err := s.store.UpdateOrder(orderID, storage.OrderUpdate{Status: &req.Status})
	if err != nil {
		s.logger.Error("Failed to update order", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := s.broadcaster.OrderUpdated(r.Context(), updated); err != nil {
		s.logger.Warn("Failed to broadcast order update",
			zap.String("order_id", updated.ID),
			zap.Error(err),
		)
	}

	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"message": message})
}

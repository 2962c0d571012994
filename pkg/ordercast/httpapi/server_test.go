package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/dishly/ordercast/pkg/ordercast"
	"github.com/dishly/ordercast/pkg/ordercast/storage"
)

// fakeReceiver records every frame delivered to it, standing in for a
// live dashboard connection.
type fakeReceiver struct {
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeReceiver) Push(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return true
}

func (f *fakeReceiver) messages(t *testing.T) []ordercast.Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := make([]ordercast.Message, 0, len(f.frames))
	for _, frame := range f.frames {
		msg, err := ordercast.DecodeMessage(frame)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

type apiHarness struct {
	srv      *httptest.Server
	store    storage.Store
	registry *ordercast.Registry
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	registry := ordercast.NewRegistry(logger)
	broadcaster := ordercast.NewBroadcaster(registry, logger)

	api := NewServer(store, broadcaster, registry, logger, "test-secret")
	srv := httptest.NewServer(api.Routes("", nil))
	t.Cleanup(srv.Close)

	return &apiHarness{srv: srv, store: store, registry: registry}
}

func (h *apiHarness) subscribe(restaurantID string) *fakeReceiver {
	recv := &fakeReceiver{}
	h.registry.Subscribe(recv, restaurantID)
	return recv
}

func (h *apiHarness) createUser(t *testing.T, username, password, role, restaurantID string) *storage.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := h.store.CreateUser(&storage.User{
		Username:     username,
		Password:     string(hash),
		Role:         role,
		RestaurantID: restaurantID,
	})
	require.NoError(t, err)
	return user
}

func (h *apiHarness) login(t *testing.T, username, password string) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": username, "password": password})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body loginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func testOrderBody(restaurantID string) map[string]any {
	return map[string]any{
		"restaurantId": restaurantID,
		"tableNumber":  "4",
		"totalAmount":  "23.50",
		"items": []map[string]any{
			{"dishId": "dish-1", "dishName": "Pad Thai", "quantity": 2, "price": "11.75"},
		},
	}
}

func TestLogin(t *testing.T) {
	h := newAPIHarness(t)
	h.createUser(t, "owner", "secret", storage.RoleRestaurantOwner, "res-1")

	t.Run("valid credentials return a token and the user", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/login", "",
			map[string]string{"username": "owner", "password": "secret"})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body loginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.NotEmpty(t, body.Token)
		require.NotNil(t, body.User)
		assert.Equal(t, "owner", body.User.Username)
		assert.Empty(t, body.User.Password, "password hash must not leak")
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/login", "",
			map[string]string{"username": "owner", "password": "wrong"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown user is rejected", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/login", "",
			map[string]string{"username": "ghost", "password": "secret"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("missing fields are a bad request", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/api/auth/login", "",
			map[string]string{"username": "owner"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestCreateOrder(t *testing.T) {
	t.Run("creates the order and notifies subscribers", func(t *testing.T) {
		h := newAPIHarness(t)
		recv := h.subscribe("res-1")

		resp := h.do(t, http.MethodPost, "/api/orders", "", testOrderBody("res-1"))
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var created ordercast.Order
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, ordercast.OrderStatusPending, created.Status)

		msgs := recv.messages(t)
		require.Len(t, msgs, 1)
		newOrder, ok := msgs[0].(ordercast.NewOrderMessage)
		require.True(t, ok)
		assert.Equal(t, created.ID, newOrder.Order.ID)
	})

	t.Run("invalid order is rejected without a broadcast", func(t *testing.T) {
		h := newAPIHarness(t)
		recv := h.subscribe("res-1")

		body := testOrderBody("res-1")
		delete(body, "items")
		resp := h.do(t, http.MethodPost, "/api/orders", "", body)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Empty(t, recv.messages(t))
	})

	t.Run("subscribers of other restaurants hear nothing", func(t *testing.T) {
		h := newAPIHarness(t)
		other := h.subscribe("res-2")

		resp := h.do(t, http.MethodPost, "/api/orders", "", testOrderBody("res-1"))
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Empty(t, other.messages(t))
	})
}

func TestListOrders(t *testing.T) {
	h := newAPIHarness(t)
	h.createUser(t, "owner1", "pw", storage.RoleRestaurantOwner, "res-1")
	h.createUser(t, "admin", "pw", storage.RoleSuperAdmin, "")

	for _, res := range []string{"res-1", "res-1", "res-2"} {
		resp := h.do(t, http.MethodPost, "/api/orders", "", testOrderBody(res))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	t.Run("requires authentication", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/orders", "", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/api/orders", "not-a-jwt", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("owner sees only their restaurant", func(t *testing.T) {
		token := h.login(t, "owner1", "pw")
		resp := h.do(t, http.MethodGet, "/api/orders", token, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var orders []*ordercast.Order
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
		require.Len(t, orders, 2)
		for _, o := range orders {
			assert.Equal(t, "res-1", o.RestaurantID)
		}
	})

	t.Run("super admin sees everything", func(t *testing.T) {
		token := h.login(t, "admin", "pw")
		resp := h.do(t, http.MethodGet, "/api/orders", token, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var orders []*ordercast.Order
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&orders))
		assert.Len(t, orders, 3)
	})
}

func TestUpdateOrder(t *testing.T) {
	newOrderID := func(t *testing.T, h *apiHarness, restaurantID string) string {
		t.Helper()
		resp := h.do(t, http.MethodPost, "/api/orders", "", testOrderBody(restaurantID))
		defer resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var created ordercast.Order
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
		return created.ID
	}

	t.Run("owner updates status and subscribers are notified", func(t *testing.T) {
		h := newAPIHarness(t)
		h.createUser(t, "owner", "pw", storage.RoleRestaurantOwner, "res-1")
		id := newOrderID(t, h, "res-1")
		recv := h.subscribe("res-1")

		token := h.login(t, "owner", "pw")
		resp := h.do(t, http.MethodPatch, "/api/orders/"+id, token,
			map[string]string{"status": "accepted"})
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var updated ordercast.Order
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&updated))
		assert.Equal(t, ordercast.OrderStatusAccepted, updated.Status)

		msgs := recv.messages(t)
		require.Len(t, msgs, 1)
		upd, ok := msgs[0].(ordercast.OrderUpdatedMessage)
		require.True(t, ok)
		assert.Equal(t, ordercast.OrderStatusAccepted, upd.Order.Status)
	})

	t.Run("owner of another restaurant is forbidden", func(t *testing.T) {
		h := newAPIHarness(t)
		h.createUser(t, "other", "pw", storage.RoleRestaurantOwner, "res-2")
		id := newOrderID(t, h, "res-1")

		token := h.login(t, "other", "pw")
		resp := h.do(t, http.MethodPatch, "/api/orders/"+id, token,
			map[string]string{"status": "accepted"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("super admin may update any order", func(t *testing.T) {
		h := newAPIHarness(t)
		h.createUser(t, "admin", "pw", storage.RoleSuperAdmin, "")
		id := newOrderID(t, h, "res-1")

		token := h.login(t, "admin", "pw")
		resp := h.do(t, http.MethodPatch, "/api/orders/"+id, token,
			map[string]string{"status": "rejected"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("unknown order is a 404", func(t *testing.T) {
		h := newAPIHarness(t)
		h.createUser(t, "admin", "pw", storage.RoleSuperAdmin, "")

		token := h.login(t, "admin", "pw")
		resp := h.do(t, http.MethodPatch, "/api/orders/nope", token,
			map[string]string{"status": "accepted"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("invalid status is a bad request", func(t *testing.T) {
		h := newAPIHarness(t)
		h.createUser(t, "admin", "pw", storage.RoleSuperAdmin, "")
		id := newOrderID(t, h, "res-1")

		token := h.login(t, "admin", "pw")
		resp := h.do(t, http.MethodPatch, "/api/orders/"+id, token,
			map[string]string{"status": "teleported"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestTokenTTL(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	registry := ordercast.NewRegistry(logger)
	broadcaster := ordercast.NewBroadcaster(registry, logger)

	expiryOf := func(t *testing.T, s *Server) time.Duration {
		t.Helper()
		token, err := s.issueToken("user-1")
		require.NoError(t, err)

		parsed, err := jwt.ParseWithClaims(token, &claims{}, func(*jwt.Token) (any, error) {
			return []byte("test-secret"), nil
		})
		require.NoError(t, err)
		c, ok := parsed.Claims.(*claims)
		require.True(t, ok)
		return time.Until(c.ExpiresAt.Time)
	}

	t.Run("configured lifetime shows up in the token", func(t *testing.T) {
		s := NewServer(store, broadcaster, registry, logger, "test-secret").
			WithTokenTTL(time.Hour)
		ttl := expiryOf(t, s)
		assert.Greater(t, ttl, 55*time.Minute)
		assert.LessOrEqual(t, ttl, time.Hour)
	})

	t.Run("non-positive lifetime keeps the default", func(t *testing.T) {
		s := NewServer(store, broadcaster, registry, logger, "test-secret").
			WithTokenTTL(0)
		ttl := expiryOf(t, s)
		assert.Greater(t, ttl, 23*time.Hour)
		assert.LessOrEqual(t, ttl, 24*time.Hour)
	})
}

func TestWebsocketMountPath(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	registry := ordercast.NewRegistry(logger)
	broadcaster := ordercast.NewBroadcaster(registry, logger)
	api := NewServer(store, broadcaster, registry, logger, "test-secret")

	stub := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("mounts at the configured path", func(t *testing.T) {
		srv := httptest.NewServer(api.Routes("/live", stub))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/live")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("empty path falls back to /ws", func(t *testing.T) {
		srv := httptest.NewServer(api.Routes("", stub))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/ws")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	h.subscribe("res-1")

	resp := h.do(t, http.MethodGet, "/healthz", "", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status                string `json:"status"`
		SubscribedRestaurants int    `json:"subscribedRestaurants"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.SubscribedRestaurants)
}

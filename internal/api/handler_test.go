package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/crypto"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) PublishListingCreated(context.Context, *models.ListingCreatedEvent) error {
	return nil
}
func (nopPublisher) PublishListingSold(context.Context, *models.ListingSoldEvent) error { return nil }
func (nopPublisher) PublishListingRemoved(context.Context, *models.ListingRemovedEvent) error {
	return nil
}
func (nopPublisher) PublishRequestSubmitted(context.Context, *models.RequestSubmittedEvent) error {
	return nil
}
func (nopPublisher) PublishRequestDecided(context.Context, *models.RequestDecidedEvent) error {
	return nil
}
func (nopPublisher) PublishMessageSent(context.Context, *models.MessageSentEvent) error { return nil }

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	hasher, err := crypto.NewPasswordHasher(crypto.HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)

	pub := nopPublisher{}
	listings := service.NewListingService(st, service.NewMemoryCache(), service.NewLocalLocker(), pub, 0)
	h := NewHandler(
		service.NewUserService(st, hasher),
		listings,
		service.NewRequestService(st, listings, pub),
		service.NewMessageService(st, pub, 50),
		crypto.NewTokenIssuer("test-secret", time.Hour),
		st,
	)

	router := gin.New()
	h.SetupRoutes(router, config.RateLimitConfig{RPS: 1000, Burst: 1000})
	return router
}

type call struct {
	method string
	path   string
	body   interface{}
	token  string
}

func do(t *testing.T, router *gin.Engine, c call) (int, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func doList(t *testing.T, router *gin.Engine, path string) []map[string]interface{} {
	t.Helper()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func registerUser(t *testing.T, router *gin.Engine, name string) int64 {
	t.Helper()

	code, body := do(t, router, call{method: http.MethodPost, path: "/register", body: gin.H{
		"username": name, "email": name + "@example.com", "password": "secret1",
	}})
	require.Equal(t, http.StatusCreated, code, body)
	return int64(body["user_id"].(float64))
}

func postListing(t *testing.T, router *gin.Engine, sellerID int64) int64 {
	t.Helper()

	code, body := do(t, router, call{method: http.MethodPost, path: "/post-listing", body: gin.H{
		"title": "Desk lamp", "description": "Works", "price": 25.00, "category": "Home",
		"condition": "Good", "seller_id": sellerID, "location": "Library", "images": []string{"a.jpg"},
	}})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "active", body["status"])
	return int64(body["id"].(float64))
}

func TestRegisterAndLogin(t *testing.T) {
	router := newTestRouter(t)
	id := registerUser(t, router, "alice")

	code, body := do(t, router, call{method: http.MethodPost, path: "/login", body: gin.H{
		"username": "alice", "password": "secret1",
	}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(id), body["user_id"])
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "alice", body["user_info"].(map[string]interface{})["username"])

	code, body = do(t, router, call{method: http.MethodPost, path: "/login", body: gin.H{
		"username": "alice", "password": "wrong-one",
	}})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", body["error"])

	code, _ = do(t, router, call{method: http.MethodPost, path: "/register", body: gin.H{
		"username": "bob", "email": "bob@example.com", "password": "12345",
	}})
	assert.Equal(t, http.StatusBadRequest, code)

	users := doList(t, router, "/users")
	require.Len(t, users, 1)
	assert.NotContains(t, users[0], "password_hash")
}

func TestPurchaseFlow(t *testing.T) {
	router := newTestRouter(t)
	seller := registerUser(t, router, "seller")
	buyer := registerUser(t, router, "buyer")
	other := registerUser(t, router, "other")
	item := postListing(t, router, seller)

	send := call{method: http.MethodPost, path: "/send-request", body: gin.H{
		"item_id": item, "buyer_id": buyer, "message": "interested",
	}}
	code, first := do(t, router, send)
	require.Equal(t, http.StatusCreated, code, first)
	assert.Equal(t, "pending", first["status"])

	code, again := do(t, router, send)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, first["id"], again["id"])

	code, body := do(t, router, call{method: http.MethodPost, path: "/send-request", body: gin.H{
		"item_id": item, "buyer_id": seller,
	}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", body["error"])

	code, _ = do(t, router, call{method: http.MethodPost, path: "/send-request", body: gin.H{
		"item_id": item, "buyer_id": other,
	}})
	require.Equal(t, http.StatusCreated, code)

	incoming := doList(t, router, fmt.Sprintf("/get-incoming-requests?seller_id=%d", seller))
	assert.Len(t, incoming, 2)

	requestID := int64(first["id"].(float64))
	decide := fmt.Sprintf("/update-request-status/%d", requestID)

	code, _ = do(t, router, call{method: http.MethodPost, path: decide, body: gin.H{
		"status": "approved", "seller_id": other,
	}})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = do(t, router, call{method: http.MethodPost, path: decide, body: gin.H{
		"status": "approved", "seller_id": seller,
	}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "approved", body["status"])

	code, body = do(t, router, call{method: http.MethodPost, path: decide, body: gin.H{
		"status": "approved", "seller_id": seller,
	}})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_state", body["error"])

	code, body = do(t, router, call{method: http.MethodGet, path: "/get-all-listings"})
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["listings"])

	code, body = do(t, router, call{method: http.MethodGet, path: fmt.Sprintf("/get-my-listings?user_id=%d", seller)})
	require.Equal(t, http.StatusOK, code)
	mine := body["user_listings"].([]interface{})
	require.Len(t, mine, 1)
	assert.Equal(t, "sold", mine[0].(map[string]interface{})["status"])

	code, body = do(t, router, call{method: http.MethodGet, path: fmt.Sprintf("/get-buyer-requests/%d?status=denied", other)})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["total_count"])

	pickups := doList(t, router, fmt.Sprintf("/get-approved-requests?user_id=%d", buyer))
	require.Len(t, pickups, 1)
	assert.Equal(t, "Library", pickups[0]["location"])
}

func TestTokenIdentity(t *testing.T) {
	router := newTestRouter(t)
	seller := registerUser(t, router, "seller")
	buyer := registerUser(t, router, "buyer")

	_, login := do(t, router, call{method: http.MethodPost, path: "/login", body: gin.H{
		"username": "buyer", "password": "secret1",
	}})
	token := login["token"].(string)

	item := postListing(t, router, seller)

	// body id disagreeing with the token is rejected
	code, _ := do(t, router, call{method: http.MethodPost, path: "/send-request", token: token, body: gin.H{
		"item_id": item, "buyer_id": seller,
	}})
	assert.Equal(t, http.StatusForbidden, code)

	// the token alone identifies the buyer
	code, body := do(t, router, call{method: http.MethodPost, path: "/send-request", token: token, body: gin.H{
		"item_id": item,
	}})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, float64(buyer), body["buyer_id"])

	code, _ = do(t, router, call{method: http.MethodGet, path: "/get-all-listings", token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = do(t, router, call{method: http.MethodGet, path: "/get-incoming-requests"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestMessages(t *testing.T) {
	router := newTestRouter(t)
	alice := registerUser(t, router, "alice")
	bob := registerUser(t, router, "bob")

	for i, m := range []gin.H{
		{"from_user_id": alice, "to_user_id": bob, "text": "is the lamp available?"},
		{"from_user_id": bob, "to_user_id": alice, "text": "yes"},
	} {
		code, body := do(t, router, call{method: http.MethodPost, path: "/api/messages", body: m})
		require.Equal(t, http.StatusCreated, code, "message %d: %v", i, body)
	}

	code, _ := do(t, router, call{method: http.MethodPost, path: "/api/messages", body: gin.H{
		"from_user_id": alice, "to_user_id": bob, "text": "",
	}})
	assert.Equal(t, http.StatusBadRequest, code)

	thread := doList(t, router, fmt.Sprintf("/api/messages?from=%d&to=%d", bob, alice))
	require.Len(t, thread, 2)
	assert.Equal(t, "is the lamp available?", thread[0]["text"])
	assert.Equal(t, "yes", thread[1]["text"])
}

func TestRemoveListingEndpoint(t *testing.T) {
	router := newTestRouter(t)
	seller := registerUser(t, router, "seller")
	item := postListing(t, router, seller)

	code, body := do(t, router, call{method: http.MethodPost, path: fmt.Sprintf("/remove-listing/%d", item), body: gin.H{
		"seller_id": seller,
	}})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "removed", body["status"])

	code, _ = do(t, router, call{method: http.MethodPost, path: "/remove-listing/abc", body: gin.H{"seller_id": seller}})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthAndReady(t *testing.T) {
	router := newTestRouter(t)

	code, body := do(t, router, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, body = do(t, router, call{method: http.MethodGet, path: "/ready"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
}

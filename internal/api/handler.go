package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/config"
	"marketplace-service/internal/crypto"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database readiness
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	users    *service.UserService
	listings *service.ListingService
	requests *service.RequestService
	messages *service.MessageService
	tokens   *crypto.TokenIssuer
	db       Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	users *service.UserService,
	listings *service.ListingService,
	requests *service.RequestService,
	messages *service.MessageService,
	tokens *crypto.TokenIssuer,
	db Pinger,
) *Handler {
	return &Handler{
		users:    users,
		listings: listings,
		requests: requests,
		messages: messages,
		tokens:   tokens,
		db:       db,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, rl config.RateLimitConfig) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(util.GetLogger()))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := rateLimit(rl.RPS, rl.Burst)

	router.POST("/register", limited, h.register)
	router.POST("/login", limited, h.login)

	app := router.Group("/", optionalAuth(h.tokens))
	{
		app.GET("/users", h.listUsers)
		app.GET("/get-user-profile/:id", h.getUserProfile)

		app.GET("/get-all-listings", h.getAllListings)
		app.GET("/get-my-listings", h.getMyListings)
		app.POST("/post-listing", h.postListing)
		app.POST("/remove-listing/:id", h.removeListing)

		app.POST("/send-request", limited, h.sendRequest)
		app.GET("/get-incoming-requests", h.getIncomingRequests)
		app.GET("/get-seller-requests/:seller_id", h.getSellerRequests)
		app.GET("/get-buyer-requests/:buyer_id", h.getBuyerRequests)
		app.GET("/get-approved-requests", h.getApprovedRequests)
		app.POST("/update-request-status/:id", h.updateRequestStatus)

		app.GET("/api/messages", h.getMessages)
		app.POST("/api/messages", limited, h.postMessage)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	if err := h.db.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, fmt.Errorf("%w: invalid request body: %v", service.ErrValidation, err))
		return false
	}
	return true
}

// paramID parses a positive integer path parameter
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, fmt.Errorf("%w: invalid %s", service.ErrValidation, name))
		return 0, false
	}
	return id, true
}

// queryID parses an optional integer query parameter; absent means 0
func queryID(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(c, fmt.Errorf("%w: invalid %s", service.ErrValidation, name))
		return 0, false
	}
	return id, true
}

func userInfo(u *models.User) gin.H {
	return gin.H{"username": u.Username, "email": u.Email}
}

func (h *Handler) register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "User registered successfully",
		"user_id":   user.ID,
		"user_info": userInfo(user),
	})
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !bindJSON(c, &req) {
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		respondError(c, fmt.Errorf("failed to issue token: %w", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Login successful",
		"token":     token,
		"user_id":   user.ID,
		"user_info": userInfo(user),
	})
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.messages.ListContacts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) getUserProfile(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getAllListings(c *gin.Context) {
	listings, err := h.listings.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

func (h *Handler) getMyListings(c *gin.Context) {
	claimed, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	userID, err := resolveActor(c, claimed, "user_id")
	if err != nil {
		respondError(c, err)
		return
	}

	listings, err := h.listings.ListBySeller(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_listings": listings})
}

func (h *Handler) postListing(c *gin.Context) {
	var req service.CreateListingRequest
	if !bindJSON(c, &req) {
		return
	}

	sellerID, err := resolveActor(c, req.SellerID, "seller_id")
	if err != nil {
		respondError(c, err)
		return
	}
	req.SellerID = sellerID

	listing, err := h.listings.CreateListing(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, listing)
}

func (h *Handler) removeListing(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		SellerID int64 `json:"seller_id"`
	}
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	sellerID, err := resolveActor(c, req.SellerID, "seller_id")
	if err != nil {
		respondError(c, err)
		return
	}

	listing, err := h.listings.RemoveListing(c.Request.Context(), id, sellerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *Handler) sendRequest(c *gin.Context) {
	var req service.SubmitRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.ItemID <= 0 {
		respondError(c, fmt.Errorf("%w: item_id is required", service.ErrValidation))
		return
	}

	buyerID, err := resolveActor(c, req.BuyerID, "buyer_id")
	if err != nil {
		respondError(c, err)
		return
	}
	req.BuyerID = buyerID

	request, created, err := h.requests.Submit(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, request)
}

func (h *Handler) getIncomingRequests(c *gin.Context) {
	claimed, ok := queryID(c, "seller_id")
	if !ok {
		return
	}
	sellerID, err := resolveActor(c, claimed, "seller_id")
	if err != nil {
		respondError(c, err)
		return
	}

	requests, err := h.requests.ListIncomingForSeller(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (h *Handler) getSellerRequests(c *gin.Context) {
	claimed, ok := paramID(c, "seller_id")
	if !ok {
		return
	}
	sellerID, err := resolveActor(c, claimed, "seller_id")
	if err != nil {
		respondError(c, err)
		return
	}

	requests, err := h.requests.ListIncomingForSeller(c.Request.Context(), sellerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests":    requests,
		"total_count": len(requests),
	})
}

func (h *Handler) getBuyerRequests(c *gin.Context) {
	claimed, ok := paramID(c, "buyer_id")
	if !ok {
		return
	}
	buyerID, err := resolveActor(c, claimed, "buyer_id")
	if err != nil {
		respondError(c, err)
		return
	}

	requests, err := h.requests.ListForBuyer(c.Request.Context(), buyerID, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests":    requests,
		"total_count": len(requests),
	})
}

func (h *Handler) getApprovedRequests(c *gin.Context) {
	claimed, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	userID, err := resolveActor(c, claimed, "user_id")
	if err != nil {
		respondError(c, err)
		return
	}

	pickups, err := h.requests.ListApproved(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pickups)
}

func (h *Handler) updateRequestStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Status   string `json:"status"`
		SellerID int64  `json:"seller_id"`
	}
	if !bindJSON(c, &req) {
		return
	}

	sellerID, err := resolveActor(c, req.SellerID, "seller_id")
	if err != nil {
		respondError(c, err)
		return
	}

	request, err := h.requests.Decide(c.Request.Context(), id, req.Status, sellerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

func (h *Handler) getMessages(c *gin.Context) {
	to, ok := queryID(c, "to")
	if !ok {
		return
	}
	if to == 0 {
		respondError(c, fmt.Errorf("%w: to is required", service.ErrValidation))
		return
	}
	claimed, ok := queryID(c, "from")
	if !ok {
		return
	}
	from, err := resolveActor(c, claimed, "from")
	if err != nil {
		respondError(c, err)
		return
	}

	thread := []models.Message{}
	for msg, err := range h.messages.Thread(c.Request.Context(), from, to) {
		if err != nil {
			respondError(c, err)
			return
		}
		thread = append(thread, msg)
	}
	c.JSON(http.StatusOK, thread)
}

func (h *Handler) postMessage(c *gin.Context) {
	var req service.SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	from, err := resolveActor(c, req.FromUserID, "from_user_id")
	if err != nil {
		respondError(c, err)
		return
	}
	req.FromUserID = from

	msg, err := h.messages.Send(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
	"marketplace-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StateError reports a listing or request that is not in the state an operation needs.
type StateError struct {
	Entity string
	ID     int64
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s %d is %s", ErrInvalidState, e.Entity, e.ID, e.Status)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// ListingService is the listing catalog. It is the only writer of listing status.
type ListingService struct {
	store     *store.Store
	cache     ListingCache
	locker    Locker
	publisher EventPublisher
	cacheTTL  time.Duration
	logger    *zap.Logger
}

// NewListingService creates a new listing service
func NewListingService(
	store *store.Store,
	cache ListingCache,
	locker Locker,
	publisher EventPublisher,
	cacheTTL time.Duration,
) *ListingService {
	return &ListingService{
		store:     store,
		cache:     cache,
		locker:    locker,
		publisher: publisher,
		cacheTTL:  cacheTTL,
		logger:    util.GetLogger(),
	}
}

// CreateListingRequest represents a request to post a listing
type CreateListingRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Condition   string          `json:"condition"`
	SellerID    int64           `json:"seller_id"`
	Location    string          `json:"location"`
	Images      []string        `json:"images"`
}

func (r *CreateListingRequest) validate() error {
	required := []struct{ name, value string }{
		{"title", r.Title},
		{"description", r.Description},
		{"category", r.Category},
		{"condition", r.Condition},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.name)
		}
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	return nil
}

// CreateListing posts an active listing for an existing seller.
func (s *ListingService) CreateListing(ctx context.Context, req *CreateListingRequest) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.CreateListing", attribute.Int64("seller_id", req.SellerID))
	defer span.End()

	if err := req.validate(); err != nil {
		return nil, err
	}

	seller, err := s.store.GetUserByID(ctx, req.SellerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: seller %d does not exist", ErrValidation, req.SellerID)
		}
		return nil, fmt.Errorf("failed to load seller: %w", err)
	}

	images := models.ImageList{}
	for _, img := range req.Images {
		if img = strings.TrimSpace(img); img != "" {
			images = append(images, img)
		}
	}

	listing := &models.Listing{
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Category:    strings.TrimSpace(req.Category),
		Condition:   strings.TrimSpace(req.Condition),
		SellerID:    seller.ID,
		SellerName:  seller.Username,
		Location:    strings.TrimSpace(req.Location),
		Status:      models.ListingStatusActive,
		Images:      images,
		DatePosted:  time.Now().UTC(),
	}

	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	util.ListingsCreatedTotal.Inc()
	s.logger.Info("Listing created",
		zap.Int64("listing_id", listing.ID),
		zap.Int64("seller_id", listing.SellerID))

	s.invalidateActive(ctx)

	event := &models.ListingCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeListingCreated),
		ListingID: listing.ID,
		SellerID:  listing.SellerID,
		Title:     listing.Title,
		Price:     listing.Price.String(),
	}
	if err := s.publisher.PublishListingCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ListingCreated event", zap.Error(err))
	}

	return listing, nil
}

// ListActive returns every active listing in insertion order, served from the cache when warm.
func (s *ListingService) ListActive(ctx context.Context) ([]models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.ListActive")
	defer span.End()

	cached, gen, ok, cacheErr := s.cache.GetActiveListings(ctx)
	if cacheErr != nil {
		s.logger.Warn("Failed to read listings cache", zap.Error(cacheErr))
	}
	if ok {
		util.ListingsCacheHitsTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	util.ListingsCacheHitsTotal.WithLabelValues("miss").Inc()

	listings, err := s.store.ListListingsByStatus(ctx, models.ListingStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list active listings: %w", err)
	}

	// Without a generation there is no safe key to write back under.
	if cacheErr == nil {
		if err := s.cache.SetActiveListings(ctx, gen, listings, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to write listings cache", zap.Error(err))
		}
	}
	return listings, nil
}

// ListBySeller returns all of a seller's listings, whatever their status.
func (s *ListingService) ListBySeller(ctx context.Context, sellerID int64) ([]models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.ListBySeller", attribute.Int64("seller_id", sellerID))
	defer span.End()

	return s.store.ListListingsBySeller(ctx, sellerID)
}

// Get returns one listing.
func (s *ListingService) Get(ctx context.Context, id int64) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.Get", attribute.Int64("listing_id", id))
	defer span.End()

	listing, err := s.store.GetListingByID(ctx, id)
	if err != nil {
		return nil, translate(err, "listing", id)
	}
	return listing, nil
}

// MarkSold moves a listing from active to sold inside tx. It fails with a *StateError
// when the listing is not active, so marking twice is an error.
func (s *ListingService) MarkSold(ctx context.Context, tx *store.Tx, id int64) (*models.Listing, error) {
	return s.transition(ctx, tx, id, models.ListingStatusSold)
}

func (s *ListingService) transition(ctx context.Context, tx *store.Tx, id int64, to string) (*models.Listing, error) {
	ok, err := tx.TransitionListingStatus(ctx, id, models.ListingStatusActive, to)
	if err != nil {
		return nil, fmt.Errorf("failed to update listing status: %w", err)
	}

	listing, err := tx.GetListingByID(ctx, id)
	if err != nil {
		return nil, translate(err, "listing", id)
	}
	if !ok {
		return nil, &StateError{Entity: "listing", ID: id, Status: listing.Status}
	}
	return listing, nil
}

// RemoveListing withdraws an active listing owned by sellerID and denies its pending requests.
func (s *ListingService) RemoveListing(ctx context.Context, id, sellerID int64) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "ListingService.RemoveListing",
		attribute.Int64("listing_id", id),
		attribute.Int64("seller_id", sellerID))
	defer span.End()

	listing, err := s.store.GetListingByID(ctx, id)
	if err != nil {
		return nil, translate(err, "listing", id)
	}
	if listing.SellerID != sellerID {
		return nil, fmt.Errorf("%w: listing %d belongs to another seller", ErrForbidden, id)
	}

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var denied []int64
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		removed, err := s.transition(ctx, tx, id, models.ListingStatusRemoved)
		if err != nil {
			return err
		}
		listing = removed

		denied, err = tx.DenyPendingRequests(ctx, id, 0, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to deny pending requests: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.ListingsRemovedTotal.Inc()
	util.RequestsAutoDeniedTotal.Add(float64(len(denied)))
	s.logger.Info("Listing removed",
		zap.Int64("listing_id", id),
		zap.Int("auto_denied", len(denied)))

	s.invalidateActive(ctx)

	event := &models.ListingRemovedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeListingRemoved),
		ListingID:  id,
		SellerID:   sellerID,
		AutoDenied: denied,
	}
	if err := s.publisher.PublishListingRemoved(ctx, event); err != nil {
		s.logger.Error("Failed to publish ListingRemoved event", zap.Error(err))
	}

	return listing, nil
}

// lock takes the per-listing lock and records how long it waited.
func (s *ListingService) lock(ctx context.Context, listingID int64) (func(), error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, listingID)
	util.ListingLockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Listing lock not acquired",
			zap.Int64("listing_id", listingID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: listing %d is busy, retry", ErrConflict, listingID)
	}
	return unlock, nil
}

func (s *ListingService) invalidateActive(ctx context.Context) {
	if err := s.cache.InvalidateActiveListings(ctx); err != nil {
		s.logger.Warn("Failed to invalidate listings cache", zap.Error(err))
	}
}

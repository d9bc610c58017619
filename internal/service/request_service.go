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

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Decisions a seller can take on a pending request
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// ParseDecision normalizes the decision spellings clients send.
func ParseDecision(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", models.RequestStatusApproved:
		return DecisionApprove, nil
	case "deny", models.RequestStatusDenied, "reject", "rejected":
		return DecisionDeny, nil
	}
	return "", fmt.Errorf("%w: status must be approved or denied", ErrValidation)
}

// RequestService is the purchase request engine.
type RequestService struct {
	store     *store.Store
	listings  *ListingService
	publisher EventPublisher
	logger    *zap.Logger
}

// NewRequestService creates a new request service
func NewRequestService(store *store.Store, listings *ListingService, publisher EventPublisher) *RequestService {
	return &RequestService{
		store:     store,
		listings:  listings,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// SubmitRequest represents a buyer's purchase request
type SubmitRequest struct {
	ItemID  int64  `json:"item_id"`
	BuyerID int64  `json:"buyer_id"`
	Message string `json:"message"`
}

// Submit creates a pending request, or returns the buyer's existing pending request on
// the same listing. created reports whether a new record was written.
func (s *RequestService) Submit(ctx context.Context, req *SubmitRequest) (result *models.Request, created bool, err error) {
	ctx, span := util.StartSpan(ctx, "RequestService.Submit",
		attribute.Int64("listing_id", req.ItemID),
		attribute.Int64("buyer_id", req.BuyerID))
	defer func() { util.EndSpan(span, err) }()

	listing, err := s.store.GetListingByID(ctx, req.ItemID)
	if err != nil {
		return nil, false, translate(err, "listing", req.ItemID)
	}
	if listing.Status != models.ListingStatusActive {
		return nil, false, &StateError{Entity: "listing", ID: listing.ID, Status: listing.Status}
	}
	if req.BuyerID == listing.SellerID {
		return nil, false, fmt.Errorf("%w: sellers cannot request their own listing", ErrInvalidRequest)
	}
	if _, err := s.store.GetUserByID(ctx, req.BuyerID); err != nil {
		return nil, false, translate(err, "user", req.BuyerID)
	}

	// The listing lock and the in-transaction status check keep a request from landing
	// on a listing that an approval or removal has just closed.
	unlock, err := s.listings.lock(ctx, listing.ID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var existing *models.Request
	now := time.Now().UTC()
	request := &models.Request{
		ItemID:    listing.ID,
		BuyerID:   req.BuyerID,
		SellerID:  listing.SellerID,
		Message:   strings.TrimSpace(req.Message),
		Status:    models.RequestStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetListingByID(ctx, listing.ID)
		if err != nil {
			return translate(err, "listing", listing.ID)
		}
		if current.Status != models.ListingStatusActive {
			return &StateError{Entity: "listing", ID: current.ID, Status: current.Status}
		}

		existing, err = tx.GetPendingRequest(ctx, listing.ID, req.BuyerID)
		if err != nil {
			return fmt.Errorf("failed to check pending request: %w", err)
		}
		if existing != nil {
			return nil
		}

		if err := tx.CreateRequest(ctx, request); err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		// lost a race with an identical submit that did not hold the lock
		existing, err = s.store.GetPendingRequest(ctx, listing.ID, req.BuyerID)
		if err == nil && existing == nil {
			err = fmt.Errorf("%w: listing %d changed, retry", ErrConflict, listing.ID)
		}
	}
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		util.RequestsDeduplicatedTotal.Inc()
		s.logger.Info("Duplicate request collapsed",
			zap.Int64("request_id", existing.ID),
			zap.Int64("listing_id", listing.ID),
			zap.Int64("buyer_id", req.BuyerID))
		return existing, false, nil
	}

	util.RequestsSubmittedTotal.Inc()
	s.logger.Info("Request submitted",
		zap.Int64("request_id", request.ID),
		zap.Int64("listing_id", listing.ID),
		zap.Int64("buyer_id", request.BuyerID))

	event := &models.RequestSubmittedEvent{
		BaseEvent: newBaseEvent(models.EventTypeRequestSubmitted),
		RequestID: request.ID,
		ListingID: request.ItemID,
		BuyerID:   request.BuyerID,
		SellerID:  request.SellerID,
	}
	if err := s.publisher.PublishRequestSubmitted(ctx, event); err != nil {
		s.logger.Error("Failed to publish RequestSubmitted event", zap.Error(err))
	}

	return request, true, nil
}

// ListIncomingForSeller returns every request on the seller's listings, any status.
func (s *RequestService) ListIncomingForSeller(ctx context.Context, sellerID int64) ([]models.IncomingRequest, error) {
	ctx, span := util.StartSpan(ctx, "RequestService.ListIncomingForSeller", attribute.Int64("seller_id", sellerID))
	defer span.End()

	return s.store.ListIncomingRequests(ctx, sellerID)
}

// ListForBuyer returns the buyer's requests, optionally filtered by status.
func (s *RequestService) ListForBuyer(ctx context.Context, buyerID int64, status string) ([]models.OutgoingRequest, error) {
	ctx, span := util.StartSpan(ctx, "RequestService.ListForBuyer", attribute.Int64("buyer_id", buyerID))
	defer span.End()

	switch status {
	case "", models.RequestStatusPending, models.RequestStatusApproved, models.RequestStatusDenied:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.store.ListOutgoingRequests(ctx, buyerID, status)
}

// ListApproved returns approved requests where the user is buyer or seller.
func (s *RequestService) ListApproved(ctx context.Context, userID int64) ([]models.Pickup, error) {
	ctx, span := util.StartSpan(ctx, "RequestService.ListApproved", attribute.Int64("user_id", userID))
	defer span.End()

	return s.store.ListApprovedRequests(ctx, userID)
}

// Decide applies a seller's decision to a pending request.
//
// Approval marks the listing sold, approves the request and denies every other pending
// request on the listing in one transaction, under the listing lock. Losing the race to
// another approval fails with ErrConflict and leaves the request pending.
func (s *RequestService) Decide(ctx context.Context, requestID int64, decision string, actingSellerID int64) (result *models.Request, err error) {
	ctx, span := util.StartSpan(ctx, "RequestService.Decide",
		attribute.Int64("request_id", requestID),
		attribute.String("decision", decision))
	defer func() { util.EndSpan(span, err) }()

	decision, err = ParseDecision(decision)
	if err != nil {
		return nil, err
	}

	request, err := s.store.GetRequestByID(ctx, requestID)
	if err != nil {
		return nil, translate(err, "request", requestID)
	}
	if err := checkDecidable(request, actingSellerID); err != nil {
		return nil, err
	}

	if decision == DecisionDeny {
		return s.deny(ctx, request)
	}
	return s.approve(ctx, request, actingSellerID)
}

func checkDecidable(request *models.Request, actingSellerID int64) error {
	if request.SellerID != actingSellerID {
		return fmt.Errorf("%w: request %d belongs to another seller", ErrForbidden, request.ID)
	}
	if request.Status != models.RequestStatusPending {
		return &StateError{Entity: "request", ID: request.ID, Status: request.Status}
	}
	return nil
}

type requestReader interface {
	GetRequestByID(ctx context.Context, id int64) (*models.Request, error)
}

// currentStateError reports the status a request holds now, after a status update on it
// found it no longer pending.
func currentStateError(ctx context.Context, q requestReader, id int64) error {
	latest, err := q.GetRequestByID(ctx, id)
	if err != nil {
		return translate(err, "request", id)
	}
	return &StateError{Entity: "request", ID: latest.ID, Status: latest.Status}
}

func (s *RequestService) deny(ctx context.Context, request *models.Request) (*models.Request, error) {
	now := time.Now().UTC()
	ok, err := s.store.TransitionRequestStatus(ctx, request.ID, models.RequestStatusPending, models.RequestStatusDenied, now)
	if err != nil {
		return nil, fmt.Errorf("failed to deny request: %w", err)
	}
	if !ok {
		return nil, currentStateError(ctx, s.store, request.ID)
	}

	request.Status = models.RequestStatusDenied
	request.UpdatedAt = now

	util.RequestsDecidedTotal.WithLabelValues(models.RequestStatusDenied).Inc()
	s.logger.Info("Request denied",
		zap.Int64("request_id", request.ID),
		zap.Int64("listing_id", request.ItemID))

	s.publishDecided(ctx, request, nil)
	return request, nil
}

func (s *RequestService) approve(ctx context.Context, request *models.Request, actingSellerID int64) (*models.Request, error) {
	unlock, err := s.listings.lock(ctx, request.ItemID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var denied []int64
	now := time.Now().UTC()

	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		current, err := tx.GetRequestByID(ctx, request.ID)
		if err != nil {
			return translate(err, "request", request.ID)
		}
		if err := checkDecidable(current, actingSellerID); err != nil {
			return err
		}

		if _, err := s.listings.MarkSold(ctx, tx, current.ItemID); err != nil {
			var stateErr *StateError
			if errors.As(err, &stateErr) && stateErr.Status == models.ListingStatusSold {
				util.ApprovalConflictsTotal.Inc()
				return fmt.Errorf("%w: listing %d was already sold", ErrConflict, current.ItemID)
			}
			return err
		}

		ok, err := tx.TransitionRequestStatus(ctx, current.ID, models.RequestStatusPending, models.RequestStatusApproved, now)
		if err != nil {
			return fmt.Errorf("failed to approve request: %w", err)
		}
		if !ok {
			return currentStateError(ctx, tx, current.ID)
		}

		denied, err = tx.DenyPendingRequests(ctx, current.ItemID, current.ID, now)
		if err != nil {
			return fmt.Errorf("failed to deny sibling requests: %w", err)
		}

		*request = *current
		return nil
	})
	if err != nil {
		return nil, err
	}

	request.Status = models.RequestStatusApproved
	request.UpdatedAt = now

	util.ListingsSoldTotal.Inc()
	util.RequestsDecidedTotal.WithLabelValues(models.RequestStatusApproved).Inc()
	util.RequestsAutoDeniedTotal.Add(float64(len(denied)))
	s.logger.Info("Request approved",
		zap.Int64("request_id", request.ID),
		zap.Int64("listing_id", request.ItemID),
		zap.Int64("buyer_id", request.BuyerID),
		zap.Int("auto_denied", len(denied)))

	s.listings.invalidateActive(ctx)

	sold := &models.ListingSoldEvent{
		BaseEvent: newBaseEvent(models.EventTypeListingSold),
		ListingID: request.ItemID,
		SellerID:  request.SellerID,
		BuyerID:   request.BuyerID,
		RequestID: request.ID,
	}
	if err := s.publisher.PublishListingSold(ctx, sold); err != nil {
		s.logger.Error("Failed to publish ListingSold event", zap.Error(err))
	}
	s.publishDecided(ctx, request, denied)

	return request, nil
}

func (s *RequestService) publishDecided(ctx context.Context, request *models.Request, autoDenied []int64) {
	eventType := models.EventTypeRequestDenied
	if request.Status == models.RequestStatusApproved {
		eventType = models.EventTypeRequestApproved
	}

	event := &models.RequestDecidedEvent{
		BaseEvent:  newBaseEvent(eventType),
		RequestID:  request.ID,
		ListingID:  request.ItemID,
		BuyerID:    request.BuyerID,
		SellerID:   request.SellerID,
		Status:     request.Status,
		AutoDenied: autoDenied,
	}
	if err := s.publisher.PublishRequestDecided(ctx, event); err != nil {
		s.logger.Error("Failed to publish RequestDecided event",
			zap.String("type", eventType),
			zap.Error(err))
	}
}

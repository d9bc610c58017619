package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"marketplace-service/internal/models"
)

// CreateRequest inserts a request and sets its ID. Returns ErrDuplicate if the buyer
// already has a pending request on the listing.
func (q *queries) CreateRequest(ctx context.Context, req *models.Request) error {
	query := `
		INSERT INTO requests (item_id, buyer_id, seller_id, message, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	err := q.get(ctx, &req.ID, query,
		req.ItemID, req.BuyerID, req.SellerID, req.Message, req.Status, req.CreatedAt, req.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("request for item %d by buyer %d: %w", req.ItemID, req.BuyerID, ErrDuplicate)
	}
	return err
}

// GetRequestByID retrieves a request by ID
func (q *queries) GetRequestByID(ctx context.Context, id int64) (*models.Request, error) {
	var req models.Request
	if err := q.get(ctx, &req, "SELECT * FROM requests WHERE id = ?", id); err != nil {
		return nil, notFound(err, "request", id)
	}
	return &req, nil
}

// GetPendingRequest retrieves the buyer's pending request on a listing, or nil if none
func (q *queries) GetPendingRequest(ctx context.Context, itemID, buyerID int64) (*models.Request, error) {
	var req models.Request
	err := q.get(ctx, &req,
		"SELECT * FROM requests WHERE item_id = ? AND buyer_id = ? AND status = ?",
		itemID, buyerID, models.RequestStatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListIncomingRequests retrieves every request on a seller's listings, newest first
func (q *queries) ListIncomingRequests(ctx context.Context, sellerID int64) ([]models.IncomingRequest, error) {
	query := `
		SELECT r.id, r.item_id, i.title AS item, r.buyer_id, u.username AS requester,
			r.status, r.message, r.created_at
		FROM requests r
		JOIN listings i ON r.item_id = i.id
		JOIN users u ON r.buyer_id = u.id
		WHERE r.seller_id = ?
		ORDER BY r.id DESC`

	reqs := []models.IncomingRequest{}
	err := q.selectAll(ctx, &reqs, query, sellerID)
	return reqs, err
}

// ListOutgoingRequests retrieves a buyer's requests, optionally filtered by status, newest first
func (q *queries) ListOutgoingRequests(ctx context.Context, buyerID int64, status string) ([]models.OutgoingRequest, error) {
	query := `
		SELECT r.id, r.item_id, i.title AS item_title, r.seller_id, u.username AS seller,
			r.status, r.message, r.created_at
		FROM requests r
		JOIN listings i ON r.item_id = i.id
		JOIN users u ON r.seller_id = u.id
		WHERE r.buyer_id = ?`
	args := []interface{}{buyerID}

	if status != "" {
		query += " AND r.status = ?"
		args = append(args, status)
	}
	query += " ORDER BY r.id DESC"

	reqs := []models.OutgoingRequest{}
	err := q.selectAll(ctx, &reqs, query, args...)
	return reqs, err
}

// ListApprovedRequests retrieves approved requests where the user is buyer or seller
func (q *queries) ListApprovedRequests(ctx context.Context, userID int64) ([]models.Pickup, error) {
	query := `
		SELECT r.id, r.item_id, i.title AS item, i.location, r.buyer_id, b.username AS requester,
			r.seller_id, s.username AS seller, r.status, r.message, r.updated_at
		FROM requests r
		JOIN listings i ON r.item_id = i.id
		JOIN users b ON r.buyer_id = b.id
		JOIN users s ON r.seller_id = s.id
		WHERE r.status = ? AND (r.buyer_id = ? OR r.seller_id = ?)
		ORDER BY r.updated_at DESC, r.id DESC`

	pickups := []models.Pickup{}
	err := q.selectAll(ctx, &pickups, query, models.RequestStatusApproved, userID, userID)
	return pickups, err
}

// TransitionRequestStatus moves a request from one status to another only if it is
// currently in from. It reports whether the row changed.
func (q *queries) TransitionRequestStatus(ctx context.Context, id int64, from, to string, at time.Time) (bool, error) {
	res, err := q.exec(ctx,
		"UPDATE requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		to, at, id, from)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DenyPendingRequests denies every pending request on a listing except exceptID
// (pass 0 to deny all) and returns the IDs it changed.
func (q *queries) DenyPendingRequests(ctx context.Context, itemID, exceptID int64, at time.Time) ([]int64, error) {
	ids := []int64{}
	err := q.selectAll(ctx, &ids, `
		UPDATE requests SET status = ?, updated_at = ?
		WHERE item_id = ? AND status = ? AND id <> ?
		RETURNING id`,
		models.RequestStatusDenied, at, itemID, models.RequestStatusPending, exceptID)
	return ids, err
}

package store

import (
	"context"

	"marketplace-service/internal/models"
)

// CreateListing inserts a listing and sets its ID
func (q *queries) CreateListing(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (title, description, price, category, condition, seller_id,
			seller_name, location, status, images, date_posted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`

	return q.get(ctx, &listing.ID, query,
		listing.Title, listing.Description, listing.Price, listing.Category, listing.Condition,
		listing.SellerID, listing.SellerName, listing.Location, listing.Status, listing.Images,
		listing.DatePosted)
}

// GetListingByID retrieves a listing by ID
func (q *queries) GetListingByID(ctx context.Context, id int64) (*models.Listing, error) {
	var listing models.Listing
	if err := q.get(ctx, &listing, "SELECT * FROM listings WHERE id = ?", id); err != nil {
		return nil, notFound(err, "listing", id)
	}
	return &listing, nil
}

// ListListingsByStatus retrieves listings in the given status, in insertion order
func (q *queries) ListListingsByStatus(ctx context.Context, status string) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := q.selectAll(ctx, &listings,
		"SELECT * FROM listings WHERE status = ? ORDER BY id", status)
	return listings, err
}

// ListListingsBySeller retrieves every listing owned by a seller, any status
func (q *queries) ListListingsBySeller(ctx context.Context, sellerID int64) ([]models.Listing, error) {
	listings := []models.Listing{}
	err := q.selectAll(ctx, &listings,
		"SELECT * FROM listings WHERE seller_id = ? ORDER BY id", sellerID)
	return listings, err
}

// TransitionListingStatus moves a listing from one status to another only if it is
// currently in from. It reports whether the row changed.
func (q *queries) TransitionListingStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	res, err := q.exec(ctx,
		"UPDATE listings SET status = ? WHERE id = ? AND status = ?",
		to, id, from)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

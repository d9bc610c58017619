package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients read price as a JSON number.
	decimal.MarshalJSONWithoutQuotes = true
}

// User is a directory entry. PasswordHash never leaves the service.
type User struct {
	ID           int64     `db:"id" json:"id"`
	Username     string    `db:"username" json:"username"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Listing is an item offered for sale.
//
// SellerName is a snapshot of the seller's username taken when the listing
// was created; it is not kept in sync with later renames.
type Listing struct {
	ID          int64           `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Category    string          `db:"category" json:"category"`
	Condition   string          `db:"condition" json:"condition"`
	SellerID    int64           `db:"seller_id" json:"seller_id"`
	SellerName  string          `db:"seller_name" json:"seller_name"`
	Location    string          `db:"location" json:"location"`
	Status      string          `db:"status" json:"status"`
	Images      ImageList       `db:"images" json:"images"`
	DatePosted  time.Time       `db:"date_posted" json:"date_posted"`
}

// Request is a buyer's offer to purchase a listing.
type Request struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	BuyerID   int64     `db:"buyer_id" json:"buyer_id"`
	SellerID  int64     `db:"seller_id" json:"seller_id"`
	Message   string    `db:"message" json:"message"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IncomingRequest is a request joined with its listing title and the buyer's username,
// as shown in a seller's moderation queue.
type IncomingRequest struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	Item      string    `db:"item" json:"item"`
	BuyerID   int64     `db:"buyer_id" json:"buyer_id"`
	Requester string    `db:"requester" json:"requester"`
	Status    string    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// OutgoingRequest is a request joined with its listing title and the seller's username.
type OutgoingRequest struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	ItemTitle string    `db:"item_title" json:"item_title"`
	SellerID  int64     `db:"seller_id" json:"seller_id"`
	Seller    string    `db:"seller" json:"seller"`
	Status    string    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Pickup is an approved request seen by either party.
type Pickup struct {
	ID        int64     `db:"id" json:"id"`
	ItemID    int64     `db:"item_id" json:"item_id"`
	Item      string    `db:"item" json:"item"`
	Location  string    `db:"location" json:"location"`
	BuyerID   int64     `db:"buyer_id" json:"buyer_id"`
	Requester string    `db:"requester" json:"requester"`
	SellerID  int64     `db:"seller_id" json:"seller_id"`
	Seller    string    `db:"seller" json:"seller"`
	Status    string    `db:"status" json:"status"`
	Message   string    `db:"message" json:"message"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Message is an immutable direct message between two users.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	FromUserID int64     `db:"from_user_id" json:"from_user_id"`
	ToUserID   int64     `db:"to_user_id" json:"to_user_id"`
	Text       string    `db:"text" json:"text"`
	SentAt     time.Time `db:"sent_at" json:"sent_at"`
}

// Listing statuses
const (
	ListingStatusActive  = "active"
	ListingStatusSold    = "sold"
	ListingStatusRemoved = "removed"
)

// Request statuses
const (
	RequestStatusPending  = "pending"
	RequestStatusApproved = "approved"
	RequestStatusDenied   = "denied"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

// ImageList is an ordered list of image references stored as a JSON array.
type ImageList []string

// Value implements driver.Valuer.
func (l ImageList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *ImageList) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = ImageList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported images column type %T", src)
	}

	if len(raw) == 0 {
		*l = ImageList{}
		return nil
	}

	var images []string
	if err := json.Unmarshal(raw, &images); err != nil {
		return fmt.Errorf("failed to decode images: %w", err)
	}
	*l = images
	return nil
}

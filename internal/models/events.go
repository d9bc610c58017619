package models

import "time"

// Event types
const (
	EventTypeListingCreated   = "LISTING_CREATED"
	EventTypeListingSold      = "LISTING_SOLD"
	EventTypeListingRemoved   = "LISTING_REMOVED"
	EventTypeRequestSubmitted = "REQUEST_SUBMITTED"
	EventTypeRequestApproved  = "REQUEST_APPROVED"
	EventTypeRequestDenied    = "REQUEST_DENIED"
	EventTypeMessageSent      = "MESSAGE_SENT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// ListingCreatedEvent published when a seller posts a listing
type ListingCreatedEvent struct {
	BaseEvent
	ListingID int64  `json:"listing_id"`
	SellerID  int64  `json:"seller_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
}

// ListingSoldEvent published when an approval closes out a listing
type ListingSoldEvent struct {
	BaseEvent
	ListingID int64 `json:"listing_id"`
	SellerID  int64 `json:"seller_id"`
	BuyerID   int64 `json:"buyer_id"`
	RequestID int64 `json:"request_id"`
}

// ListingRemovedEvent published when a seller withdraws a listing
type ListingRemovedEvent struct {
	BaseEvent
	ListingID  int64   `json:"listing_id"`
	SellerID   int64   `json:"seller_id"`
	AutoDenied []int64 `json:"auto_denied_request_ids,omitempty"`
}

// RequestSubmittedEvent published when a new pending request is created
type RequestSubmittedEvent struct {
	BaseEvent
	RequestID int64 `json:"request_id"`
	ListingID int64 `json:"listing_id"`
	BuyerID   int64 `json:"buyer_id"`
	SellerID  int64 `json:"seller_id"`
}

// RequestDecidedEvent published for REQUEST_APPROVED and REQUEST_DENIED.
// AutoDenied lists sibling requests denied by an approval.
type RequestDecidedEvent struct {
	BaseEvent
	RequestID  int64   `json:"request_id"`
	ListingID  int64   `json:"listing_id"`
	BuyerID    int64   `json:"buyer_id"`
	SellerID   int64   `json:"seller_id"`
	Status     string  `json:"status"`
	AutoDenied []int64 `json:"auto_denied_request_ids,omitempty"`
}

// MessageSentEvent published when a direct message is stored
type MessageSentEvent struct {
	BaseEvent
	MessageID  int64 `json:"message_id"`
	FromUserID int64 `json:"from_user_id"`
	ToUserID   int64 `json:"to_user_id"`
}

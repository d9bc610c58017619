package redisclient

import (
	"context"
	"fmt"
	"time"
)

// ListingLocker serializes decisions on a listing across service instances.
type ListingLocker struct {
	client *Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewListingLocker creates a locker. ttl bounds how long a crashed holder blocks the
// listing; wait bounds how long Lock polls before giving up.
func NewListingLocker(client *Client, ttl, wait time.Duration) *ListingLocker {
	return &ListingLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  25 * time.Millisecond,
	}
}

// Lock blocks until the listing lock is held, the wait elapses, or ctx is done.
func (l *ListingLocker) Lock(ctx context.Context, listingID int64) (func(), error) {
	key := fmt.Sprintf("listing:%d", listingID)
	deadline := time.Now().Add(l.wait)

	for {
		token, ok, err := l.client.AcquireLock(ctx, key, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = l.client.ReleaseLock(ctx, key, token)
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("listing %d: %w", listingID, ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-service/internal/models"
)

// EventPublisher publishes domain events after their changes are committed.
type EventPublisher interface {
	PublishListingCreated(ctx context.Context, event *models.ListingCreatedEvent) error
	PublishListingSold(ctx context.Context, event *models.ListingSoldEvent) error
	PublishListingRemoved(ctx context.Context, event *models.ListingRemovedEvent) error
	PublishRequestSubmitted(ctx context.Context, event *models.RequestSubmittedEvent) error
	PublishRequestDecided(ctx context.Context, event *models.RequestDecidedEvent) error
	PublishMessageSent(ctx context.Context, event *models.MessageSentEvent) error
}

// ListingCache caches the active listings snapshot. Get reports the generation it looked
// under; Set writes under that generation, and Invalidate starts a new one, so a
// snapshot read before an invalidation is never served after it.
type ListingCache interface {
	GetActiveListings(ctx context.Context) (listings []models.Listing, gen int64, ok bool, err error)
	SetActiveListings(ctx context.Context, gen int64, listings []models.Listing, ttl time.Duration) error
	InvalidateActiveListings(ctx context.Context) error
}

// Locker provides mutual exclusion scoped to one listing.
type Locker interface {
	Lock(ctx context.Context, listingID int64) (unlock func(), err error)
}

// MemoryCache is an in-process ListingCache for single-instance deployments.
type MemoryCache struct {
	mu       sync.Mutex
	gen      int64
	listings []models.Listing
	expires  time.Time
	filled   bool
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{}
}

func (c *MemoryCache) GetActiveListings(context.Context) ([]models.Listing, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.filled || (!c.expires.IsZero() && time.Now().After(c.expires)) {
		return nil, c.gen, false, nil
	}
	out := make([]models.Listing, len(c.listings))
	copy(out, c.listings)
	return out, c.gen, true, nil
}

func (c *MemoryCache) SetActiveListings(_ context.Context, gen int64, listings []models.Listing, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return nil
	}
	c.listings = append([]models.Listing(nil), listings...)
	c.filled = true
	c.expires = time.Time{}
	if ttl > 0 {
		c.expires = time.Now().Add(ttl)
	}
	return nil
}

func (c *MemoryCache) InvalidateActiveListings(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.listings = nil
	c.filled = false
	return nil
}

// LocalLocker is an in-process Locker for single-instance deployments.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int64]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[int64]*localLock)}
}

// Lock blocks until the listing is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, listingID int64) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[listingID]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[listingID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(listingID, lk)
		return nil, fmt.Errorf("listing %d: %w", listingID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(listingID, lk)
		})
	}, nil
}

func (l *LocalLocker) release(listingID int64, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, listingID)
	}
}

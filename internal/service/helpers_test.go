package service

import (
	"context"
	"sync"
	"testing"

	"marketplace-service/internal/crypto"
	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures published events in memory.
type recordingPublisher struct {
	mu     sync.Mutex
	events []interface{}
}

func (p *recordingPublisher) record(e interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishListingCreated(_ context.Context, e *models.ListingCreatedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishListingSold(_ context.Context, e *models.ListingSoldEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishListingRemoved(_ context.Context, e *models.ListingRemovedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishRequestSubmitted(_ context.Context, e *models.RequestSubmittedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishRequestDecided(_ context.Context, e *models.RequestDecidedEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) PublishMessageSent(_ context.Context, e *models.MessageSentEvent) error {
	return p.record(e)
}

func (p *recordingPublisher) decided() []*models.RequestDecidedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*models.RequestDecidedEvent
	for _, e := range p.events {
		if d, ok := e.(*models.RequestDecidedEvent); ok {
			out = append(out, d)
		}
	}
	return out
}

type testEnv struct {
	store     *store.Store
	publisher *recordingPublisher
	users     *UserService
	listings  *ListingService
	requests  *RequestService
	messages  *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCache(t, NewMemoryCache())
}

func newTestEnvWithCache(t *testing.T, cache ListingCache) *testEnv {
	t.Helper()

	st, err := store.NewStore(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	hasher, err := crypto.NewPasswordHasher(crypto.HashParams{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	require.NoError(t, err)

	pub := &recordingPublisher{}
	listings := NewListingService(st, cache, NewLocalLocker(), pub, 0)

	return &testEnv{
		store:     st,
		publisher: pub,
		users:     NewUserService(st, hasher),
		listings:  listings,
		requests:  NewRequestService(st, listings, pub),
		messages:  NewMessageService(st, pub, 2),
	}
}

func (e *testEnv) register(t *testing.T, name string) *models.User {
	t.Helper()

	user, err := e.users.Register(context.Background(), &RegisterRequest{
		Username: name,
		Email:    name + "@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) list(t *testing.T, seller *models.User, price string) *models.Listing {
	t.Helper()

	listing, err := e.listings.CreateListing(context.Background(), &CreateListingRequest{
		Title:       "Desk lamp",
		Description: "Works fine",
		Price:       decimal.RequireFromString(price),
		Category:    "Home",
		Condition:   "Good",
		SellerID:    seller.ID,
		Location:    "Library",
		Images:      []string{"lamp.jpg"},
	})
	require.NoError(t, err)
	return listing
}

func (e *testEnv) submit(t *testing.T, listing *models.Listing, buyer *models.User) *models.Request {
	t.Helper()

	req, _, err := e.requests.Submit(context.Background(), &SubmitRequest{
		ItemID:  listing.ID,
		BuyerID: buyer.ID,
		Message: "interested",
	})
	require.NoError(t, err)
	return req
}

// assertSaleConsistent checks that a listing is sold iff exactly one of its requests is approved.
func assertSaleConsistent(t *testing.T, e *testEnv, listingID int64) {
	t.Helper()
	ctx := context.Background()

	listing, err := e.store.GetListingByID(ctx, listingID)
	require.NoError(t, err)
	reqs := e.requestsFor(t, listingID)

	approved := 0
	for _, r := range reqs {
		require.NotEqual(t, r.BuyerID, listing.SellerID)
		if r.Status == models.RequestStatusApproved {
			approved++
		}
	}
	require.LessOrEqual(t, approved, 1)
	require.Equal(t, listing.Status == models.ListingStatusSold, approved == 1,
		"listing status %s with %d approved requests", listing.Status, approved)
}

func (e *testEnv) requestsFor(t *testing.T, listingID int64) []models.Request {
	t.Helper()

	reqs := []models.Request{}
	err := e.store.GetDB().SelectContext(context.Background(), &reqs,
		"SELECT * FROM requests WHERE item_id = ? ORDER BY id", listingID)
	require.NoError(t, err)
	return reqs
}

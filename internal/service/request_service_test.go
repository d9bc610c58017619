package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"marketplace-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	buyer := env.register(t, "buyer")
	listing := env.list(t, seller, "25.00")

	req := env.submit(t, listing, buyer)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.Equal(t, seller.ID, req.SellerID)

	incoming, err := env.requests.ListIncomingForSeller(ctx, seller.ID)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, models.RequestStatusPending, incoming[0].Status)
	assert.Equal(t, "interested", incoming[0].Message)

	approved, err := env.requests.Decide(ctx, req.ID, "approved", seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)

	got, err := env.listings.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, got.Status)
	assertSaleConsistent(t, env, listing.ID)

	// a second buyer cannot request a sold listing
	late := env.register(t, "late")
	_, _, err = env.requests.Submit(ctx, &SubmitRequest{ItemID: listing.ID, BuyerID: late.ID})
	assert.ErrorIs(t, err, ErrInvalidState)

	pickups, err := env.requests.ListApproved(ctx, buyer.ID)
	require.NoError(t, err)
	require.Len(t, pickups, 1)
	assert.Equal(t, req.ID, pickups[0].ID)

	decided := env.publisher.decided()
	require.Len(t, decided, 1)
	assert.Equal(t, models.EventTypeRequestApproved, decided[0].EventType)
}

func TestSubmitIsIdempotentWhilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	buyer := env.register(t, "buyer")
	listing := env.list(t, seller, "10")

	first, created, err := env.requests.Submit(ctx, &SubmitRequest{ItemID: listing.ID, BuyerID: buyer.ID})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := env.requests.Submit(ctx, &SubmitRequest{ItemID: listing.ID, BuyerID: buyer.ID, Message: "again"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, env.requestsFor(t, listing.ID), 1)
}

func TestSubmitOwnListing(t *testing.T) {
	env := newTestEnv(t)
	seller := env.register(t, "seller")
	listing := env.list(t, seller, "10")

	_, _, err := env.requests.Submit(context.Background(), &SubmitRequest{ItemID: listing.ID, BuyerID: seller.ID})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitUnknownListing(t *testing.T) {
	env := newTestEnv(t)
	buyer := env.register(t, "buyer")

	_, _, err := env.requests.Submit(context.Background(), &SubmitRequest{ItemID: 404, BuyerID: buyer.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApproveDeniesSiblings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	listing := env.list(t, seller, "10")

	winner := env.submit(t, listing, env.register(t, "buyer1"))
	loser1 := env.submit(t, listing, env.register(t, "buyer2"))
	loser2 := env.submit(t, listing, env.register(t, "buyer3"))

	_, err := env.requests.Decide(ctx, winner.ID, DecisionApprove, seller.ID)
	require.NoError(t, err)

	for _, id := range []int64{loser1.ID, loser2.ID} {
		got, err := env.store.GetRequestByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusDenied, got.Status)
	}
	assertSaleConsistent(t, env, listing.ID)

	decided := env.publisher.decided()
	require.Len(t, decided, 1)
	assert.ElementsMatch(t, []int64{loser1.ID, loser2.ID}, decided[0].AutoDenied)
}

func TestDenyLeavesListingAndSiblings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	listing := env.list(t, seller, "10")

	first := env.submit(t, listing, env.register(t, "buyer1"))
	second := env.submit(t, listing, env.register(t, "buyer2"))

	denied, err := env.requests.Decide(ctx, first.ID, "rejected", seller.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusDenied, denied.Status)

	got, err := env.store.GetRequestByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, got.Status)

	l, err := env.listings.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusActive, l.Status)
}

func TestDecideErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	other := env.register(t, "other")
	listing := env.list(t, seller, "10")
	req := env.submit(t, listing, env.register(t, "buyer"))

	_, err := env.requests.Decide(ctx, 999, DecisionApprove, seller.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.requests.Decide(ctx, req.ID, DecisionApprove, other.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = env.requests.Decide(ctx, req.ID, "maybe", seller.ID)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.requests.Decide(ctx, req.ID, DecisionDeny, seller.ID)
	require.NoError(t, err)

	// terminal requests cannot be decided again
	_, err = env.requests.Decide(ctx, req.ID, DecisionDeny, seller.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = env.requests.Decide(ctx, req.ID, DecisionApprove, seller.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestApproveOnSoldListingConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	listing := env.list(t, seller, "10")
	req := env.submit(t, listing, env.register(t, "buyer"))

	ok, err := env.store.TransitionListingStatus(ctx, listing.ID, models.ListingStatusActive, models.ListingStatusSold)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = env.requests.Decide(ctx, req.ID, DecisionApprove, seller.ID)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := env.store.GetRequestByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, got.Status)
}

func TestConcurrentApprovalsOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	listing := env.list(t, seller, "10")

	var reqs []*models.Request
	for _, name := range []string{"buyer1", "buyer2", "buyer3", "buyer4"} {
		reqs = append(reqs, env.submit(t, listing, env.register(t, name)))
	}

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = env.requests.Decide(ctx, id, DecisionApprove, seller.ID)
		}(i, r.ID)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)

	got, err := env.listings.Get(ctx, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, got.Status)
	assertSaleConsistent(t, env, listing.ID)
}

func TestListForBuyer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	buyer := env.register(t, "buyer")

	first := env.submit(t, env.list(t, seller, "1"), buyer)
	env.submit(t, env.list(t, seller, "2"), buyer)

	_, err := env.requests.Decide(ctx, first.ID, DecisionApprove, seller.ID)
	require.NoError(t, err)

	all, err := env.requests.ListForBuyer(ctx, buyer.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	approved, err := env.requests.ListForBuyer(ctx, buyer.ID, models.RequestStatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "seller", approved[0].Seller)

	_, err = env.requests.ListForBuyer(ctx, buyer.ID, "bogus")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestParseDecision(t *testing.T) {
	for in, want := range map[string]string{
		"approved": DecisionApprove,
		"approve":  DecisionApprove,
		"denied":   DecisionDeny,
		"rejected": DecisionDeny,
		"Deny":     DecisionDeny,
	} {
		got, err := ParseDecision(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDecision("pending")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitRacingApprovalNeverLeavesPendingOnSoldListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")

	for round := 0; round < 10; round++ {
		listing := env.list(t, seller, "10")
		first := env.submit(t, listing, env.register(t, fmt.Sprintf("early%d", round)))
		late := env.register(t, fmt.Sprintf("late%d", round))

		var (
			wg        sync.WaitGroup
			submitted *models.Request
			submitErr error
			decideErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			submitted, _, submitErr = env.requests.Submit(ctx, &SubmitRequest{ItemID: listing.ID, BuyerID: late.ID})
		}()
		go func() {
			defer wg.Done()
			_, decideErr = env.requests.Decide(ctx, first.ID, DecisionApprove, seller.ID)
		}()
		wg.Wait()

		require.NoError(t, decideErr)
		if submitErr != nil {
			assert.ErrorIs(t, submitErr, ErrInvalidState)
		} else {
			got, err := env.store.GetRequestByID(ctx, submitted.ID)
			require.NoError(t, err)
			assert.Equal(t, models.RequestStatusDenied, got.Status)
		}

		for _, r := range env.requestsFor(t, listing.ID) {
			assert.NotEqual(t, models.RequestStatusPending, r.Status, "request %d left pending on sold listing", r.ID)
		}
		assertSaleConsistent(t, env, listing.ID)
	}
}

func TestSubmitOnSoldListing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	listing := env.list(t, seller, "10")
	req := env.submit(t, listing, env.register(t, "buyer"))

	_, err := env.requests.Decide(ctx, req.ID, DecisionApprove, seller.ID)
	require.NoError(t, err)

	_, _, err = env.requests.Submit(ctx, &SubmitRequest{ItemID: listing.ID, BuyerID: env.register(t, "late").ID})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Len(t, env.requestsFor(t, listing.ID), 1)
}

func TestCurrentStateErrorReportsLatestStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seller := env.register(t, "seller")
	req := env.submit(t, env.list(t, seller, "10"), env.register(t, "buyer"))

	_, err := env.requests.Decide(ctx, req.ID, DecisionDeny, seller.ID)
	require.NoError(t, err)

	err = currentStateError(ctx, env.store, req.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.RequestStatusDenied, stateErr.Status)
	assert.NotContains(t, err.Error(), models.RequestStatusPending)
}

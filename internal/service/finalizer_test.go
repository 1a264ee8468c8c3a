package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/store"
	"github.com/tunevault/platform/internal/store/memory"
)

func TestFinalize_HappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	a := h.track(t, "1.99")
	b := h.track(t, "2.49")
	h.add(t, user, a, b)

	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(448), ref.AmountMinor)

	h.gateway.pay(ref.ProviderID, 448)
	res, err := h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 2, res.TracksEntitled)

	p, err := h.store.FindPurchaseByProviderID(ctx, ref.ProviderID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, res.PurchaseID, p.ID)
	assert.Equal(t, "4.48", p.TotalAmount.StringFixed(2))
	assert.Equal(t, domain.PurchaseStatusCompleted, p.Status)
	require.NoError(t, p.CheckTotal())

	for _, tr := range []*domain.Track{a, b} {
		owned, err := h.access.CheckOwnership(ctx, user, tr.ID)
		require.NoError(t, err)
		assert.True(t, owned)

		got, err := h.store.LookupTrack(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.PurchaseCount)
	}

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())

	events, err := h.store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, p.ID.String(), events[0].AggregateID)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FinalizeTotal.WithLabelValues("committed")))
}

func TestFinalize_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	h.add(t, user, h.track(t, "1.99"), h.track(t, "2.49"))

	first := h.buy(t, user)
	calls := h.gateway.calls()

	second, err := h.purchases.Finalize(ctx, user, first.Purchase.PaymentProviderID)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.PurchaseID, second.PurchaseID)
	assert.Equal(t, first.TracksEntitled, second.TracksEntitled)
	assert.Equal(t, calls, h.gateway.calls(), "replay must not call the provider")

	library, err := h.access.Library(ctx, user)
	require.NoError(t, err)
	assert.Len(t, library, 2)

	purchases, err := h.purchases.ListPurchases(ctx, user, 0)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	events, err := h.store.FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFinalize_ReplayForAnotherUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	owner := uuid.New()
	h.add(t, owner, h.track(t, "1.00"))
	res := h.buy(t, owner)

	_, err := h.purchases.Finalize(ctx, uuid.New(), res.Purchase.PaymentProviderID)
	assert.True(t, domain.HasCode(err, domain.CodeForbidden))
}

func TestFinalize_PaymentNotCompleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.99")
	h.add(t, user, tr)

	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)

	_, err = h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.True(t, domain.HasCode(err, domain.CodePaymentNotCompleted), "got %v", err)
	assert.False(t, domain.IsRetryable(err))

	owned, err := h.access.CheckOwnership(ctx, user, tr.ID)
	require.NoError(t, err)
	assert.False(t, owned)

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ItemCount, "cart must be left intact")

	p, err := h.store.FindPurchaseByProviderID(ctx, ref.ProviderID)
	require.NoError(t, err)
	assert.Nil(t, p)

	// Paying later and finalizing again with the same id succeeds.
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)
	res, err := h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestFinalize_CartGrewAfterIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	a := h.track(t, "1.99")
	b := h.track(t, "2.49")
	h.add(t, user, a, b)

	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	h.add(t, user, h.track(t, "2.50"))
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	_, err = h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.True(t, domain.HasCode(err, domain.CodeAmountMismatch), "got %v", err)
	assert.Contains(t, err.Error(), "698")

	library, err := h.access.Library(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, library)

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ItemCount)
}

func TestFinalize_CartShrankAfterIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	a := h.track(t, "1.99")
	b := h.track(t, "2.49")
	h.add(t, user, a, b)

	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	require.NoError(t, h.carts.Remove(ctx, user, b.ID))
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	res, err := h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TracksEntitled)
	assert.Equal(t, "1.99", res.Purchase.TotalAmount.StringFixed(2))

	owned, err := h.access.CheckOwnership(ctx, user, b.ID)
	require.NoError(t, err)
	assert.False(t, owned, "only the tracks in the cart at commit time are granted")
}

func TestFinalize_EmptyCart(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.00")
	h.add(t, user, tr)

	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	require.NoError(t, h.carts.Clear(ctx, user))
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	_, err = h.purchases.Finalize(ctx, user, ref.ProviderID)
	assert.True(t, domain.HasCode(err, domain.CodeEmptyCart))
}

func TestFinalize_IntentOfAnotherUser(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	victim := uuid.New()
	attacker := uuid.New()
	h.add(t, victim, h.track(t, "1.00"))
	h.add(t, attacker, h.track(t, "9.00"))

	ref, err := h.purchases.CreateIntent(ctx, victim)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	_, err = h.purchases.Finalize(ctx, attacker, ref.ProviderID)
	assert.True(t, domain.HasCode(err, domain.CodeValidation))

	library, err := h.access.Library(ctx, attacker)
	require.NoError(t, err)
	assert.Empty(t, library)
}

func TestFinalize_InvalidProviderID(t *testing.T) {
	h := newHarness(t)
	_, err := h.purchases.Finalize(context.Background(), uuid.New(), "")
	assert.True(t, domain.HasCode(err, domain.CodeValidation))
	assert.Zero(t, h.gateway.calls())
}

func TestFinalize_GatewayUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	h.add(t, user, h.track(t, "1.00"))
	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	h.gateway.retrieveErr = domain.ErrGatewayUnavailable(context.DeadlineExceeded)
	_, err = h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1, h.gateway.calls(), "the provider is called once per finalize")

	h.gateway.retrieveErr = nil
	res, err := h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestFinalize_TransientCommitFailureRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	h.add(t, user, h.track(t, "1.00"))
	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	h.store.FailCommits(2)
	res, err := h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, 1, h.gateway.calls(), "retries reuse the provider confirmation")
}

func TestFinalize_CommitRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.00")
	h.add(t, user, tr)
	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	h.store.FailCommits(10)
	_, err = h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.True(t, domain.HasCode(err, domain.CodeStorage), "got %v", err)
	assert.ErrorIs(t, err, memory.ErrInjected)

	owned, err := h.access.CheckOwnership(ctx, user, tr.ID)
	require.NoError(t, err)
	assert.False(t, owned)

	h.store.FailCommits(0)
	res, err := h.purchases.Finalize(ctx, user, ref.ProviderID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TracksEntitled)
}

func TestFinalize_ConcurrentSameProviderID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	h.add(t, user, h.track(t, "1.99"), h.track(t, "2.49"))
	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	const workers = 8
	results := make([]*domain.FinalizeResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.purchases.Finalize(ctx, user, ref.ProviderID)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].PurchaseID, results[i].PurchaseID)
		if !results[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh, "exactly one caller commits")

	purchases, err := h.purchases.ListPurchases(ctx, user, 10)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	library, err := h.access.Library(ctx, user)
	require.NoError(t, err)
	assert.Len(t, library, 2)
}

func TestFinalize_ConcurrentCartMutation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	a := h.track(t, "1.00")
	extra := h.track(t, "1.00")
	h.add(t, user, a)
	ref, err := h.purchases.CreateIntent(ctx, user)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)

	var wg sync.WaitGroup
	var finErr, addErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, finErr = h.purchases.Finalize(ctx, user, ref.ProviderID)
	}()
	go func() {
		defer wg.Done()
		_, addErr = h.carts.Add(ctx, user, extra.ID)
	}()
	wg.Wait()
	require.NoError(t, addErr)

	// Either the add landed first (cart total 2.00 > charged 1.00) or the
	// finalize committed first and the add went into a fresh cart.
	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	if finErr != nil {
		assert.True(t, domain.HasCode(finErr, domain.CodeAmountMismatch))
		assert.Equal(t, 2, snap.ItemCount)
	} else {
		assert.Equal(t, []uuid.UUID{extra.ID}, snap.TrackIDs())
		owned, err := h.access.CheckOwnership(ctx, user, extra.ID)
		require.NoError(t, err)
		assert.False(t, owned)
	}
}

func TestFinalizer_StateTransitionsGuarded(t *testing.T) {
	h := newHarness(t)
	log := h.finalizer.logger
	assert.Equal(t, domain.FinalizeVerifying, h.finalizer.advance(domain.FinalizeInitiated, domain.FinalizeVerifying, log))
	assert.Equal(t, domain.FinalizeCommitted, h.finalizer.advance(domain.FinalizeCommitted, domain.FinalizeRejected, log))
}

// staleLookupStore misses the first idempotency lookup and every lookup made
// inside the lock, as if a concurrent finalize committed in between.
type staleLookupStore struct {
	*memory.Store
	misses atomic.Int32
}

func (s *staleLookupStore) FindPurchaseByProviderID(ctx context.Context, providerID string) (*domain.Purchase, error) {
	if s.misses.Add(1) == 1 {
		return nil, nil
	}
	return s.Store.FindPurchaseByProviderID(ctx, providerID)
}

func (s *staleLookupStore) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.Store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, staleLookupTx{tx})
	})
}

type staleLookupTx struct{ store.Tx }

func (staleLookupTx) FindPurchaseByProviderID(context.Context, string) (*domain.Purchase, error) {
	return nil, nil
}

func TestFinalize_LostRaceReplays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	h.add(t, user, h.track(t, "2.49"))
	first := h.buy(t, user)

	// A new cart line keeps the commit from stopping at EmptyCart.
	next := h.track(t, "0.99")
	h.add(t, user, next)

	racing := &staleLookupStore{Store: h.store}
	fin := NewFinalizer(racing, h.gateway, nil, FinalizerConfig{
		Currency:             "usd",
		CommitAttempts:       3,
		RetryInitialInterval: time.Millisecond,
	}, h.metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))

	res, err := fin.Finalize(ctx, user, first.Purchase.PaymentProviderID)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, first.PurchaseID, res.PurchaseID)
	assert.Equal(t, first.TracksEntitled, res.TracksEntitled)
	assert.Equal(t, int32(2), racing.misses.Load(), "conflict resolved by one fresh lookup")

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{next.ID}, snap.TrackIDs(), "losing commit must leave the cart alone")

	purchases, err := h.purchases.ListPurchases(ctx, user, 0)
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	owned, err := h.access.CheckOwnership(ctx, user, next.ID)
	require.NoError(t, err)
	assert.False(t, owned)

	_, err = fin.Finalize(ctx, uuid.New(), first.Purchase.PaymentProviderID)
	assert.True(t, domain.HasCode(err, domain.CodeForbidden), "got %v", err)
}

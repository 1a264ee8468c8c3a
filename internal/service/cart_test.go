package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tunevault/platform/internal/domain"
)

func TestCartService_Add(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.99")

	item, err := h.carts.Add(ctx, user, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, user, item.UserID)
	assert.Equal(t, tr.ID, item.TrackID)
	assert.False(t, item.AddedAt.IsZero())

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.ItemCount)
	assert.Equal(t, "1.99", snap.Total.StringFixed(2))
}

func TestCartService_AddRejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()

	owned := h.track(t, "2.00")
	h.add(t, user, owned)
	h.buy(t, user)

	inCart := h.track(t, "1.00")
	h.add(t, user, inCart)

	inactive := h.track(t, "3.00")
	h.deactivate(t, inactive)

	tests := []struct {
		name    string
		trackID uuid.UUID
		code    string
	}{
		{"already in cart", inCart.ID, domain.CodeAlreadyInCart},
		{"already owned", owned.ID, domain.CodeAlreadyOwned},
		{"inactive track", inactive.ID, domain.CodeTrackUnavailable},
		{"unknown track", uuid.New(), domain.CodeTrackUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := h.carts.Snapshot(ctx, user)
			require.NoError(t, err)

			_, err = h.carts.Add(ctx, user, tt.trackID)
			assert.True(t, domain.HasCode(err, tt.code), "got %v", err)

			after, err := h.carts.Snapshot(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, before.TrackIDs(), after.TrackIDs(), "rejected add must not mutate the cart")
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CartOps.WithLabelValues("add", domain.CodeAlreadyOwned)))
}

func TestCartService_OwnershipBeatsCartState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.00")
	h.add(t, user, tr)
	h.buy(t, user)

	// Owned and deactivated: ownership is still the reported reason.
	h.deactivate(t, tr)
	_, err := h.carts.Add(ctx, user, tr.ID)
	assert.True(t, domain.HasCode(err, domain.CodeAlreadyOwned))
}

func TestCartService_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	a := h.track(t, "1.00")
	b := h.track(t, "2.00")
	h.add(t, user, a, b)

	require.NoError(t, h.carts.Remove(ctx, user, a.ID))
	require.NoError(t, h.carts.Remove(ctx, user, a.ID))
	require.NoError(t, h.carts.Remove(ctx, user, uuid.New()))

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID}, snap.TrackIDs())
}

func TestCartService_Clear(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	other := uuid.New()
	a := h.track(t, "1.00")
	h.add(t, user, a)
	h.add(t, other, a)

	require.NoError(t, h.carts.Clear(ctx, user))
	require.NoError(t, h.carts.Clear(ctx, user))

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.Equal(t, 0, snap.ItemCount)

	otherSnap, err := h.carts.Snapshot(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, otherSnap.ItemCount, "carts are per user")
}

func TestCartService_SnapshotUsesCurrentPrices(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.99")
	h.add(t, user, tr)

	repriced := *tr
	repriced.Price = tr.Price.Add(tr.Price)
	require.NoError(t, h.store.Seed(ctx, &repriced))

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "3.98", snap.Total.StringFixed(2))
}

func TestCartService_ConcurrentAddSameTrack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	user := uuid.New()
	tr := h.track(t, "1.29")

	const workers = 16
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.carts.Add(ctx, user, tr.ID)
		}(i)
	}
	wg.Wait()

	added, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			added++
		case domain.HasCode(err, domain.CodeAlreadyInCart):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, added, "exactly one add wins")
	assert.Equal(t, workers-1, dup)

	snap, err := h.carts.Snapshot(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{tr.ID}, snap.TrackIDs())
	assert.Equal(t, float64(workers-1), testutil.ToFloat64(h.metrics.CartOps.WithLabelValues("add", domain.CodeAlreadyInCart)))
}

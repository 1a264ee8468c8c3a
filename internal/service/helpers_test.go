package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tunevault/platform/internal/cache"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/guard"
	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/provider"
	"github.com/tunevault/platform/internal/store/memory"
)

const testWebhookSecret = "whsec_test"

// fakeGateway hands out intents and answers status from a table.
type fakeGateway struct {
	mu            sync.Mutex
	seq           int
	reports       map[string]*domain.PaymentStatusReport
	retrieveErr   error
	retrieveCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{reports: make(map[string]*domain.PaymentStatusReport)}
}

func (g *fakeGateway) CreateIntent(_ context.Context, userID uuid.UUID, snapshot *domain.CartSnapshot) (*domain.PaymentIntentRef, error) {
	if snapshot.IsEmpty() {
		return nil, domain.ErrEmptyCart()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("pi_test_%d", g.seq)
	amount := snapshot.TotalMinorUnits()
	g.reports[id] = &domain.PaymentStatusReport{
		ProviderID: id,
		Status:     domain.PaymentPending,
		Currency:   "usd",
		UserID:     userID,
		TrackIDs:   snapshot.TrackIDs(),
	}
	return &domain.PaymentIntentRef{
		ProviderID:   id,
		ClientSecret: id + "_secret",
		AmountMinor:  amount,
		Currency:     "usd",
		UserID:       userID,
		TrackIDs:     snapshot.TrackIDs(),
	}, nil
}

func (g *fakeGateway) RetrieveStatus(_ context.Context, providerID string) (*domain.PaymentStatusReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.retrieveCalls++
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	r, ok := g.reports[providerID]
	if !ok {
		return nil, domain.ErrNotFound("payment intent", providerID)
	}
	cp := *r
	return &cp, nil
}

// pay marks an intent as succeeded with the given charged amount.
func (g *fakeGateway) pay(providerID string, chargedMinor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.reports[providerID]
	r.Status = domain.PaymentSucceeded
	r.ChargedAmountMinor = chargedMinor
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retrieveCalls
}

type harness struct {
	store     *memory.Store
	gateway   *fakeGateway
	carts     *CartService
	finalizer *Finalizer
	purchases *PurchaseService
	access    *AccessGate
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	gw := newFakeGateway()
	m := metrics.New(prometheus.NewRegistry())

	carts := NewCartService(st, m, logger)
	fin := NewFinalizer(st, gw, cache.Noop{}, FinalizerConfig{
		Currency:             "usd",
		CommitAttempts:       3,
		RetryInitialInterval: time.Millisecond,
	}, m, logger)
	verifier := provider.NewStripeProvider("", testWebhookSecret)

	return &harness{
		store:     st,
		gateway:   gw,
		carts:     carts,
		finalizer: fin,
		purchases: NewPurchaseService(st, carts, gw, fin, verifier, guard.NewIdempotencyGuard(time.Hour), logger),
		access:    NewAccessGate(st, nil, m, logger),
		metrics:   m,
	}
}

func (h *harness) track(t *testing.T, price string) *domain.Track {
	t.Helper()
	tr := &domain.Track{
		ID:          uuid.New(),
		Title:       "Track " + price,
		Artist:      "Artist",
		Price:       decimal.RequireFromString(price),
		Active:      true,
		AudioFile:   uuid.NewString() + ".mp3",
		PreviewFile: uuid.NewString() + "-preview.mp3",
	}
	require.NoError(t, h.store.Seed(context.Background(), tr))
	return tr
}

func (h *harness) deactivate(t *testing.T, tr *domain.Track) {
	t.Helper()
	cp := *tr
	cp.Active = false
	require.NoError(t, h.store.Seed(context.Background(), &cp))
}

func (h *harness) add(t *testing.T, userID uuid.UUID, tracks ...*domain.Track) {
	t.Helper()
	for _, tr := range tracks {
		_, err := h.carts.Add(context.Background(), userID, tr.ID)
		require.NoError(t, err)
	}
}

// buy runs the whole checkout for the user's current cart.
func (h *harness) buy(t *testing.T, userID uuid.UUID) *domain.FinalizeResult {
	t.Helper()
	ctx := context.Background()
	ref, err := h.purchases.CreateIntent(ctx, userID)
	require.NoError(t, err)
	h.gateway.pay(ref.ProviderID, ref.AmountMinor)
	res, err := h.purchases.Finalize(ctx, userID, ref.ProviderID)
	require.NoError(t, err)
	return res
}

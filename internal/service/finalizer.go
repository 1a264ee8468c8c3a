package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/cache"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/store"
)

// PaymentGateway is the provider boundary the purchase flow depends on.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, userID uuid.UUID, snapshot *domain.CartSnapshot) (*domain.PaymentIntentRef, error)
	RetrieveStatus(ctx context.Context, providerID string) (*domain.PaymentStatusReport, error)
}

// FinalizerConfig tunes the commit retry loop.
type FinalizerConfig struct {
	Currency string
	// CommitAttempts bounds how often a transient storage failure of the
	// commit step is retried with the same provider confirmation.
	CommitAttempts int
	// RetryInitialInterval is the first backoff delay between attempts.
	RetryInitialInterval time.Duration
}

// Finalizer turns a confirmed payment into a purchase, entitlements and an
// empty cart, exactly once per payment provider id.
//
// Steps:
//  1. Idempotency guard: a recorded purchase for the provider id is replayed.
//  2. Verify with the provider, outside any lock or transaction.
//  3. Under the user's lock: re-check the guard, re-read the cart, price it
//     from the catalog, reconcile against the charged amount.
//  4. Commit purchase, entitlements, counters, outbox event and cart clear
//     as one unit.
type Finalizer struct {
	store   store.Store
	gateway PaymentGateway
	cache   cache.OwnershipCache
	cfg     FinalizerConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(st store.Store, gw PaymentGateway, c cache.OwnershipCache, cfg FinalizerConfig, m *metrics.Metrics, logger *slog.Logger) *Finalizer {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.CommitAttempts < 1 {
		cfg.CommitAttempts = 3
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 50 * time.Millisecond
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Finalizer{
		store:   st,
		gateway: gw,
		cache:   c,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Finalize records the purchase paid by providerID for userID. Calling it
// again with the same providerID returns the original result with Replayed set.
func (f *Finalizer) Finalize(ctx context.Context, userID uuid.UUID, providerID string) (*domain.FinalizeResult, error) {
	started := time.Now()
	log := f.logger.With("user_id", userID, "provider_id", providerID)

	if err := domain.ValidateProviderID(providerID); err != nil {
		f.metrics.Finalize(codeOf(err), started)
		return nil, err
	}

	state := domain.FinalizeInitiated

	existing, err := f.store.FindPurchaseByProviderID(ctx, providerID)
	if err != nil {
		err = storageErr("idempotency lookup", err)
		f.metrics.Finalize(codeOf(err), started)
		return nil, err
	}
	if existing != nil {
		return f.replay(existing, userID, started, log)
	}

	state = f.advance(state, domain.FinalizeVerifying, log)

	report, err := f.gateway.RetrieveStatus(ctx, providerID)
	if err != nil {
		return nil, f.reject(state, err, started, log)
	}
	if report.UserID != uuid.Nil && report.UserID != userID {
		log.Warn("payment intent belongs to another user", "intent_user_id", report.UserID)
		return nil, f.reject(state, domain.ErrValidation("payment does not belong to this user"), started, log)
	}
	if report.Status != domain.PaymentSucceeded {
		return nil, f.reject(state, domain.ErrPaymentNotCompleted(report.Status), started, log)
	}

	result, err := f.commitWithRetry(ctx, userID, providerID, report, log)
	if errors.Is(err, domain.ErrDuplicatePurchase) {
		// Lost a race with a concurrent finalize for the same provider id.
		existing, ferr := f.store.FindPurchaseByProviderID(ctx, providerID)
		if ferr != nil {
			return nil, f.reject(state, storageErr("idempotency lookup", ferr), started, log)
		}
		if existing == nil {
			return nil, f.reject(state, domain.ErrInternal("duplicate purchase not found", err), started, log)
		}
		return f.replay(existing, userID, started, log)
	}
	if err != nil {
		return nil, f.reject(state, storageErr("commit purchase", err), started, log)
	}
	if result.Replayed {
		return f.replay(result.Purchase, userID, started, log)
	}

	f.advance(state, domain.FinalizeCommitted, log)
	f.warmCache(ctx, result.Purchase, log)
	f.metrics.Finalize("committed", started)
	log.Info("purchase finalized",
		"purchase_id", result.PurchaseID,
		"tracks", result.TracksEntitled,
		"total", result.Purchase.TotalAmount.StringFixed(2),
		"charged_minor", report.ChargedAmountMinor)
	return result, nil
}

// commitWithRetry runs steps 3 and 4, retrying only transient storage
// failures. The provider is not called again.
func (f *Finalizer) commitWithRetry(ctx context.Context, userID uuid.UUID, providerID string, report *domain.PaymentStatusReport, log *slog.Logger) (*domain.FinalizeResult, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.RetryInitialInterval
	b.MaxInterval = 2 * time.Second

	attempt := 0
	return backoff.Retry(ctx, func() (*domain.FinalizeResult, error) {
		attempt++
		result, err := f.commit(ctx, userID, providerID, report)
		if err == nil {
			return result, nil
		}
		var appErr *domain.AppError
		if errors.As(err, &appErr) || errors.Is(err, domain.ErrDuplicatePurchase) {
			return nil, backoff.Permanent(err)
		}
		log.Warn("finalize commit failed, retrying", "attempt", attempt, "error", err)
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.cfg.CommitAttempts)),
	)
}

func (f *Finalizer) commit(ctx context.Context, userID uuid.UUID, providerID string, report *domain.PaymentStatusReport) (*domain.FinalizeResult, error) {
	var result *domain.FinalizeResult
	err := f.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		// A previous attempt may have committed before its acknowledgement was lost.
		existing, err := tx.FindPurchaseByProviderID(ctx, providerID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = domain.ResultFor(existing, true)
			return nil
		}

		lines, err := tx.CartLines(ctx, userID)
		if err != nil {
			return err
		}
		items, err := tx.CartItems(ctx, userID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return domain.ErrEmptyCart()
		}
		if len(lines) != len(items) {
			priced := make(map[uuid.UUID]bool, len(lines))
			for _, l := range lines {
				priced[l.TrackID] = true
			}
			for _, it := range items {
				if !priced[it.TrackID] {
					return domain.ErrTrackUnavailable(it.TrackID.String())
				}
			}
		}
		for _, l := range lines {
			owned, err := tx.HasEntitlement(ctx, userID, l.TrackID)
			if err != nil {
				return err
			}
			if owned {
				return domain.ErrAlreadyOwned(l.TrackID.String())
			}
		}

		snapshot := domain.NewCartSnapshot(userID, lines)
		required := snapshot.TotalMinorUnits()
		if report.ChargedAmountMinor < required {
			return domain.ErrAmountMismatch(report.ChargedAmountMinor, required)
		}

		purchase := domain.NewCompletedPurchase(snapshot, providerID, report.ProviderID, f.cfg.Currency, f.now().UTC().Truncate(time.Microsecond))
		if err := purchase.CheckTotal(); err != nil {
			return domain.ErrInternal("purchase total", err)
		}
		if err := tx.CommitPurchase(ctx, purchase); err != nil {
			return err
		}
		if _, err := tx.ClearCart(ctx, userID); err != nil {
			return err
		}
		result = domain.ResultFor(purchase, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay returns a recorded purchase, refusing to reveal it to another user.
func (f *Finalizer) replay(p *domain.Purchase, userID uuid.UUID, started time.Time, log *slog.Logger) (*domain.FinalizeResult, error) {
	if p.UserID != userID {
		log.Warn("finalize replay for another user's purchase", "purchase_id", p.ID)
		err := domain.ErrForbidden("payment belongs to another user")
		f.metrics.Finalize(codeOf(err), started)
		return nil, err
	}
	f.metrics.Finalize("replayed", started)
	log.Info("finalize replayed", "purchase_id", p.ID)
	return domain.ResultFor(p, true), nil
}

func (f *Finalizer) reject(state domain.FinalizeState, err error, started time.Time, log *slog.Logger) error {
	f.advance(state, domain.FinalizeRejected, log)
	f.metrics.Finalize(codeOf(err), started)
	if domain.IsRetryable(err) {
		log.Error("finalize failed", "error", err)
	} else {
		log.Warn("finalize rejected", "error", err)
	}
	return err
}

func (f *Finalizer) advance(from, to domain.FinalizeState, log *slog.Logger) domain.FinalizeState {
	if !from.CanTransitionTo(to) {
		log.Error("illegal finalize transition", "from", from, "to", to)
		return from
	}
	log.Debug("finalize transition", "from", from, "to", to)
	return to
}

func (f *Finalizer) warmCache(ctx context.Context, p *domain.Purchase, log *slog.Logger) {
	if err := f.cache.MarkOwned(ctx, p.UserID, p.TrackIDs()...); err != nil {
		log.Warn("entitlement cache warm failed", "error", err)
	}
}

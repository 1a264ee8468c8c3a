package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/store"
)

// CartService manages a user's pending purchase set. Every mutation runs
// under the user's lock, so it serializes with other mutations and with
// finalization for the same user.
type CartService struct {
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewCartService creates a CartService.
func NewCartService(st store.Store, m *metrics.Metrics, logger *slog.Logger) *CartService {
	return &CartService{store: st, metrics: m, logger: logger, now: time.Now}
}

// Add puts a track in the cart. Owned tracks, duplicates and inactive or
// unknown tracks are rejected without mutation.
func (s *CartService) Add(ctx context.Context, userID, trackID uuid.UUID) (*domain.CartItem, error) {
	var item *domain.CartItem
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		owned, err := tx.HasEntitlement(ctx, userID, trackID)
		if err != nil {
			return err
		}
		if owned {
			return domain.ErrAlreadyOwned(trackID.String())
		}

		items, err := tx.CartItems(ctx, userID)
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.TrackID == trackID {
				return domain.ErrAlreadyInCart(trackID.String())
			}
		}

		track, err := tx.LookupTrack(ctx, trackID)
		if err != nil {
			return err
		}
		if !track.Purchasable() {
			return domain.ErrTrackUnavailable(trackID.String())
		}

		next := domain.CartItem{UserID: userID, TrackID: trackID, AddedAt: s.now().UTC().Truncate(time.Microsecond)}
		if err := tx.AddCartItem(ctx, next); err != nil {
			return err
		}
		item = &next
		return nil
	})
	s.metrics.CartOp("add", codeOf(err))
	if err != nil {
		return nil, storageErr("add cart item", err)
	}

	s.logger.Info("cart item added", "user_id", userID, "track_id", trackID)
	return item, nil
}

// Remove deletes a track from the cart. Removing an absent track succeeds.
func (s *CartService) Remove(ctx context.Context, userID, trackID uuid.UUID) error {
	var removed bool
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		removed, err = tx.RemoveCartItem(ctx, userID, trackID)
		return err
	})
	s.metrics.CartOp("remove", codeOf(err))
	if err != nil {
		return storageErr("remove cart item", err)
	}

	if removed {
		s.logger.Info("cart item removed", "user_id", userID, "track_id", trackID)
	}
	return nil
}

// Snapshot returns the cart priced at current catalog prices.
func (s *CartService) Snapshot(ctx context.Context, userID uuid.UUID) (*domain.CartSnapshot, error) {
	lines, err := s.store.CartLines(ctx, userID)
	if err != nil {
		return nil, storageErr("read cart", err)
	}
	return domain.NewCartSnapshot(userID, lines), nil
}

// Clear empties the cart.
func (s *CartService) Clear(ctx context.Context, userID uuid.UUID) error {
	var n int
	err := s.store.WithUserLock(ctx, userID, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = tx.ClearCart(ctx, userID)
		return err
	})
	s.metrics.CartOp("clear", codeOf(err))
	if err != nil {
		return storageErr("clear cart", err)
	}

	s.logger.Info("cart cleared", "user_id", userID, "removed", n)
	return nil
}

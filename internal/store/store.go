// Package store defines the persistence boundary of the purchase core.
//
// A Store serves plain reads directly and runs every cart mutation and every
// purchase commit inside WithUserLock, which holds the user's lock and makes
// all writes of one call visible together or not at all.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
)

// Reader is the read surface shared by a Store and an open Tx.
type Reader interface {
	// LookupTrack returns the catalog row or nil when the track does not exist.
	LookupTrack(ctx context.Context, trackID uuid.UUID) (*domain.Track, error)

	// CartItems returns the user's cart items in insertion order.
	CartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)

	// CartLines returns the cart joined with current catalog prices as one
	// consistent read.
	CartLines(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, error)

	HasEntitlement(ctx context.Context, userID, trackID uuid.UUID) (bool, error)
	ListEntitlements(ctx context.Context, userID uuid.UUID) ([]domain.EntitlementRecord, error)

	// FindPurchaseByProviderID returns nil when no purchase is recorded.
	FindPurchaseByProviderID(ctx context.Context, providerID string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Purchase, error)
	ListRecentPurchases(ctx context.Context, limit int) ([]domain.Purchase, error)
}

// Tx is a unit of work holding one user's lock.
type Tx interface {
	Reader

	// AddCartItem returns an ALREADY_IN_CART error for a duplicate item.
	AddCartItem(ctx context.Context, item domain.CartItem) error
	RemoveCartItem(ctx context.Context, userID, trackID uuid.UUID) (bool, error)
	ClearCart(ctx context.Context, userID uuid.UUID) (int, error)

	// CommitPurchase appends the purchase and its lines, one entitlement per
	// line, the catalog purchase counters and the purchase.completed outbox
	// event. It returns domain.ErrDuplicatePurchase when the provider id is
	// already recorded.
	CommitPurchase(ctx context.Context, p *domain.Purchase) error
}

// Store is the persistence boundary used by the services.
type Store interface {
	Reader

	// WithUserLock runs fn with the user's lock held. When fn returns an
	// error every write made through tx is discarded.
	WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error

	// IncrementPlayCount is best effort and outside any user lock.
	IncrementPlayCount(ctx context.Context, trackID uuid.UUID) error

	// FetchUnpublished and MarkPublished feed the outbox relay.
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error)
	MarkPublished(ctx context.Context, seqIDs []int64) error

	Ping(ctx context.Context) error
}

package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tunevault/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TrackRepository provides access to the tracks catalog.
type TrackRepository interface {
	// FindByID returns a track or nil when it does not exist.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Track, error)

	// IncrementPlayCount bumps play_count by one.
	IncrementPlayCount(ctx context.Context, db DBTX, id uuid.UUID) error

	// IncrementPurchaseCounts bumps purchase_count by one for each id.
	IncrementPurchaseCounts(ctx context.Context, db DBTX, ids []uuid.UUID) error

	// Upsert writes a catalog row. Used by seeding and tests.
	Upsert(ctx context.Context, db DBTX, track *domain.Track) error
}

// CartRepository provides access to carts and cart_items.
type CartRepository interface {
	// LockForUpdate creates the user's cart row if needed and holds
	// SELECT FOR UPDATE on it until tx ends. Every cart mutation and every
	// finalize for the user serializes on this row.
	LockForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error

	// ListItems returns the user's cart items ordered by added_at.
	ListItems(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.CartItem, error)

	// ListLines returns the cart joined with current catalog prices in one statement.
	ListLines(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.CartLine, error)

	// InsertItem adds a cart item. A duplicate (user, track) returns ErrAlreadyInCart.
	InsertItem(ctx context.Context, db DBTX, item domain.CartItem) error

	// DeleteItem removes one item and reports whether it existed.
	DeleteItem(ctx context.Context, db DBTX, userID, trackID uuid.UUID) (bool, error)

	// Clear removes every item and returns how many were removed.
	Clear(ctx context.Context, db DBTX, userID uuid.UUID) (int, error)
}

// EntitlementRepository provides access to the append-only entitlements table.
type EntitlementRepository interface {
	// Exists reports whether the user owns the track.
	Exists(ctx context.Context, db DBTX, userID, trackID uuid.UUID) (bool, error)

	// InsertBatch appends entitlement records.
	InsertBatch(ctx context.Context, db DBTX, records []domain.EntitlementRecord) error

	// ListByUser returns the user's entitlements, newest first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.EntitlementRecord, error)
}

// PurchaseRepository provides access to purchases and purchase_lines.
type PurchaseRepository interface {
	// Insert appends a purchase with its lines. A second purchase for the same
	// payment provider id returns domain.ErrDuplicatePurchase.
	Insert(ctx context.Context, db DBTX, p *domain.Purchase) error

	// FindByProviderID is the idempotency lookup. Returns nil when absent.
	FindByProviderID(ctx context.Context, db DBTX, providerID string) (*domain.Purchase, error)

	// ListByUser returns the user's purchases, newest first.
	ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.Purchase, error)

	// ListRecent returns purchases across all users, newest first.
	ListRecent(ctx context.Context, db DBTX, limit int) ([]domain.Purchase, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event in the same transaction as the purchase.
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events in commit order.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxDraft, error)

	// MarkPublished stamps publishedAt on the given rows.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}

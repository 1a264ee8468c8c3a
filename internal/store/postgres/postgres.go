// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/repository"
	"github.com/tunevault/platform/internal/store"
)

type repos struct {
	tracks       repository.TrackRepository
	carts        repository.CartRepository
	entitlements repository.EntitlementRepository
	purchases    repository.PurchaseRepository
	outbox       repository.OutboxRepository
}

// Store is the PostgreSQL store.
type Store struct {
	queries
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithReadPool routes entitlement reads to a replica pool. Ownership checks
// made inside WithUserLock always go to the primary.
func WithReadPool(replica *pgxpool.Pool) Option {
	return func(s *Store) {
		if replica != nil {
			s.entitlementDB = replica
		}
	}
}

// New creates a Store over the primary pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	r := &repos{
		tracks:       repository.NewTrackRepository(),
		carts:        repository.NewCartRepository(),
		entitlements: repository.NewEntitlementRepository(),
		purchases:    repository.NewPurchaseRepository(),
		outbox:       repository.NewOutboxRepository(),
	}
	s := &Store{
		queries: queries{db: pool, entitlementDB: pool, r: r},
		pool:    pool,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithUserLock begins a transaction, takes the user's cart row lock and runs fn.
func (s *Store) WithUserLock(ctx context.Context, userID uuid.UUID, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := s.r.carts.LockForUpdate(ctx, pgTx, userID); err != nil {
		return err
	}

	t := &tx{queries: queries{db: pgTx, entitlementDB: pgTx, r: s.r}}
	if err := fn(ctx, t); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) IncrementPlayCount(ctx context.Context, trackID uuid.UUID) error {
	return s.r.tracks.IncrementPlayCount(ctx, s.pool, trackID)
}

func (s *Store) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxDraft, error) {
	return s.r.outbox.FetchUnpublished(ctx, s.pool, limit)
}

func (s *Store) MarkPublished(ctx context.Context, seqIDs []int64) error {
	return s.r.outbox.MarkPublished(ctx, s.pool, seqIDs)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// queries binds the repositories to one DBTX.
type queries struct {
	db            repository.DBTX
	entitlementDB repository.DBTX
	r             *repos
}

func (q queries) LookupTrack(ctx context.Context, trackID uuid.UUID) (*domain.Track, error) {
	return q.r.tracks.FindByID(ctx, q.db, trackID)
}

func (q queries) CartItems(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	return q.r.carts.ListItems(ctx, q.db, userID)
}

func (q queries) CartLines(ctx context.Context, userID uuid.UUID) ([]domain.CartLine, error) {
	return q.r.carts.ListLines(ctx, q.db, userID)
}

func (q queries) HasEntitlement(ctx context.Context, userID, trackID uuid.UUID) (bool, error) {
	return q.r.entitlements.Exists(ctx, q.entitlementDB, userID, trackID)
}

func (q queries) ListEntitlements(ctx context.Context, userID uuid.UUID) ([]domain.EntitlementRecord, error) {
	return q.r.entitlements.ListByUser(ctx, q.entitlementDB, userID)
}

func (q queries) FindPurchaseByProviderID(ctx context.Context, providerID string) (*domain.Purchase, error) {
	return q.r.purchases.FindByProviderID(ctx, q.db, providerID)
}

func (q queries) ListPurchases(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Purchase, error) {
	return q.r.purchases.ListByUser(ctx, q.db, userID, limit)
}

func (q queries) ListRecentPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	return q.r.purchases.ListRecent(ctx, q.db, limit)
}

// tx is a store.Tx over an open pgx transaction.
type tx struct {
	queries
}

var _ store.Tx = (*tx)(nil)

func (t *tx) AddCartItem(ctx context.Context, item domain.CartItem) error {
	return t.r.carts.InsertItem(ctx, t.db, item)
}

func (t *tx) RemoveCartItem(ctx context.Context, userID, trackID uuid.UUID) (bool, error) {
	return t.r.carts.DeleteItem(ctx, t.db, userID, trackID)
}

func (t *tx) ClearCart(ctx context.Context, userID uuid.UUID) (int, error) {
	return t.r.carts.Clear(ctx, t.db, userID)
}

// CommitPurchase follows the ledger order: append purchase (the unique
// provider id is the idempotency backstop), entitlements, counters, outbox.
func (t *tx) CommitPurchase(ctx context.Context, p *domain.Purchase) error {
	if err := t.r.purchases.Insert(ctx, t.db, p); err != nil {
		return err
	}
	if err := t.r.entitlements.InsertBatch(ctx, t.db, p.Entitlements()); err != nil {
		return err
	}
	if err := t.r.tracks.IncrementPurchaseCounts(ctx, t.db, p.TrackIDs()); err != nil {
		return err
	}
	if err := t.r.outbox.Insert(ctx, t.db, domain.NewPurchaseCompletedEvent(p)); err != nil {
		return err
	}
	return nil
}

// Seed upserts catalog rows. Used by local bootstrapping and tests.
func (s *Store) Seed(ctx context.Context, tracks ...*domain.Track) error {
	for _, t := range tracks {
		if err := domain.ValidatePrice(t.Price); err != nil {
			return fmt.Errorf("seed track %s: %w", t.ID, err)
		}
	}
	return pgx.BeginFunc(ctx, s.pool, func(pgTx pgx.Tx) error {
		for _, t := range tracks {
			if err := s.r.tracks.Upsert(ctx, pgTx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// Package memory implements store.Store in process memory.
//
// One mutex guards all state and is held for the whole of WithUserLock, so
// units of work are serialized across users as well. Writes made inside a
// unit are journaled and undone when the unit fails.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/store"
)

// ErrInjected is returned by commits failed through FailCommits.
var ErrInjected = errors.New("memory store: injected commit failure")

type entKey struct {
	user  uuid.UUID
	track uuid.UUID
}

// Store is an in-memory store.Store.
type Store struct {
	mu sync.Mutex

	tracks       map[uuid.UUID]*domain.Track
	carts        map[uuid.UUID][]domain.CartItem
	entitlements map[entKey]domain.EntitlementRecord
	purchases    []*domain.Purchase
	byProvider   map[string]*domain.Purchase
	outbox       []domain.OutboxDraft
	outboxSeq    int64
	published    map[int64]bool

	failCommits int
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tracks:       make(map[uuid.UUID]*domain.Track),
		carts:        make(map[uuid.UUID][]domain.CartItem),
		entitlements: make(map[entKey]domain.EntitlementRecord),
		byProvider:   make(map[string]*domain.Purchase),
		published:    make(map[int64]bool),
	}
}

// Seed upserts catalog rows. Nothing is written if any row is invalid.
func (s *Store) Seed(_ context.Context, tracks ...*domain.Track) error {
	for _, t := range tracks {
		if t.ID == uuid.Nil {
			return errors.New("memory store: track id is required")
		}
		if err := domain.ValidatePrice(t.Price); err != nil {
			return fmt.Errorf("memory store: track %s: %w", t.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tracks {
		cp := *t
		if existing, ok := s.tracks[t.ID]; ok {
			cp.PlayCount = existing.PlayCount
			cp.PurchaseCount = existing.PurchaseCount
		}
		s.tracks[t.ID] = &cp
	}
	return nil
}

// FailCommits makes the next n CommitPurchase calls fail with ErrInjected.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommits = n
}

// WithUserLock runs fn with the store mutex held.
func (s *Store) WithUserLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s}
	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) IncrementPlayCount(_ context.Context, trackID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tracks[trackID]; ok {
		t.PlayCount++
	}
	return nil
}

func (s *Store) FetchUnpublished(_ context.Context, limit int) ([]domain.OutboxDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxDraft
	for _, d := range s.outbox {
		if len(out) == limit {
			break
		}
		if !s.published[d.SeqID] {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, seqIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range seqIDs {
		s.published[id] = true
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) LookupTrack(_ context.Context, trackID uuid.UUID) (*domain.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupTrack(trackID), nil
}

func (s *Store) CartItems(_ context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartItems(userID), nil
}

func (s *Store) CartLines(_ context.Context, userID uuid.UUID) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLines(userID), nil
}

func (s *Store) HasEntitlement(_ context.Context, userID, trackID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entitlements[entKey{userID, trackID}]
	return ok, nil
}

func (s *Store) ListEntitlements(_ context.Context, userID uuid.UUID) ([]domain.EntitlementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listEntitlements(userID), nil
}

func (s *Store) FindPurchaseByProviderID(_ context.Context, providerID string) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findPurchase(providerID), nil
}

func (s *Store) ListPurchases(_ context.Context, userID uuid.UUID, limit int) ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPurchases(&userID, limit), nil
}

func (s *Store) ListRecentPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPurchases(nil, limit), nil
}

// Unlocked helpers. Callers hold s.mu.

func (s *Store) lookupTrack(id uuid.UUID) *domain.Track {
	t, ok := s.tracks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (s *Store) cartItems(userID uuid.UUID) []domain.CartItem {
	items := make([]domain.CartItem, len(s.carts[userID]))
	copy(items, s.carts[userID])
	return items
}

func (s *Store) cartLines(userID uuid.UUID) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(s.carts[userID]))
	for _, it := range s.carts[userID] {
		t, ok := s.tracks[it.TrackID]
		if !ok {
			continue
		}
		lines = append(lines, domain.CartLine{
			TrackID: it.TrackID,
			Title:   t.Title,
			Artist:  t.Artist,
			Price:   t.Price,
			AddedAt: it.AddedAt,
		})
	}
	return lines
}

func (s *Store) listEntitlements(userID uuid.UUID) []domain.EntitlementRecord {
	records := []domain.EntitlementRecord{}
	for k, rec := range s.entitlements {
		if k.user == userID {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].PurchaseDate.Equal(records[j].PurchaseDate) {
			return records[i].PurchaseDate.After(records[j].PurchaseDate)
		}
		return records[i].TrackID.String() < records[j].TrackID.String()
	})
	return records
}

func (s *Store) findPurchase(providerID string) *domain.Purchase {
	p, ok := s.byProvider[providerID]
	if !ok {
		return nil
	}
	return clonePurchase(p)
}

func (s *Store) listPurchases(userID *uuid.UUID, limit int) []domain.Purchase {
	out := []domain.Purchase{}
	for i := len(s.purchases) - 1; i >= 0 && len(out) < limit; i-- {
		p := s.purchases[i]
		if userID != nil && p.UserID != *userID {
			continue
		}
		out = append(out, *clonePurchase(p))
	}
	return out
}

func clonePurchase(p *domain.Purchase) *domain.Purchase {
	cp := *p
	cp.Lines = make([]domain.PurchaseLine, len(p.Lines))
	copy(cp.Lines, p.Lines)
	return &cp
}

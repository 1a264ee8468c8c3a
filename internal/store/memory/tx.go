package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/store"
)

// tx reads and writes the store directly; the store mutex is already held.
type tx struct {
	s    *Store
	undo []func()
}

var _ store.Tx = (*tx)(nil)

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) journal(fn func()) {
	t.undo = append(t.undo, fn)
}

// setCart replaces a user's cart and journals the previous contents.
func (t *tx) setCart(userID uuid.UUID, items []domain.CartItem) {
	prev, had := t.s.carts[userID]
	t.journal(func() {
		if had {
			t.s.carts[userID] = prev
		} else {
			delete(t.s.carts, userID)
		}
	})
	t.s.carts[userID] = items
}

func (t *tx) LookupTrack(_ context.Context, trackID uuid.UUID) (*domain.Track, error) {
	return t.s.lookupTrack(trackID), nil
}

func (t *tx) CartItems(_ context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	return t.s.cartItems(userID), nil
}

func (t *tx) CartLines(_ context.Context, userID uuid.UUID) ([]domain.CartLine, error) {
	return t.s.cartLines(userID), nil
}

func (t *tx) HasEntitlement(_ context.Context, userID, trackID uuid.UUID) (bool, error) {
	_, ok := t.s.entitlements[entKey{userID, trackID}]
	return ok, nil
}

func (t *tx) ListEntitlements(_ context.Context, userID uuid.UUID) ([]domain.EntitlementRecord, error) {
	return t.s.listEntitlements(userID), nil
}

func (t *tx) FindPurchaseByProviderID(_ context.Context, providerID string) (*domain.Purchase, error) {
	return t.s.findPurchase(providerID), nil
}

func (t *tx) ListPurchases(_ context.Context, userID uuid.UUID, limit int) ([]domain.Purchase, error) {
	return t.s.listPurchases(&userID, limit), nil
}

func (t *tx) ListRecentPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	return t.s.listPurchases(nil, limit), nil
}

func (t *tx) AddCartItem(_ context.Context, item domain.CartItem) error {
	current := t.s.carts[item.UserID]
	for _, it := range current {
		if it.TrackID == item.TrackID {
			return domain.ErrAlreadyInCart(item.TrackID.String())
		}
	}
	next := make([]domain.CartItem, len(current), len(current)+1)
	copy(next, current)
	t.setCart(item.UserID, append(next, item))
	return nil
}

func (t *tx) RemoveCartItem(_ context.Context, userID, trackID uuid.UUID) (bool, error) {
	current := t.s.carts[userID]
	next := make([]domain.CartItem, 0, len(current))
	for _, it := range current {
		if it.TrackID != trackID {
			next = append(next, it)
		}
	}
	if len(next) == len(current) {
		return false, nil
	}
	t.setCart(userID, next)
	return true, nil
}

func (t *tx) ClearCart(_ context.Context, userID uuid.UUID) (int, error) {
	n := len(t.s.carts[userID])
	if n > 0 {
		t.setCart(userID, nil)
	}
	return n, nil
}

func (t *tx) CommitPurchase(_ context.Context, p *domain.Purchase) error {
	s := t.s
	if s.failCommits > 0 {
		s.failCommits--
		return ErrInjected
	}
	if _, dup := s.byProvider[p.PaymentProviderID]; dup {
		return domain.ErrDuplicatePurchase
	}
	for _, rec := range p.Entitlements() {
		if _, owned := s.entitlements[entKey{rec.UserID, rec.TrackID}]; owned {
			return domain.ErrAlreadyOwned(rec.TrackID.String())
		}
	}

	stored := clonePurchase(p)
	s.purchases = append(s.purchases, stored)
	s.byProvider[p.PaymentProviderID] = stored
	t.journal(func() {
		s.purchases = s.purchases[:len(s.purchases)-1]
		delete(s.byProvider, p.PaymentProviderID)
	})

	for _, rec := range p.Entitlements() {
		key := entKey{rec.UserID, rec.TrackID}
		s.entitlements[key] = rec
		t.journal(func() { delete(s.entitlements, key) })
	}

	for _, id := range p.TrackIDs() {
		if tr, ok := s.tracks[id]; ok {
			tr.PurchaseCount++
			t.journal(func() { tr.PurchaseCount-- })
		}
	}

	s.outboxSeq++
	event := domain.NewPurchaseCompletedEvent(p)
	event.SeqID = s.outboxSeq
	s.outbox = append(s.outbox, event)
	t.journal(func() { s.outbox = s.outbox[:len(s.outbox)-1] })
	return nil
}

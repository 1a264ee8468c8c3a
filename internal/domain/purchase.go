package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseStatus tracks the purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// PurchaseLine is one bought track with the price captured at purchase time.
type PurchaseLine struct {
	TrackID         uuid.UUID       `json:"track_id"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// Purchase is an append-only purchase ledger entry. Lines and TotalAmount
// never change after creation.
type Purchase struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	Lines             []PurchaseLine  `json:"lines"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	Currency          string          `json:"currency"`
	PaymentProviderID string          `json:"payment_provider_id"`
	Status            PurchaseStatus  `json:"status"`
	TransactionRef    string          `json:"transaction_ref"`
	CreatedAt         time.Time       `json:"created_at"`
}

// NewCompletedPurchase prices lines from the snapshot and stamps the purchase
// as completed.
func NewCompletedPurchase(snapshot *CartSnapshot, providerID, transactionRef, currency string, now time.Time) *Purchase {
	lines := make([]PurchaseLine, 0, len(snapshot.Lines))
	for _, l := range snapshot.Lines {
		lines = append(lines, PurchaseLine{TrackID: l.TrackID, PriceAtPurchase: l.Price})
	}
	return &Purchase{
		ID:                uuid.New(),
		UserID:            snapshot.UserID,
		Lines:             lines,
		TotalAmount:       snapshot.Total,
		Currency:          currency,
		PaymentProviderID: providerID,
		Status:            PurchaseStatusCompleted,
		TransactionRef:    transactionRef,
		CreatedAt:         now,
	}
}

// CheckTotal verifies TotalAmount equals the sum of line prices.
func (p *Purchase) CheckTotal() error {
	sum := decimal.Zero
	for _, l := range p.Lines {
		sum = sum.Add(l.PriceAtPurchase)
	}
	if !sum.Equal(p.TotalAmount) {
		return fmt.Errorf("purchase %s total %s does not match line sum %s", p.ID, p.TotalAmount, sum)
	}
	return nil
}

// Entitlements returns one record per line, dated at the purchase time.
func (p *Purchase) Entitlements() []EntitlementRecord {
	records := make([]EntitlementRecord, 0, len(p.Lines))
	for _, l := range p.Lines {
		records = append(records, EntitlementRecord{
			UserID:            p.UserID,
			TrackID:           l.TrackID,
			PurchaseDate:      p.CreatedAt,
			PaymentProviderID: p.PaymentProviderID,
		})
	}
	return records
}

// TrackIDs returns the purchased track ids in line order.
func (p *Purchase) TrackIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p.Lines))
	for _, l := range p.Lines {
		ids = append(ids, l.TrackID)
	}
	return ids
}

// FinalizeResult is returned by finalize. Replayed is true when an existing
// committed purchase was returned instead of a fresh commit.
type FinalizeResult struct {
	PurchaseID     uuid.UUID `json:"purchase_id"`
	TracksEntitled int       `json:"tracks_entitled"`
	Replayed       bool      `json:"replayed"`
	Purchase       *Purchase `json:"-"`
}

// ResultFor builds the finalize result for a committed purchase.
func ResultFor(p *Purchase, replayed bool) *FinalizeResult {
	return &FinalizeResult{
		PurchaseID:     p.ID,
		TracksEntitled: len(p.Lines),
		Replayed:       replayed,
		Purchase:       p,
	}
}

// FinalizeState is the per (user, provider id) finalize state.
type FinalizeState string

const (
	FinalizeInitiated FinalizeState = "initiated"
	FinalizeVerifying FinalizeState = "verifying"
	FinalizeCommitted FinalizeState = "committed"
	FinalizeRejected  FinalizeState = "rejected"
)

// IsTerminal reports whether no further transition is possible.
func (s FinalizeState) IsTerminal() bool {
	return s == FinalizeCommitted || s == FinalizeRejected
}

// CanTransitionTo reports whether the finalize state machine allows from -> to.
func (s FinalizeState) CanTransitionTo(to FinalizeState) bool {
	switch s {
	case FinalizeInitiated:
		return to == FinalizeVerifying
	case FinalizeVerifying:
		return to == FinalizeCommitted || to == FinalizeRejected
	default:
		return false
	}
}

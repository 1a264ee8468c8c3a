package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is a candidate purchase. At most one exists per (UserID, TrackID).
type CartItem struct {
	UserID  uuid.UUID `json:"user_id"`
	TrackID uuid.UUID `json:"track_id"`
	AddedAt time.Time `json:"added_at"`
}

// CartLine is a cart item joined with the catalog price at read time.
type CartLine struct {
	TrackID uuid.UUID       `json:"track_id"`
	Title   string          `json:"title"`
	Artist  string          `json:"artist"`
	Price   decimal.Decimal `json:"price"`
	AddedAt time.Time       `json:"added_at"`
}

// CartSnapshot is a consistent, priced view of a user's cart.
type CartSnapshot struct {
	UserID    uuid.UUID       `json:"user_id"`
	Lines     []CartLine      `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

// NewCartSnapshot builds a snapshot and computes its total.
func NewCartSnapshot(userID uuid.UUID, lines []CartLine) *CartSnapshot {
	if lines == nil {
		lines = []CartLine{}
	}
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Price)
	}
	return &CartSnapshot{
		UserID:    userID,
		Lines:     lines,
		Total:     total,
		ItemCount: len(lines),
	}
}

// IsEmpty reports whether the snapshot has no lines.
func (s *CartSnapshot) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// TrackIDs returns the track ids in cart order.
func (s *CartSnapshot) TrackIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.Lines))
	for _, l := range s.Lines {
		ids = append(ids, l.TrackID)
	}
	return ids
}

// TotalMinorUnits returns the total rounded to minor units.
func (s *CartSnapshot) TotalMinorUnits() int64 {
	return ToMinorUnits(s.Total)
}

package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Track is the catalog row the purchase core reads. Price is captured into a
// purchase at finalization time and never re-read afterwards.
type Track struct {
	ID            uuid.UUID       `json:"id"`
	Title         string          `json:"title"`
	Artist        string          `json:"artist"`
	Price         decimal.Decimal `json:"price"`
	Active        bool            `json:"active"`
	AudioFile     string          `json:"-"`
	PreviewFile   string          `json:"preview_file"`
	PlayCount     int64           `json:"play_count"`
	PurchaseCount int64           `json:"purchase_count"`
}

// Purchasable reports whether the track can be added to a cart or previewed.
func (t *Track) Purchasable() bool {
	return t != nil && t.Active
}

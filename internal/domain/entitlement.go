package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntitlementRecord is durable proof that a user bought a track. One per
// (UserID, TrackID); never mutated or deleted.
type EntitlementRecord struct {
	UserID            uuid.UUID `json:"user_id"`
	TrackID           uuid.UUID `json:"track_id"`
	PurchaseDate      time.Time `json:"purchase_date"`
	PaymentProviderID string    `json:"payment_provider_id"`
}

// StreamKind is the access level resolved for a stream request.
type StreamKind string

const (
	StreamPreview StreamKind = "preview"
	StreamFull    StreamKind = "full"
)

// StreamTarget is the resolved stream location for a track.
type StreamTarget struct {
	TrackID uuid.UUID  `json:"track_id"`
	Kind    StreamKind `json:"kind"`
	URL     string     `json:"url"`
}

// PreviewURL returns the public preview location of a track.
func PreviewURL(t *Track) string {
	return "/uploads/previews/" + t.PreviewFile
}

// AudioURL returns the full-length audio location of a track.
func AudioURL(t *Track) string {
	return "/uploads/audio/" + t.AudioFile
}

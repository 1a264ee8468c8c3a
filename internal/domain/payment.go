package domain

import "github.com/google/uuid"

// PaymentIntentStatus is the provider's view of a payment intent, collapsed
// to the three states the purchase core cares about.
type PaymentIntentStatus string

const (
	PaymentSucceeded PaymentIntentStatus = "succeeded"
	PaymentPending   PaymentIntentStatus = "pending"
	PaymentFailed    PaymentIntentStatus = "failed"
)

// PaymentIntentRef is the ephemeral result of creating a payment intent.
// ProviderID is the idempotency key for finalization.
type PaymentIntentRef struct {
	ProviderID   string      `json:"provider_id"`
	ClientSecret string      `json:"client_secret"`
	AmountMinor  int64       `json:"amount"`
	Currency     string      `json:"currency"`
	UserID       uuid.UUID   `json:"-"`
	TrackIDs     []uuid.UUID `json:"track_ids"`
}

// PaymentStatusReport is the provider's authoritative answer to "was this paid".
type PaymentStatusReport struct {
	ProviderID         string
	Status             PaymentIntentStatus
	ChargedAmountMinor int64
	Currency           string
	// UserID and TrackIDs come from the intent metadata; uuid.Nil when absent.
	UserID   uuid.UUID
	TrackIDs []uuid.UUID
}

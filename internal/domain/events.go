package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NewPurchaseCompletedEvent creates the outbox event written in the same
// transaction as a committed purchase.
func NewPurchaseCompletedEvent(p *Purchase) OutboxDraft {
	payload, _ := json.Marshal(p)
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: AggregatePurchase,
		AggregateID:   p.ID.String(),
		EventType:     EventPurchaseCompleted,
		PartitionKey:  p.UserID.String(),
		Headers:       json.RawMessage(`{}`),
		Payload:       payload,
		OccurredAt:    time.Now(),
	}
}

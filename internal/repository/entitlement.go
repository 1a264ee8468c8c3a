package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
)

type entitlementRepo struct{}

// NewEntitlementRepository returns a pgx-backed EntitlementRepository.
func NewEntitlementRepository() EntitlementRepository {
	return &entitlementRepo{}
}

func (r *entitlementRepo) Exists(ctx context.Context, db DBTX, userID, trackID uuid.UUID) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM entitlements WHERE user_id = $1 AND track_id = $2)`,
		userID, trackID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check entitlement: %w", err)
	}
	return exists, nil
}

func (r *entitlementRepo) InsertBatch(ctx context.Context, db DBTX, records []domain.EntitlementRecord) error {
	for _, rec := range records {
		_, err := db.Exec(ctx, `
			INSERT INTO entitlements (user_id, track_id, purchase_date, payment_provider_id)
			VALUES ($1, $2, $3, $4)`,
			rec.UserID, rec.TrackID, rec.PurchaseDate, rec.PaymentProviderID,
		)
		if err != nil {
			if isUniqueViolation(err, "entitlements_pkey") {
				return domain.ErrAlreadyOwned(rec.TrackID.String())
			}
			return fmt.Errorf("insert entitlement: %w", err)
		}
	}
	return nil
}

func (r *entitlementRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.EntitlementRecord, error) {
	rows, err := db.Query(ctx, `
		SELECT user_id, track_id, purchase_date, payment_provider_id
		FROM entitlements
		WHERE user_id = $1
		ORDER BY purchase_date DESC, track_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	records := []domain.EntitlementRecord{}
	for rows.Next() {
		var rec domain.EntitlementRecord
		if err := rows.Scan(&rec.UserID, &rec.TrackID, &rec.PurchaseDate, &rec.PaymentProviderID); err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

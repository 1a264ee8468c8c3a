package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/infra"
)

type trackRepo struct{}

// NewTrackRepository returns a pgx-backed TrackRepository.
func NewTrackRepository() TrackRepository {
	return &trackRepo{}
}

func (r *trackRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Track, error) {
	row := db.QueryRow(ctx, `
		SELECT id, title, artist, price, is_active, audio_file, preview_file, play_count, purchase_count
		FROM tracks WHERE id = $1`, id)

	var t domain.Track
	var price pgtype.Numeric
	err := row.Scan(&t.ID, &t.Title, &t.Artist, &price, &t.Active, &t.AudioFile, &t.PreviewFile, &t.PlayCount, &t.PurchaseCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan track: %w", err)
	}
	if t.Price, err = infra.NumericToDecimal(price); err != nil {
		return nil, fmt.Errorf("convert track price: %w", err)
	}
	return &t, nil
}

func (r *trackRepo) IncrementPlayCount(ctx context.Context, db DBTX, id uuid.UUID) error {
	_, err := db.Exec(ctx, `UPDATE tracks SET play_count = play_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment play count: %w", err)
	}
	return nil
}

func (r *trackRepo) IncrementPurchaseCounts(ctx context.Context, db DBTX, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(ctx, `
		UPDATE tracks SET purchase_count = purchase_count + 1, updated_at = now()
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("increment purchase counts: %w", err)
	}
	return nil
}

func (r *trackRepo) Upsert(ctx context.Context, db DBTX, t *domain.Track) error {
	_, err := db.Exec(ctx, `
		INSERT INTO tracks (id, title, artist, price, is_active, audio_file, preview_file)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		  title = EXCLUDED.title,
		  artist = EXCLUDED.artist,
		  price = EXCLUDED.price,
		  is_active = EXCLUDED.is_active,
		  audio_file = EXCLUDED.audio_file,
		  preview_file = EXCLUDED.preview_file,
		  updated_at = now()`,
		t.ID, t.Title, t.Artist, infra.DecimalToNumeric(t.Price), t.Active, t.AudioFile, t.PreviewFile,
	)
	if err != nil {
		return fmt.Errorf("upsert track: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/infra"
)

type cartRepo struct{}

// NewCartRepository returns a pgx-backed CartRepository.
func NewCartRepository() CartRepository {
	return &cartRepo{}
}

func (r *cartRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return fmt.Errorf("ensure cart row: %w", err)
	}

	var version int64
	if err := tx.QueryRow(ctx, `SELECT version FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&version); err != nil {
		return fmt.Errorf("lock cart: %w", err)
	}
	return nil
}

func (r *cartRepo) ListItems(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.CartItem, error) {
	rows, err := db.Query(ctx, `
		SELECT user_id, track_id, added_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at ASC, track_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		var it domain.CartItem
		if err := rows.Scan(&it.UserID, &it.TrackID, &it.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *cartRepo) ListLines(ctx context.Context, db DBTX, userID uuid.UUID) ([]domain.CartLine, error) {
	rows, err := db.Query(ctx, `
		SELECT ci.track_id, t.title, t.artist, t.price, ci.added_at
		FROM cart_items ci
		JOIN tracks t ON t.id = ci.track_id
		WHERE ci.user_id = $1
		ORDER BY ci.added_at ASC, ci.track_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	lines := []domain.CartLine{}
	for rows.Next() {
		var l domain.CartLine
		var price pgtype.Numeric
		if err := rows.Scan(&l.TrackID, &l.Title, &l.Artist, &price, &l.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		if l.Price, err = infra.NumericToDecimal(price); err != nil {
			return nil, fmt.Errorf("convert cart line price: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *cartRepo) InsertItem(ctx context.Context, db DBTX, item domain.CartItem) error {
	_, err := db.Exec(ctx, `
		INSERT INTO cart_items (user_id, track_id, added_at)
		VALUES ($1, $2, $3)`,
		item.UserID, item.TrackID, item.AddedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "cart_items_pkey") {
			return domain.ErrAlreadyInCart(item.TrackID.String())
		}
		return fmt.Errorf("insert cart item: %w", err)
	}
	if _, err := db.Exec(ctx, `UPDATE carts SET version = version + 1, updated_at = now() WHERE user_id = $1`, item.UserID); err != nil {
		return fmt.Errorf("bump cart version: %w", err)
	}
	return nil
}

func (r *cartRepo) DeleteItem(ctx context.Context, db DBTX, userID, trackID uuid.UUID) (bool, error) {
	tag, err := db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND track_id = $2`, userID, trackID)
	if err != nil {
		return false, fmt.Errorf("delete cart item: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *cartRepo) Clear(ctx context.Context, db DBTX, userID uuid.UUID) (int, error) {
	tag, err := db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("clear cart: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

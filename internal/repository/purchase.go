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

const purchaseColumns = `id, user_id, total_amount, currency, payment_provider_id, status, transaction_ref, created_at`

type purchaseRepo struct{}

// NewPurchaseRepository returns a pgx-backed PurchaseRepository.
func NewPurchaseRepository() PurchaseRepository {
	return &purchaseRepo{}
}

func (r *purchaseRepo) Insert(ctx context.Context, db DBTX, p *domain.Purchase) error {
	_, err := db.Exec(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID,
		p.UserID,
		infra.DecimalToNumeric(p.TotalAmount),
		p.Currency,
		p.PaymentProviderID,
		string(p.Status),
		p.TransactionRef,
		p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "purchases_payment_provider_id_key") {
			return domain.ErrDuplicatePurchase
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	for i, l := range p.Lines {
		_, err := db.Exec(ctx, `
			INSERT INTO purchase_lines (purchase_id, line_no, track_id, price_at_purchase)
			VALUES ($1, $2, $3, $4)`,
			p.ID, i+1, l.TrackID, infra.DecimalToNumeric(l.PriceAtPurchase),
		)
		if err != nil {
			return fmt.Errorf("insert purchase line %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *purchaseRepo) FindByProviderID(ctx context.Context, db DBTX, providerID string) (*domain.Purchase, error) {
	row := db.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE payment_provider_id = $1`, providerID)
	p, err := scanPurchase(row)
	if err != nil || p == nil {
		return nil, err
	}
	if err := r.attachLines(ctx, db, []*domain.Purchase{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *purchaseRepo) ListByUser(ctx context.Context, db DBTX, userID uuid.UUID, limit int) ([]domain.Purchase, error) {
	rows, err := db.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return r.collect(ctx, db, rows)
}

func (r *purchaseRepo) ListRecent(ctx context.Context, db DBTX, limit int) ([]domain.Purchase, error) {
	rows, err := db.Query(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		ORDER BY created_at DESC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent purchases: %w", err)
	}
	return r.collect(ctx, db, rows)
}

func (r *purchaseRepo) collect(ctx context.Context, db DBTX, rows pgx.Rows) ([]domain.Purchase, error) {
	var ptrs []*domain.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ptrs = append(ptrs, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}

	if err := r.attachLines(ctx, db, ptrs); err != nil {
		return nil, err
	}
	purchases := make([]domain.Purchase, 0, len(ptrs))
	for _, p := range ptrs {
		purchases = append(purchases, *p)
	}
	return purchases, nil
}

// attachLines loads lines for all given purchases in one query.
func (r *purchaseRepo) attachLines(ctx context.Context, db DBTX, purchases []*domain.Purchase) error {
	if len(purchases) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*domain.Purchase, len(purchases))
	ids := make([]uuid.UUID, 0, len(purchases))
	for _, p := range purchases {
		p.Lines = []domain.PurchaseLine{}
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	rows, err := db.Query(ctx, `
		SELECT purchase_id, track_id, price_at_purchase
		FROM purchase_lines
		WHERE purchase_id = ANY($1)
		ORDER BY purchase_id, line_no`, ids)
	if err != nil {
		return fmt.Errorf("list purchase lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var purchaseID uuid.UUID
		var line domain.PurchaseLine
		var price pgtype.Numeric
		if err := rows.Scan(&purchaseID, &line.TrackID, &price); err != nil {
			return fmt.Errorf("scan purchase line: %w", err)
		}
		if line.PriceAtPurchase, err = infra.NumericToDecimal(price); err != nil {
			return fmt.Errorf("convert line price: %w", err)
		}
		if p, ok := byID[purchaseID]; ok {
			p.Lines = append(p.Lines, line)
		}
	}
	return rows.Err()
}

func scanPurchase(row pgx.Row) (*domain.Purchase, error) {
	var p domain.Purchase
	var total pgtype.Numeric
	var status string
	err := row.Scan(&p.ID, &p.UserID, &total, &p.Currency, &p.PaymentProviderID, &status, &p.TransactionRef, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan purchase: %w", err)
	}
	p.Status = domain.PurchaseStatus(status)
	if p.TotalAmount, err = infra.NumericToDecimal(total); err != nil {
		return nil, fmt.Errorf("convert purchase total: %w", err)
	}
	return &p, nil
}

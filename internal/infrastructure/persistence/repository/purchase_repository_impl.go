package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bivex/receipt-guard/internal/domain/entity"
	domainRepo "github.com/bivex/receipt-guard/internal/domain/repository"
)

type purchaseRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository creates the Postgres-backed grant ledger
func NewPurchaseRepository(pool *pgxpool.Pool) domainRepo.PurchaseRepository {
	return &purchaseRepositoryImpl{pool: pool}
}

// Append grants the entitlement. The unique index on
// (user_id, transaction_id) makes re-appending the same transaction a
// no-op instead of a duplicate grant.
func (r *purchaseRepositoryImpl) Append(ctx context.Context, p *entity.Purchase) error {
	query := `
		INSERT INTO purchases (user_id, product_id, transaction_id, platform, purchase_date_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, transaction_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		p.UserID, p.ProductID, p.TransactionID, string(p.Platform), p.PurchaseDateMS, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append purchase: %w", err)
	}
	return nil
}

func (r *purchaseRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]*entity.Purchase, error) {
	query := `
		SELECT user_id, product_id, transaction_id, platform, purchase_date_ms, created_at
		FROM purchases
		WHERE user_id = $1
		ORDER BY purchase_date_ms, created_at
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := make([]*entity.Purchase, 0)
	for rows.Next() {
		var p entity.Purchase
		var platform string
		if err := rows.Scan(&p.UserID, &p.ProductID, &p.TransactionID, &platform, &p.PurchaseDateMS, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		p.Platform = entity.Platform(platform)
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchases: %w", err)
	}

	return purchases, nil
}

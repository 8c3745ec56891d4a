package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bivex/receipt-guard/internal/domain/entity"
	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
	domainRepo "github.com/bivex/receipt-guard/internal/domain/repository"
)

type receiptRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewReceiptRepository creates the Postgres-backed replay guard
func NewReceiptRepository(pool *pgxpool.Pool) domainRepo.ReceiptRepository {
	return &receiptRepositoryImpl{pool: pool}
}

func (r *receiptRepositoryImpl) Get(ctx context.Context, key string) (*entity.ReceiptRecord, error) {
	query := `
		SELECT receipt_key, user_id, platform, product_id, transaction_id,
		       purchase_date_ms, expiration_date_ms, validated_at
		FROM validated_receipts
		WHERE receipt_key = $1
	`
	rec, err := r.scanRecord(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrReceiptNotFound
		}
		return nil, fmt.Errorf("failed to get receipt record: %w", err)
	}
	return rec, nil
}

// Record inserts the record unless the key is taken. The primary key on
// receipt_key makes the check-and-set a single atomic statement: under
// concurrent first-time validations of one receipt exactly one insert
// lands, and the loser reads the winner back.
func (r *receiptRepositoryImpl) Record(ctx context.Context, rec *entity.ReceiptRecord) (bool, *entity.ReceiptRecord, error) {
	insert := `
		INSERT INTO validated_receipts
			(receipt_key, user_id, platform, product_id, transaction_id,
			 purchase_date_ms, expiration_date_ms, validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (receipt_key) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, insert,
		rec.Key, rec.UserID, string(rec.Platform), rec.ProductID, rec.TransactionID,
		rec.PurchaseDateMS, nullableMS(rec.ExpirationDateMS), rec.ValidatedAt,
	)
	if err != nil {
		return false, nil, fmt.Errorf("failed to insert receipt record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil, nil
	}

	existing, err := r.Get(ctx, rec.Key)
	if err != nil {
		return false, nil, fmt.Errorf("failed to read conflicting receipt record: %w", err)
	}
	return false, existing, nil
}

func (r *receiptRepositoryImpl) UpdateExpiration(ctx context.Context, transactionID string, expirationDateMS int64) error {
	query := `
		UPDATE validated_receipts
		SET expiration_date_ms = $2
		WHERE transaction_id = $1
	`
	if _, err := r.pool.Exec(ctx, query, transactionID, nullableMS(expirationDateMS)); err != nil {
		return fmt.Errorf("failed to update receipt expiration: %w", err)
	}
	return nil
}

func (r *receiptRepositoryImpl) scanRecord(row pgx.Row) (*entity.ReceiptRecord, error) {
	var rec entity.ReceiptRecord
	var platform string
	var expiration *int64

	err := row.Scan(
		&rec.Key, &rec.UserID, &platform, &rec.ProductID, &rec.TransactionID,
		&rec.PurchaseDateMS, &expiration, &rec.ValidatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Platform = entity.Platform(platform)
	if expiration != nil {
		rec.ExpirationDateMS = *expiration
	}
	return &rec, nil
}

// nullableMS stores "no expiration" as NULL rather than 0.
func nullableMS(ms int64) *int64 {
	if ms == 0 {
		return nil
	}
	return &ms
}

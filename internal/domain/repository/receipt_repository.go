package repository

import (
	"context"

	"github.com/bivex/receipt-guard/internal/domain/entity"
)

// ReceiptRepository is the replay guard: it maps a receipt identity to the
// user that redeemed it.
type ReceiptRepository interface {
	// Get returns the record for a receipt key, or ErrReceiptNotFound.
	Get(ctx context.Context, key string) (*entity.ReceiptRecord, error)

	// Record writes the record unless one already exists for the same key.
	// The insert is atomic with respect to concurrent calls for the same
	// key: exactly one caller observes written=true, all others get the
	// surviving record back. An existing record is never overwritten.
	Record(ctx context.Context, rec *entity.ReceiptRecord) (written bool, existing *entity.ReceiptRecord, err error)

	// UpdateExpiration moves the expiration of a recorded subscription,
	// keyed by transaction id. Used by webhook-driven renewal processing;
	// a missing transaction is not an error.
	UpdateExpiration(ctx context.Context, transactionID string, expirationDateMS int64) error
}

package repository

import (
	"context"

	"github.com/bivex/receipt-guard/internal/domain/entity"
)

// PurchaseRepository is the grant ledger: the ordered list of entitlements
// granted to each user.
type PurchaseRepository interface {
	// Append adds an entry to the user's ledger. Appending an entry whose
	// (user, transaction) pair is already present is a no-op, so repeated
	// validation of the same receipt never double-grants.
	Append(ctx context.Context, p *entity.Purchase) error

	// ListByUser returns the user's entitlements ordered by purchase date.
	// An unknown user yields an empty slice, not an error.
	ListByUser(ctx context.Context, userID string) ([]*entity.Purchase, error)
}

package query

import (
	"context"
	"fmt"

	"github.com/bivex/receipt-guard/internal/application/dto"
	"github.com/bivex/receipt-guard/internal/domain/repository"
)

// RestorePurchasesQuery returns a user's granted entitlements. Pure read;
// a user with no ledger gets an empty list, never an error.
type RestorePurchasesQuery struct {
	purchases repository.PurchaseRepository
}

// NewRestorePurchasesQuery creates a new restore purchases query
func NewRestorePurchasesQuery(purchases repository.PurchaseRepository) *RestorePurchasesQuery {
	return &RestorePurchasesQuery{purchases: purchases}
}

// Execute executes the restore purchases query
func (q *RestorePurchasesQuery) Execute(ctx context.Context, userID string) (*dto.RestorePurchasesResponse, error) {
	entries, err := q.purchases.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}

	purchases := make([]dto.PurchaseEntry, 0, len(entries))
	for _, p := range entries {
		purchases = append(purchases, dto.PurchaseEntry{
			ProductID:      p.ProductID,
			TransactionID:  p.TransactionID,
			PurchaseDateMS: p.PurchaseDateMS,
			Platform:       string(p.Platform),
		})
	}

	return &dto.RestorePurchasesResponse{Purchases: purchases}, nil
}

package entity

import "time"

// Purchase is a single entry in a user's grant ledger. Appending the same
// (user, transaction) pair twice is a no-op: the ledger is keyed so the
// entitlement is granted at most once.
type Purchase struct {
	UserID         string
	ProductID      string
	TransactionID  string
	Platform       Platform
	PurchaseDateMS int64
	CreatedAt      time.Time
}

// NewPurchase creates a grant ledger entry from a validated receipt record.
func NewPurchase(rec *ReceiptRecord) *Purchase {
	return &Purchase{
		UserID:         rec.UserID,
		ProductID:      rec.ProductID,
		TransactionID:  rec.TransactionID,
		Platform:       rec.Platform,
		PurchaseDateMS: rec.PurchaseDateMS,
		CreatedAt:      time.Now().UTC(),
	}
}

package entity

import "time"

// Platform identifies the issuing store for a receipt.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Valid reports whether the platform is one of the supported stores.
func (p Platform) Valid() bool {
	return p == PlatformIOS || p == PlatformAndroid
}

// ReceiptRecord is the persisted proof that a receipt was validated and
// claimed by a user. The key doubles as the replay-protection identity:
// the transaction id when the store provides one, otherwise the raw
// receipt payload. Once written the record is never mutated except for
// its expiration, and its owner never changes.
type ReceiptRecord struct {
	Key              string
	UserID           string
	Platform         Platform
	ProductID        string
	TransactionID    string
	PurchaseDateMS   int64
	ExpirationDateMS int64 // 0 when the purchase has no expiration
	ValidatedAt      time.Time
}

// ReceiptKey derives the replay-guard key for a validation request.
func ReceiptKey(transactionID, receiptPayload string) string {
	if transactionID != "" {
		return transactionID
	}
	return receiptPayload
}

// NewReceiptRecord creates a record for a freshly validated receipt.
func NewReceiptRecord(key, userID string, platform Platform, productID, transactionID string, purchaseDateMS, expirationDateMS int64) *ReceiptRecord {
	return &ReceiptRecord{
		Key:              key,
		UserID:           userID,
		Platform:         platform,
		ProductID:        productID,
		TransactionID:    transactionID,
		PurchaseDateMS:   purchaseDateMS,
		ExpirationDateMS: expirationDateMS,
		ValidatedAt:      time.Now().UTC(),
	}
}

package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlatformValid(t *testing.T) {
	assert.True(t, PlatformIOS.Valid())
	assert.True(t, PlatformAndroid.Valid())
	assert.False(t, Platform("windows").Valid())
	assert.False(t, Platform("").Valid())
}

func TestReceiptKey(t *testing.T) {
	assert.Equal(t, "txn-1", ReceiptKey("txn-1", "payload"))
	assert.Equal(t, "payload", ReceiptKey("", "payload"))
}

func TestNewPurchaseCopiesReceiptFields(t *testing.T) {
	rec := NewReceiptRecord("txn-1", "user-1", PlatformIOS, "com.example.premium", "txn-1", 1700000000000, 0)

	p := NewPurchase(rec)

	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "com.example.premium", p.ProductID)
	assert.Equal(t, "txn-1", p.TransactionID)
	assert.Equal(t, PlatformIOS, p.Platform)
	assert.Equal(t, int64(1700000000000), p.PurchaseDateMS)
	assert.False(t, p.CreatedAt.IsZero())
}

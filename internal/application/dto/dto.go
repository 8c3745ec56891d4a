package dto

// ========== RECEIPT VALIDATION DTOs ==========

// ValidateReceiptRequest represents a receipt validation request.
// ReceiptData is the base64 receipt for ios and the purchase token for
// android; TransactionID is only supplied by ios clients.
type ValidateReceiptRequest struct {
	Platform      string `json:"platform" binding:"required,oneof=ios android"`
	ReceiptData   string `json:"receipt_data" binding:"required"`
	ProductID     string `json:"product_id" binding:"required"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// ValidateReceiptResponse represents a receipt validation response
type ValidateReceiptResponse struct {
	Valid            bool   `json:"valid"`
	ProductID        string `json:"product_id,omitempty"`
	TransactionID    string `json:"transaction_id,omitempty"`
	PurchaseDateMS   int64  `json:"purchase_date_ms,omitempty"`
	ExpirationDateMS int64  `json:"expiration_date_ms,omitempty"`
	Cached           bool   `json:"cached,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ========== RESTORE DTOs ==========

// PurchaseEntry represents one granted entitlement
type PurchaseEntry struct {
	ProductID      string `json:"product_id"`
	TransactionID  string `json:"transaction_id"`
	PurchaseDateMS int64  `json:"purchase_date_ms"`
	Platform       string `json:"platform"`
}

// RestorePurchasesResponse represents a purchase restore response
type RestorePurchasesResponse struct {
	Purchases []PurchaseEntry `json:"purchases"`
}

package iap

// Outcome is the normalized result of validating a receipt against its
// issuing store. Validators construct it once and never mutate it.
//
// Validation failures the store reports (bad status, expired, wrong
// product, cancelled, pending) come back as Valid=false with Error set.
// A Go error is reserved for hard misconfiguration.
type Outcome struct {
	Valid            bool
	ProductID        string
	TransactionID    string
	PurchaseDateMS   int64
	ExpirationDateMS int64 // 0 when the purchase has no expiration
	Error            string
}

func invalidOutcome(reason string) *Outcome {
	return &Outcome{Valid: false, Error: reason}
}

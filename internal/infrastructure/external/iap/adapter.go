package iap

import "context"

// GoogleProductValidator narrows GoogleValidator to the one-time product
// flow so both platforms satisfy the orchestrator's single Validate
// contract. Subscription validation keeps its own entry point for the
// webhook pipeline.
type GoogleProductValidator struct {
	validator *GoogleValidator
}

// NewGoogleProductValidator creates the adapter
func NewGoogleProductValidator(validator *GoogleValidator) *GoogleProductValidator {
	return &GoogleProductValidator{validator: validator}
}

// Validate validates a one-time product purchase token
func (g *GoogleProductValidator) Validate(ctx context.Context, purchaseToken, expectedProductID string) (*Outcome, error) {
	return g.validator.ValidateProduct(ctx, purchaseToken, expectedProductID)
}

package errors

import (
	"errors"
	"fmt"
)

var (
	// Request errors
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedPlatform = errors.New("unsupported platform")

	// Receipt errors
	ErrReceiptNotFound = errors.New("receipt record not found")
	ErrReplayDetected  = errors.New("receipt has already been used by another user")

	// User errors
	ErrUserNotFound = errors.New("user not found")

	// Webhook errors
	ErrWebhookEventNotFound = errors.New("webhook event not found")

	// External service errors
	ErrValidatorNotConfigured = errors.New("platform validator is not configured")
	ErrUpstreamUnavailable    = errors.New("platform verification service unavailable")
)

// ReplayError carries the fraud-audit context of a detected replay: who
// originally redeemed the receipt and who attempted to reuse it.
type ReplayError struct {
	Key            string
	OriginalUserID string
	RequestUserID  string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("receipt %q already redeemed by another user", e.Key)
}

func (e *ReplayError) Unwrap() error {
	return ErrReplayDetected
}

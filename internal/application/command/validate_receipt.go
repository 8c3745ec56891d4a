package command

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bivex/receipt-guard/internal/application/dto"
	"github.com/bivex/receipt-guard/internal/domain/entity"
	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
	"github.com/bivex/receipt-guard/internal/domain/repository"
	"github.com/bivex/receipt-guard/internal/infrastructure/external/iap"
)

// ReceiptValidator verifies a receipt payload against its issuing store.
type ReceiptValidator interface {
	Validate(ctx context.Context, receiptPayload, expectedProductID string) (*iap.Outcome, error)
}

// ValidateReceiptCommand orchestrates a validation request: replay-guard
// lookup, platform dispatch, persistence, grant. It owns the only write
// path into the receipt ledger; validators have no persistence side
// effects.
type ValidateReceiptCommand struct {
	receipts         repository.ReceiptRepository
	purchases        repository.PurchaseRepository
	iosValidator     ReceiptValidator
	androidValidator ReceiptValidator
	logger           *zap.Logger
}

// NewValidateReceiptCommand creates a new validate receipt command
func NewValidateReceiptCommand(
	receipts repository.ReceiptRepository,
	purchases repository.PurchaseRepository,
	iosValidator ReceiptValidator,
	androidValidator ReceiptValidator,
	logger *zap.Logger,
) *ValidateReceiptCommand {
	return &ValidateReceiptCommand{
		receipts:         receipts,
		purchases:        purchases,
		iosValidator:     iosValidator,
		androidValidator: androidValidator,
		logger:           logger,
	}
}

// Execute runs the validation workflow for the authenticated user.
//
// Errors it returns are limited to: ErrUnsupportedPlatform,
// ErrReplayDetected (via ReplayError), ErrValidatorNotConfigured, and
// storage failures. Store-side rejections come back as a normal response
// with Valid=false.
func (c *ValidateReceiptCommand) Execute(ctx context.Context, userID string, req *dto.ValidateReceiptRequest) (*dto.ValidateReceiptResponse, error) {
	platform := entity.Platform(req.Platform)
	if !platform.Valid() {
		return nil, fmt.Errorf("%w: %q", domainErrors.ErrUnsupportedPlatform, req.Platform)
	}

	key := entity.ReceiptKey(req.TransactionID, req.ReceiptData)

	// Replay guard lookup. A hit for the same user short-circuits without
	// re-contacting the store; a hit for another user is a fraud signal.
	existing, err := c.receipts.Get(ctx, key)
	if err != nil && !errors.Is(err, domainErrors.ErrReceiptNotFound) {
		return nil, fmt.Errorf("failed to look up receipt: %w", err)
	}
	if existing != nil {
		return c.resolveExisting(existing, userID, key)
	}

	validator, err := c.validatorFor(platform)
	if err != nil {
		return nil, err
	}

	outcome, err := validator.Validate(ctx, req.ReceiptData, req.ProductID)
	if err != nil {
		// Only misconfiguration reaches here; ordinary invalidity is an
		// outcome, not an error.
		return nil, fmt.Errorf("validator failed: %w", err)
	}

	if !outcome.Valid {
		c.logger.Warn("invalid receipt detected",
			zap.String("user_id", userID),
			zap.String("platform", req.Platform),
			zap.String("product_id", req.ProductID),
			zap.String("reason", outcome.Error),
		)
		return &dto.ValidateReceiptResponse{Valid: false, Error: outcome.Error}, nil
	}

	rec := entity.NewReceiptRecord(
		key, userID, platform,
		outcome.ProductID, outcome.TransactionID,
		outcome.PurchaseDateMS, outcome.ExpirationDateMS,
	)

	written, survivor, err := c.receipts.Record(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to record receipt: %w", err)
	}
	if !written {
		// Lost a same-key race after validation; the surviving record's
		// owner decides whether this is a replay or a duplicate request.
		return c.resolveExisting(survivor, userID, key)
	}

	if err := c.purchases.Append(ctx, entity.NewPurchase(rec)); err != nil {
		return nil, fmt.Errorf("failed to grant purchase: %w", err)
	}

	c.logger.Info("receipt validated",
		zap.String("user_id", userID),
		zap.String("platform", req.Platform),
		zap.String("product_id", outcome.ProductID),
		zap.String("transaction_id", outcome.TransactionID),
	)

	return &dto.ValidateReceiptResponse{
		Valid:            true,
		ProductID:        outcome.ProductID,
		TransactionID:    outcome.TransactionID,
		PurchaseDateMS:   outcome.PurchaseDateMS,
		ExpirationDateMS: outcome.ExpirationDateMS,
	}, nil
}

// resolveExisting handles a replay-guard hit: reject foreign owners,
// replay the cached outcome for the original one.
func (c *ValidateReceiptCommand) resolveExisting(rec *entity.ReceiptRecord, userID, key string) (*dto.ValidateReceiptResponse, error) {
	if rec.UserID != userID {
		c.logger.Warn("receipt replay attack detected",
			zap.String("user_id", userID),
			zap.String("original_user_id", rec.UserID),
			zap.String("transaction_id", rec.TransactionID),
		)
		return nil, &domainErrors.ReplayError{
			Key:            key,
			OriginalUserID: rec.UserID,
			RequestUserID:  userID,
		}
	}

	return &dto.ValidateReceiptResponse{
		Valid:            true,
		ProductID:        rec.ProductID,
		TransactionID:    rec.TransactionID,
		PurchaseDateMS:   rec.PurchaseDateMS,
		ExpirationDateMS: rec.ExpirationDateMS,
		Cached:           true,
	}, nil
}

func (c *ValidateReceiptCommand) validatorFor(platform entity.Platform) (ReceiptValidator, error) {
	switch platform {
	case entity.PlatformIOS:
		if c.iosValidator == nil {
			return nil, domainErrors.ErrValidatorNotConfigured
		}
		return c.iosValidator, nil
	case entity.PlatformAndroid:
		if c.androidValidator == nil {
			return nil, domainErrors.ErrValidatorNotConfigured
		}
		return c.androidValidator, nil
	default:
		return nil, domainErrors.ErrUnsupportedPlatform
	}
}

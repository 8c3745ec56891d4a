package iap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
)

// Google Play purchaseState values for one-time products.
const (
	googleStatePurchased int64 = 0
	googleStateCancelled int64 = 1
	googleStatePending   int64 = 2
)

// googlePurchaseStateMessages maps rejected purchaseState values to
// reasons; unlisted non-zero states fall through to a generic message.
var googlePurchaseStateMessages = map[int64]string{
	googleStateCancelled: "Purchase was cancelled",
	googleStatePending:   "Purchase is pending",
}

// googleValidPaymentStates holds subscription paymentState values that
// count as paid: 1 = payment received, 2 = free trial.
var googleValidPaymentStates = map[int64]bool{1: true, 2: true}

const googleAuthFailedMessage = "API authentication failed. Check service account configuration."

// GoogleValidator validates Google Play purchases and subscriptions via
// the Android Publisher API.
type GoogleValidator struct {
	service     *androidpublisher.Service
	packageName string
	logger      *zap.Logger
	now         func() time.Time
}

// NewGoogleValidator builds a validator authenticated with the service
// account JSON. Credentials are resolved once at startup; missing
// credentials are a construction-time failure, not a per-request one.
func NewGoogleValidator(ctx context.Context, serviceAccountJSON, packageName string, logger *zap.Logger) (*GoogleValidator, error) {
	if serviceAccountJSON == "" || packageName == "" {
		return nil, fmt.Errorf("google play credentials missing: %w", domainErrors.ErrValidatorNotConfigured)
	}

	creds, err := google.CredentialsFromJSON(ctx, []byte(serviceAccountJSON), androidpublisher.AndroidpublisherScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	service, err := androidpublisher.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create android publisher service: %w", err)
	}

	return NewGoogleValidatorWithService(service, packageName, logger), nil
}

// NewGoogleValidatorWithService wires an existing Android Publisher
// service. Tests use this with option.WithEndpoint against a local server.
func NewGoogleValidatorWithService(service *androidpublisher.Service, packageName string, logger *zap.Logger) *GoogleValidator {
	return &GoogleValidator{
		service:     service,
		packageName: packageName,
		logger:      logger,
		now:         time.Now,
	}
}

// ValidateProduct checks a one-time product purchase by its token.
//
// Consumption state never invalidates here: replay protection belongs to
// the receipt ledger downstream. Acknowledgment is issued best-effort
// when pending; its failure does not fail the validation.
func (v *GoogleValidator) ValidateProduct(ctx context.Context, purchaseToken, productID string) (*Outcome, error) {
	purchase, err := v.service.Purchases.Products.Get(v.packageName, productID, purchaseToken).Context(ctx).Do()
	if err != nil {
		return v.recoverAPIError(err, "Purchase not found", productID), nil
	}

	if purchase.PurchaseState != googleStatePurchased {
		msg, ok := googlePurchaseStateMessages[purchase.PurchaseState]
		if !ok {
			msg = "Invalid purchase state"
		}
		v.logger.Warn("google play purchase in invalid state",
			zap.String("product_id", productID),
			zap.Int64("purchase_state", purchase.PurchaseState),
		)
		return &Outcome{
			Valid:         false,
			ProductID:     productID,
			TransactionID: purchase.OrderId,
			Error:         msg,
		}, nil
	}

	if purchase.ConsumptionState == 1 {
		// Possible replay; the receipt ledger is the authority, so only
		// leave an audit trail here.
		v.logger.Warn("google play purchase already consumed",
			zap.String("product_id", productID),
			zap.String("order_id", purchase.OrderId),
		)
	}

	if purchase.AcknowledgementState == 0 {
		v.logger.Info("acknowledging google play purchase",
			zap.String("product_id", productID),
			zap.String("order_id", purchase.OrderId),
		)
		ack := &androidpublisher.ProductPurchasesAcknowledgeRequest{}
		if err := v.service.Purchases.Products.Acknowledge(v.packageName, productID, purchaseToken, ack).Context(ctx).Do(); err != nil {
			// The purchase is already proven valid; an unacknowledged
			// purchase will be retried by the store side.
			v.logger.Warn("failed to acknowledge google play purchase",
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
	}

	transactionID := purchase.OrderId
	if transactionID == "" {
		transactionID = purchaseToken
	}
	purchaseMS := purchase.PurchaseTimeMillis
	if purchaseMS == 0 {
		purchaseMS = v.now().UnixMilli()
	}

	v.logger.Info("google play purchase validated",
		zap.String("product_id", productID),
		zap.String("order_id", purchase.OrderId),
	)

	return &Outcome{
		Valid:          true,
		ProductID:      productID,
		TransactionID:  transactionID,
		PurchaseDateMS: purchaseMS,
	}, nil
}

// ValidateSubscription checks a subscription purchase by its token.
func (v *GoogleValidator) ValidateSubscription(ctx context.Context, purchaseToken, subscriptionID string) (*Outcome, error) {
	sub, err := v.service.Purchases.Subscriptions.Get(v.packageName, subscriptionID, purchaseToken).Context(ctx).Do()
	if err != nil {
		return v.recoverAPIError(err, "Subscription not found", subscriptionID), nil
	}

	if sub.PaymentState == nil || !googleValidPaymentStates[*sub.PaymentState] {
		v.logger.Warn("google play subscription payment not settled",
			zap.String("subscription_id", subscriptionID),
		)
		return &Outcome{
			Valid:         false,
			ProductID:     subscriptionID,
			TransactionID: sub.OrderId,
			Error:         "Subscription payment pending or failed",
		}, nil
	}

	if sub.ExpiryTimeMillis > 0 && sub.ExpiryTimeMillis < v.now().UnixMilli() {
		return &Outcome{
			Valid:            false,
			ProductID:        subscriptionID,
			TransactionID:    sub.OrderId,
			PurchaseDateMS:   sub.StartTimeMillis,
			ExpirationDateMS: sub.ExpiryTimeMillis,
			Error:            "Subscription has expired",
		}, nil
	}

	transactionID := sub.OrderId
	if transactionID == "" {
		transactionID = purchaseToken
	}

	return &Outcome{
		Valid:            true,
		ProductID:        subscriptionID,
		TransactionID:    transactionID,
		PurchaseDateMS:   sub.StartTimeMillis,
		ExpirationDateMS: sub.ExpiryTimeMillis,
	}, nil
}

// recoverAPIError folds Android Publisher API failures into invalid
// outcomes so the orchestrator's happy path stays uniform.
func (v *GoogleValidator) recoverAPIError(err error, notFoundMessage, productID string) *Outcome {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			v.logger.Error("google play api authentication failed",
				zap.String("product_id", productID),
				zap.Error(err),
			)
			return invalidOutcome(googleAuthFailedMessage)
		case http.StatusNotFound:
			v.logger.Warn("google play purchase not found",
				zap.String("product_id", productID),
			)
			return invalidOutcome(notFoundMessage)
		}
	}

	v.logger.Error("google play verification failed",
		zap.String("product_id", productID),
		zap.Error(err),
	)
	return invalidOutcome(err.Error())
}

package iap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/awa/go-iap/appstore"
	"go.uber.org/zap"

	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
)

// Apple verifyReceipt status codes that drive environment routing.
const (
	appleStatusValid             = 0
	appleStatusSandboxReceipt    = 21007 // sandbox receipt sent to production
	appleStatusProductionReceipt = 21008 // production receipt sent to sandbox
)

// appleStatusMessages maps verifyReceipt status codes to human-readable
// reasons. New codes are additive; anything unlisted renders as
// "Unknown status code: <n>".
var appleStatusMessages = map[int]string{
	21000: "The App Store could not read the JSON object you provided.",
	21002: "The data in the receipt-data property was malformed or missing.",
	21003: "The receipt could not be authenticated.",
	21004: "The shared secret you provided does not match the shared secret on file.",
	21005: "The receipt server is not currently available.",
	21006: "This receipt is valid but the subscription has expired.",
	21007: "This receipt is from the test environment (sandbox).",
	21008: "This receipt is from the production environment.",
	21009: "Internal data access error.",
	21010: "The user account cannot be found or has been deleted.",
}

// AppleValidator validates App Store receipts against Apple's
// verifyReceipt API.
//
// Apple conflates environment routing with receipt content: a sandbox
// receipt submitted to production answers 21007 and must be resubmitted
// to the sandbox endpoint. That single re-route is the only retry.
type AppleValidator struct {
	sharedSecret  string
	productionURL string
	sandboxURL    string
	httpClient    *http.Client
	logger        *zap.Logger
	now           func() time.Time
}

// NewAppleValidator creates a validator for Apple's public endpoints.
// The shared secret comes from App Store Connect and is resolved once at
// startup; an empty secret surfaces as ErrValidatorNotConfigured.
func NewAppleValidator(sharedSecret string, logger *zap.Logger) *AppleValidator {
	return &AppleValidator{
		sharedSecret:  sharedSecret,
		productionURL: appstore.ProductionURL,
		sandboxURL:    appstore.SandboxURL,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		logger:        logger,
		now:           time.Now,
	}
}

// Validate submits the receipt and extracts the purchase matching
// expectedProductID. Store-side rejections are recovered into an invalid
// Outcome; only missing configuration returns a Go error.
func (v *AppleValidator) Validate(ctx context.Context, receiptData, expectedProductID string) (*Outcome, error) {
	if v.sharedSecret == "" {
		return nil, fmt.Errorf("apple shared secret missing: %w", domainErrors.ErrValidatorNotConfigured)
	}

	req := appstore.IAPRequest{
		ReceiptData:            receiptData,
		Password:               v.sharedSecret,
		ExcludeOldTransactions: true,
	}

	resp, err := v.submit(ctx, v.productionURL, req)
	if err != nil {
		v.logger.Error("apple receipt verification failed",
			zap.String("product_id", expectedProductID),
			zap.Error(err),
		)
		return invalidOutcome(err.Error()), nil
	}

	if resp.Status == appleStatusSandboxReceipt {
		v.logger.Info("receipt is from sandbox, retrying against sandbox endpoint")
		resp, err = v.submit(ctx, v.sandboxURL, req)
		if err != nil {
			v.logger.Error("apple sandbox verification failed", zap.Error(err))
			return invalidOutcome(err.Error()), nil
		}
	}
	// 21008 means a production receipt answered by production content;
	// the response in hand is authoritative and no re-route happens.

	if resp.Status != appleStatusValid {
		msg, ok := appleStatusMessages[resp.Status]
		if !ok {
			msg = fmt.Sprintf("Unknown status code: %d", resp.Status)
		}
		v.logger.Warn("apple receipt rejected",
			zap.Int("status", resp.Status),
			zap.String("reason", msg),
		)
		return invalidOutcome(msg), nil
	}

	// Completed one-time purchases live in receipt.in_app; subscription
	// renewals supersede them via latest_receipt_info.
	purchases := make([]appstore.InApp, 0, len(resp.Receipt.InApp)+len(resp.LatestReceiptInfo))
	purchases = append(purchases, resp.Receipt.InApp...)
	purchases = append(purchases, resp.LatestReceiptInfo...)

	var match *appstore.InApp
	for i := range purchases {
		if purchases[i].ProductID == expectedProductID {
			match = &purchases[i]
			break
		}
	}
	if match == nil {
		v.logger.Warn("product id not found in receipt",
			zap.String("product_id", expectedProductID),
			zap.Int("purchase_count", len(purchases)),
		)
		return invalidOutcome("Product ID not found in receipt"), nil
	}

	transactionID := match.TransactionID
	if transactionID == "" {
		transactionID = string(match.OriginalTransactionID)
	}
	purchaseMS := parseMillis(match.PurchaseDateMS)
	expirationMS := parseMillis(match.ExpiresDateMS)

	if expirationMS > 0 && expirationMS < v.now().UnixMilli() {
		v.logger.Warn("subscription has expired",
			zap.String("product_id", match.ProductID),
			zap.String("transaction_id", transactionID),
			zap.Int64("expiration_date_ms", expirationMS),
		)
		// Identifiers and dates are kept on the invalid outcome so the
		// caller can audit which subscription lapsed.
		return &Outcome{
			Valid:            false,
			ProductID:        match.ProductID,
			TransactionID:    transactionID,
			PurchaseDateMS:   purchaseMS,
			ExpirationDateMS: expirationMS,
			Error:            "Subscription has expired",
		}, nil
	}

	v.logger.Info("apple receipt validated",
		zap.String("product_id", match.ProductID),
		zap.String("transaction_id", transactionID),
	)

	return &Outcome{
		Valid:            true,
		ProductID:        match.ProductID,
		TransactionID:    transactionID,
		PurchaseDateMS:   purchaseMS,
		ExpirationDateMS: expirationMS,
	}, nil
}

func (v *AppleValidator) submit(ctx context.Context, url string, body appstore.IAPRequest) (*appstore.IAPResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode verifyReceipt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build verifyReceipt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verifyReceipt request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verifyReceipt returned HTTP %d", resp.StatusCode)
	}

	var out appstore.IAPResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode verifyReceipt response: %w", err)
	}
	return &out, nil
}

// parseMillis converts Apple's stringly millisecond timestamps; absent or
// malformed values collapse to 0.
func parseMillis(s string) int64 {
	if s == "" {
		return 0
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
)

// HandleProcessWebhook applies a stored store notification to the
// receipt ledger. Processing is idempotent: already-processed events are
// skipped and the only mutation is an expiration update keyed by
// transaction id, so at-least-once delivery and asynq retries are safe.
func (h *TaskHandlers) HandleProcessWebhook(ctx context.Context, t *asynq.Task) error {
	var payload ProcessWebhookPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid webhook task payload: %w", err)
	}

	ev, err := h.events.Get(ctx, payload.Provider, payload.EventID)
	if err != nil {
		if errors.Is(err, domainErrors.ErrWebhookEventNotFound) {
			h.logger.Warn("webhook event missing, dropping task",
				zap.String("provider", payload.Provider),
				zap.String("event_id", payload.EventID),
			)
			return nil
		}
		return err
	}
	if ev.ProcessedAt != nil {
		return nil
	}

	switch ev.Provider {
	case "apple":
		err = h.processAppleEvent(ctx, ev.Payload)
	case "google":
		err = h.processGoogleEvent(ctx, ev.Payload)
	default:
		h.logger.Warn("webhook event from unknown provider", zap.String("provider", ev.Provider))
	}
	if err != nil {
		return err
	}

	return h.events.MarkProcessed(ctx, ev.Provider, ev.EventID)
}

// processAppleEvent extracts the renewed transaction from the signed
// transaction info and moves the recorded expiration.
func (h *TaskHandlers) processAppleEvent(ctx context.Context, payload []byte) error {
	var notification struct {
		NotificationType string `json:"notificationType"`
		Data             struct {
			SignedTransactionInfo string `json:"signedTransactionInfo"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return fmt.Errorf("failed to parse apple notification: %w", err)
	}
	if notification.Data.SignedTransactionInfo == "" {
		return nil
	}

	// The transaction info is itself a compact JWS; the claims are in
	// the middle part.
	parts := strings.Split(notification.Data.SignedTransactionInfo, ".")
	if len(parts) != 3 {
		h.logger.Warn("apple transaction info is not a JWS token")
		return nil
	}
	claimBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		h.logger.Warn("apple transaction info not decodable", zap.Error(err))
		return nil
	}

	var txn struct {
		TransactionID         string `json:"transactionId"`
		OriginalTransactionID string `json:"originalTransactionId"`
		ExpiresDate           int64  `json:"expiresDate"` // ms since epoch
	}
	if err := json.Unmarshal(claimBytes, &txn); err != nil {
		return fmt.Errorf("failed to parse apple transaction info: %w", err)
	}

	transactionID := txn.OriginalTransactionID
	if transactionID == "" {
		transactionID = txn.TransactionID
	}
	if transactionID == "" || txn.ExpiresDate == 0 {
		return nil
	}

	h.logger.Info("applying apple subscription lifecycle event",
		zap.String("notification_type", notification.NotificationType),
		zap.String("transaction_id", transactionID),
		zap.Int64("expiration_date_ms", txn.ExpiresDate),
	)
	return h.receipts.UpdateExpiration(ctx, transactionID, txn.ExpiresDate)
}

// processGoogleEvent re-validates the subscription named by the RTDN to
// learn its current expiry, then moves the recorded expiration.
func (h *TaskHandlers) processGoogleEvent(ctx context.Context, payload []byte) error {
	var rtdn struct {
		SubscriptionNotification struct {
			NotificationType int    `json:"notificationType"`
			PurchaseToken    string `json:"purchaseToken"`
			SubscriptionID   string `json:"subscriptionId"`
		} `json:"subscriptionNotification"`
	}
	if err := json.Unmarshal(payload, &rtdn); err != nil {
		return fmt.Errorf("failed to parse google RTDN: %w", err)
	}

	sub := rtdn.SubscriptionNotification
	if sub.PurchaseToken == "" || sub.SubscriptionID == "" {
		return nil
	}
	if h.googleValidator == nil {
		h.logger.Warn("google validator unavailable, skipping RTDN")
		return nil
	}

	outcome, err := h.googleValidator.ValidateSubscription(ctx, sub.PurchaseToken, sub.SubscriptionID)
	if err != nil {
		return err
	}
	if outcome.TransactionID == "" || outcome.ExpirationDateMS == 0 {
		h.logger.Warn("RTDN subscription lookup yielded no expiry",
			zap.String("subscription_id", sub.SubscriptionID),
			zap.String("reason", outcome.Error),
		)
		return nil
	}

	h.logger.Info("applying google subscription lifecycle event",
		zap.Int("notification_type", sub.NotificationType),
		zap.String("transaction_id", outcome.TransactionID),
		zap.Int64("expiration_date_ms", outcome.ExpirationDateMS),
	)
	return h.receipts.UpdateExpiration(ctx, outcome.TransactionID, outcome.ExpirationDateMS)
}

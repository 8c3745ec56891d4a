package handlers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/receipt-guard/internal/domain/entity"
	"github.com/bivex/receipt-guard/internal/domain/repository"
	"github.com/bivex/receipt-guard/internal/worker/tasks"
)

// WebhookHandler accepts asynchronous store notifications. Both senders
// deliver at-least-once and retry on non-2xx, so every request is
// answered 200 once read: events are stored idempotently and processed
// in the background, and a malformed payload is logged rather than
// bounced back into a retry storm.
type WebhookHandler struct {
	events      repository.WebhookEventRepository
	asynqClient *asynq.Client
	logger      *zap.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(events repository.WebhookEventRepository, asynqClient *asynq.Client, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		events:      events,
		asynqClient: asynqClient,
		logger:      logger,
	}
}

// AppleWebhook handles App Store Server Notifications (V2)
// @Summary Apple webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Router /webhook/apple [post]
func (h *WebhookHandler) AppleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read apple webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	// V2 notifications arrive as {"signedPayload": "<JWS>"}; the payload
	// is the middle part of the compact JWS.
	var envelope struct {
		SignedPayload string `json:"signedPayload"`
	}
	jws := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.SignedPayload != "" {
		jws = envelope.SignedPayload
	}

	parts := strings.Split(jws, ".")
	if len(parts) != 3 {
		h.logger.Warn("apple webhook with malformed JWS token")
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		h.logger.Warn("apple webhook JWS payload not decodable", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	var notification struct {
		NotificationType string `json:"notificationType"`
		NotificationUUID string `json:"notificationUUID"`
	}
	if err := json.Unmarshal(payloadBytes, &notification); err != nil {
		h.logger.Warn("apple webhook payload not parseable", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	h.accept(c, &entity.WebhookEvent{
		Provider:  "apple",
		EventType: notification.NotificationType,
		EventID:   notification.NotificationUUID,
		Payload:   payloadBytes,
	})
}

// GoogleWebhook handles Play Real-time Developer Notifications delivered
// via Pub/Sub push
// @Summary Google webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Router /webhook/google [post]
func (h *WebhookHandler) GoogleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read google webhook body", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	var push struct {
		Message struct {
			Data      string `json:"data"` // base64-encoded RTDN payload
			MessageID string `json:"messageId"`
		} `json:"message"`
	}
	if err := json.Unmarshal(body, &push); err != nil {
		h.logger.Warn("google webhook with invalid pub/sub envelope", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	notificationBytes, err := base64.StdEncoding.DecodeString(push.Message.Data)
	if err != nil {
		h.logger.Warn("google webhook data not decodable", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	var rtdn struct {
		SubscriptionNotification struct {
			NotificationType int `json:"notificationType"`
		} `json:"subscriptionNotification"`
	}
	if err := json.Unmarshal(notificationBytes, &rtdn); err != nil {
		h.logger.Warn("google webhook RTDN not parseable", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	h.accept(c, &entity.WebhookEvent{
		Provider:  "google",
		EventType: fmt.Sprintf("subscription.%d", rtdn.SubscriptionNotification.NotificationType),
		EventID:   push.Message.MessageID,
		Payload:   notificationBytes,
	})
}

// accept stores the event and queues it for processing; failures are
// logged only, the sender always gets a success.
func (h *WebhookHandler) accept(c *gin.Context, ev *entity.WebhookEvent) {
	if err := h.events.Insert(c.Request.Context(), ev); err != nil {
		h.logger.Error("failed to store webhook event",
			zap.String("provider", ev.Provider),
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	task, err := tasks.NewProcessWebhookTask(ev.Provider, ev.EventID)
	if err == nil {
		_, err = h.asynqClient.Enqueue(task)
	}
	if err != nil {
		h.logger.Error("failed to enqueue webhook task",
			zap.String("provider", ev.Provider),
			zap.String("event_id", ev.EventID),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

package repository

import (
	"context"

	"github.com/bivex/receipt-guard/internal/domain/entity"
)

// WebhookEventRepository stores inbound store notifications for async
// processing. Inserts are idempotent on (provider, event id).
type WebhookEventRepository interface {
	// Insert stores the event; a duplicate delivery is silently dropped.
	Insert(ctx context.Context, ev *entity.WebhookEvent) error

	// Get returns a stored event, or ErrWebhookEventNotFound.
	Get(ctx context.Context, provider, eventID string) (*entity.WebhookEvent, error)

	// MarkProcessed stamps the event as handled.
	MarkProcessed(ctx context.Context, provider, eventID string) error
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bivex/receipt-guard/internal/domain/entity"
	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
	domainRepo "github.com/bivex/receipt-guard/internal/domain/repository"
)

type webhookEventRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewWebhookEventRepository creates the Postgres-backed webhook event store
func NewWebhookEventRepository(pool *pgxpool.Pool) domainRepo.WebhookEventRepository {
	return &webhookEventRepositoryImpl{pool: pool}
}

// Insert stores the event; redelivery of the same (provider, event_id)
// is dropped so at-least-once senders stay idempotent.
func (r *webhookEventRepositoryImpl) Insert(ctx context.Context, ev *entity.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (provider, event_type, event_id, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, ev.Provider, ev.EventType, ev.EventID, ev.Payload); err != nil {
		return fmt.Errorf("failed to insert webhook event: %w", err)
	}
	return nil
}

func (r *webhookEventRepositoryImpl) Get(ctx context.Context, provider, eventID string) (*entity.WebhookEvent, error) {
	query := `
		SELECT id, provider, event_type, event_id, payload, processed_at, created_at
		FROM webhook_events
		WHERE provider = $1 AND event_id = $2
	`
	var ev entity.WebhookEvent
	err := r.pool.QueryRow(ctx, query, provider, eventID).Scan(
		&ev.ID, &ev.Provider, &ev.EventType, &ev.EventID, &ev.Payload, &ev.ProcessedAt, &ev.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrWebhookEventNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &ev, nil
}

func (r *webhookEventRepositoryImpl) MarkProcessed(ctx context.Context, provider, eventID string) error {
	query := `
		UPDATE webhook_events
		SET processed_at = now()
		WHERE provider = $1 AND event_id = $2
	`
	if _, err := r.pool.Exec(ctx, query, provider, eventID); err != nil {
		return fmt.Errorf("failed to mark webhook event processed: %w", err)
	}
	return nil
}

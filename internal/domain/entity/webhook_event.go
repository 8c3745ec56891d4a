package entity

import "time"

// WebhookEvent is a store notification accepted from Apple or Google.
// Providers deliver at-least-once, so events are keyed by (provider,
// event id) and inserted idempotently before async processing.
type WebhookEvent struct {
	ID          int64
	Provider    string
	EventType   string
	EventID     string
	Payload     []byte
	ProcessedAt *time.Time
	CreatedAt   time.Time
}

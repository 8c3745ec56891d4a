package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/bivex/receipt-guard/internal/domain/repository"
	"github.com/bivex/receipt-guard/internal/infrastructure/external/iap"
	"github.com/bivex/receipt-guard/internal/infrastructure/logging"
)

// Task names
const (
	TypeProcessWebhook = "process:webhook"
)

// ProcessWebhookPayload identifies a stored webhook event to process.
type ProcessWebhookPayload struct {
	Provider string `json:"provider"`
	EventID  string `json:"event_id"`
}

// NewProcessWebhookTask creates a task for a stored webhook event.
func NewProcessWebhookTask(provider, eventID string) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessWebhookPayload{Provider: provider, EventID: eventID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessWebhook, payload), nil
}

// TaskHandlers holds dependencies for all task handlers.
type TaskHandlers struct {
	events          repository.WebhookEventRepository
	receipts        repository.ReceiptRepository
	googleValidator *iap.GoogleValidator
	logger          *zap.Logger
}

// NewTaskHandlers creates task handlers with storage and validator access.
func NewTaskHandlers(
	events repository.WebhookEventRepository,
	receipts repository.ReceiptRepository,
	googleValidator *iap.GoogleValidator,
) *TaskHandlers {
	return &TaskHandlers{
		events:          events,
		receipts:        receipts,
		googleValidator: googleValidator,
		logger:          logging.Logger,
	}
}

// RegisterHandlers registers all task handlers with the server mux.
func RegisterHandlers(mux *asynq.ServeMux, h *TaskHandlers) {
	mux.HandleFunc(TypeProcessWebhook, h.HandleProcessWebhook)
}

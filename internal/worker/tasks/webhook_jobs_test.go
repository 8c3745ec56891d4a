package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"github.com/bivex/receipt-guard/internal/domain/entity"
	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
	"github.com/bivex/receipt-guard/internal/infrastructure/external/iap"
)

type fakeEventRepo struct {
	events map[string]*entity.WebhookEvent
}

func eventKey(provider, eventID string) string { return provider + ":" + eventID }

func (f *fakeEventRepo) Insert(ctx context.Context, ev *entity.WebhookEvent) error {
	key := eventKey(ev.Provider, ev.EventID)
	if _, ok := f.events[key]; ok {
		return nil
	}
	f.events[key] = ev
	return nil
}

func (f *fakeEventRepo) Get(ctx context.Context, provider, eventID string) (*entity.WebhookEvent, error) {
	ev, ok := f.events[eventKey(provider, eventID)]
	if !ok {
		return nil, domainErrors.ErrWebhookEventNotFound
	}
	return ev, nil
}

func (f *fakeEventRepo) MarkProcessed(ctx context.Context, provider, eventID string) error {
	ev, ok := f.events[eventKey(provider, eventID)]
	if !ok {
		return domainErrors.ErrWebhookEventNotFound
	}
	now := time.Now()
	ev.ProcessedAt = &now
	return nil
}

type expirationCall struct {
	transactionID    string
	expirationDateMS int64
}

type fakeReceiptRepo struct {
	updates []expirationCall
}

func (f *fakeReceiptRepo) Get(ctx context.Context, key string) (*entity.ReceiptRecord, error) {
	return nil, domainErrors.ErrReceiptNotFound
}

func (f *fakeReceiptRepo) Record(ctx context.Context, rec *entity.ReceiptRecord) (bool, *entity.ReceiptRecord, error) {
	return true, nil, nil
}

func (f *fakeReceiptRepo) UpdateExpiration(ctx context.Context, transactionID string, expirationDateMS int64) error {
	f.updates = append(f.updates, expirationCall{transactionID, expirationDateMS})
	return nil
}

func newHandlers(events *fakeEventRepo, receipts *fakeReceiptRepo, validator *iap.GoogleValidator) *TaskHandlers {
	return &TaskHandlers{
		events:          events,
		receipts:        receipts,
		googleValidator: validator,
		logger:          zap.NewNop(),
	}
}

func storedEvent(t *testing.T, events *fakeEventRepo, provider, eventID string, payload any) *asynq.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, events.Insert(context.Background(), &entity.WebhookEvent{
		Provider:  provider,
		EventType: "TEST",
		EventID:   eventID,
		Payload:   raw,
		CreatedAt: time.Now(),
	}))

	task, err := NewProcessWebhookTask(provider, eventID)
	require.NoError(t, err)
	return task
}

func signedTransactionInfo(t *testing.T, claims any) string {
	t.Helper()
	raw, err := json.Marshal(claims)
	require.NoError(t, err)
	middle := base64.RawURLEncoding.EncodeToString(raw)
	return "eyJhbGciOiJFUzI1NiJ9." + middle + ".c2ln"
}

func TestHandleProcessWebhook_AppleRenewalMovesExpiration(t *testing.T) {
	events := &fakeEventRepo{events: map[string]*entity.WebhookEvent{}}
	receipts := &fakeReceiptRepo{}
	h := newHandlers(events, receipts, nil)

	task := storedEvent(t, events, "apple", "uuid-1", map[string]any{
		"notificationType": "DID_RENEW",
		"data": map[string]any{
			"signedTransactionInfo": signedTransactionInfo(t, map[string]any{
				"transactionId":         "txn-2",
				"originalTransactionId": "txn-1",
				"expiresDate":           int64(1800000000000),
			}),
		},
	})

	require.NoError(t, h.HandleProcessWebhook(context.Background(), task))

	require.Len(t, receipts.updates, 1)
	// Renewals are keyed by the original transaction so the ledger entry
	// written at first purchase is the one that moves.
	assert.Equal(t, "txn-1", receipts.updates[0].transactionID)
	assert.Equal(t, int64(1800000000000), receipts.updates[0].expirationDateMS)

	ev, err := events.Get(context.Background(), "apple", "uuid-1")
	require.NoError(t, err)
	assert.NotNil(t, ev.ProcessedAt)
}

func TestHandleProcessWebhook_AlreadyProcessedIsSkipped(t *testing.T) {
	events := &fakeEventRepo{events: map[string]*entity.WebhookEvent{}}
	receipts := &fakeReceiptRepo{}
	h := newHandlers(events, receipts, nil)

	task := storedEvent(t, events, "apple", "uuid-1", map[string]any{
		"notificationType": "DID_RENEW",
		"data": map[string]any{
			"signedTransactionInfo": signedTransactionInfo(t, map[string]any{
				"originalTransactionId": "txn-1",
				"expiresDate":           int64(1800000000000),
			}),
		},
	})

	now := time.Now()
	events.events[eventKey("apple", "uuid-1")].ProcessedAt = &now

	require.NoError(t, h.HandleProcessWebhook(context.Background(), task))
	assert.Empty(t, receipts.updates)
}

func TestHandleProcessWebhook_MissingEventIsDropped(t *testing.T) {
	events := &fakeEventRepo{events: map[string]*entity.WebhookEvent{}}
	h := newHandlers(events, &fakeReceiptRepo{}, nil)

	task, err := NewProcessWebhookTask("apple", "no-such-event")
	require.NoError(t, err)

	// Dropping beats retrying: the event will never appear.
	assert.NoError(t, h.HandleProcessWebhook(context.Background(), task))
}

func TestHandleProcessWebhook_MalformedTransactionInfoStillCompletes(t *testing.T) {
	events := &fakeEventRepo{events: map[string]*entity.WebhookEvent{}}
	receipts := &fakeReceiptRepo{}
	h := newHandlers(events, receipts, nil)

	task := storedEvent(t, events, "apple", "uuid-1", map[string]any{
		"notificationType": "DID_RENEW",
		"data":             map[string]any{"signedTransactionInfo": "not-a-jws"},
	})

	require.NoError(t, h.HandleProcessWebhook(context.Background(), task))
	assert.Empty(t, receipts.updates)

	ev, err := events.Get(context.Background(), "apple", "uuid-1")
	require.NoError(t, err)
	assert.NotNil(t, ev.ProcessedAt, "undecodable events are marked processed, not retried forever")
}

func TestHandleProcessWebhook_GoogleRTDNRefreshesExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&androidpublisher.SubscriptionPurchase{
			PaymentState:     func() *int64 { v := int64(1); return &v }(),
			StartTimeMillis:  1700000000000,
			ExpiryTimeMillis: 1802000000000,
			OrderId:          "GPA.9999-0000",
		})
	}))
	defer server.Close()

	service, err := androidpublisher.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	validator := iap.NewGoogleValidatorWithService(service, "com.example.app", zap.NewNop())

	events := &fakeEventRepo{events: map[string]*entity.WebhookEvent{}}
	receipts := &fakeReceiptRepo{}
	h := newHandlers(events, receipts, validator)

	task := storedEvent(t, events, "google", "msg-1", map[string]any{
		"subscriptionNotification": map[string]any{
			"notificationType": 2,
			"purchaseToken":    "token-1",
			"subscriptionId":   "com.example.sub",
		},
	})

	require.NoError(t, h.HandleProcessWebhook(context.Background(), task))

	require.Len(t, receipts.updates, 1)
	assert.Equal(t, "GPA.9999-0000", receipts.updates[0].transactionID)
	assert.Equal(t, int64(1802000000000), receipts.updates[0].expirationDateMS)
}

func TestHandleProcessWebhook_GoogleWithoutValidatorSkips(t *testing.T) {
	events := &fakeEventRepo{events: map[string]*entity.WebhookEvent{}}
	receipts := &fakeReceiptRepo{}
	h := newHandlers(events, receipts, nil)

	task := storedEvent(t, events, "google", "msg-1", map[string]any{
		"subscriptionNotification": map[string]any{
			"notificationType": 2,
			"purchaseToken":    "token-1",
			"subscriptionId":   "com.example.sub",
		},
	})

	require.NoError(t, h.HandleProcessWebhook(context.Background(), task))
	assert.Empty(t, receipts.updates)
}

func TestHandleProcessWebhook_InvalidTaskPayload(t *testing.T) {
	h := newHandlers(&fakeEventRepo{events: map[string]*entity.WebhookEvent{}}, &fakeReceiptRepo{}, nil)

	task := asynq.NewTask(TypeProcessWebhook, []byte("not json"))
	assert.Error(t, h.HandleProcessWebhook(context.Background(), task))
}

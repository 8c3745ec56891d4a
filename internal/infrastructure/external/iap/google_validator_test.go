package iap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	domainErrors "github.com/bivex/receipt-guard/internal/domain/errors"
)

const testPackageName = "com.example.app"

// googlePlayStub routes Android Publisher API calls to canned handlers.
type googlePlayStub struct {
	getProduct      http.HandlerFunc
	acknowledge     http.HandlerFunc
	getSubscription http.HandlerFunc
	ackHits         int
}

func (s *googlePlayStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, ":acknowledge") || strings.HasSuffix(r.URL.Path, "acknowledge"):
			s.ackHits++
			if s.acknowledge != nil {
				s.acknowledge(w, r)
				return
			}
			w.WriteHeader(http.StatusOK)
		case strings.Contains(r.URL.Path, "/purchases/products/"):
			s.getProduct(w, r)
		case strings.Contains(r.URL.Path, "/purchases/subscriptions/"):
			s.getSubscription(w, r)
		default:
			http.NotFound(w, r)
		}
	}
}

func newGoogleTestValidator(t *testing.T, stub *googlePlayStub) (*GoogleValidator, func()) {
	t.Helper()
	server := httptest.NewServer(stub.handler())

	service, err := androidpublisher.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)

	return NewGoogleValidatorWithService(service, testPackageName, zap.NewNop()), server.Close
}

func respondJSON(t *testing.T, v any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(v))
	}
}

func respondError(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": code, "message": http.StatusText(code)},
		})
	}
}

func TestGoogleValidator_ValidProduct(t *testing.T) {
	stub := &googlePlayStub{
		getProduct: respondJSON(t, &androidpublisher.ProductPurchase{
			PurchaseState:        0,
			AcknowledgementState: 1,
			OrderId:              "GPA.1234-5678",
			PurchaseTimeMillis:   1700000000000,
		}),
	}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()

	outcome, err := v.ValidateProduct(context.Background(), "token-1", "com.example.premium")

	require.NoError(t, err)
	assert.True(t, outcome.Valid)
	assert.Equal(t, "com.example.premium", outcome.ProductID)
	assert.Equal(t, "GPA.1234-5678", outcome.TransactionID)
	assert.Equal(t, int64(1700000000000), outcome.PurchaseDateMS)
	assert.Zero(t, stub.ackHits, "already acknowledged purchases must not be re-acknowledged")
}

func TestGoogleValidator_PurchaseStates(t *testing.T) {
	tests := []struct {
		state int64
		want  string
	}{
		{1, "Purchase was cancelled"},
		{2, "Purchase is pending"},
		{7, "Invalid purchase state"},
	}

	for _, tt := range tests {
		stub := &googlePlayStub{
			getProduct: respondJSON(t, &androidpublisher.ProductPurchase{
				PurchaseState: tt.state,
				OrderId:       "GPA.0000-0000",
			}),
		}
		v, cleanup := newGoogleTestValidator(t, stub)

		outcome, err := v.ValidateProduct(context.Background(), "token-1", "com.example.premium")
		cleanup()

		require.NoError(t, err)
		assert.False(t, outcome.Valid)
		assert.Equal(t, tt.want, outcome.Error)
		assert.Equal(t, "GPA.0000-0000", outcome.TransactionID)
	}
}

func TestGoogleValidator_AcknowledgesUnacknowledgedPurchase(t *testing.T) {
	stub := &googlePlayStub{
		getProduct: respondJSON(t, &androidpublisher.ProductPurchase{
			PurchaseState:        0,
			AcknowledgementState: 0,
			OrderId:              "GPA.1111-2222",
			PurchaseTimeMillis:   1700000000000,
		}),
	}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()

	outcome, err := v.ValidateProduct(context.Background(), "token-1", "com.example.premium")

	require.NoError(t, err)
	assert.True(t, outcome.Valid)
	assert.Equal(t, 1, stub.ackHits)
}

func TestGoogleValidator_AcknowledgeFailureDoesNotInvalidate(t *testing.T) {
	stub := &googlePlayStub{
		getProduct: respondJSON(t, &androidpublisher.ProductPurchase{
			PurchaseState:        0,
			AcknowledgementState: 0,
			OrderId:              "GPA.1111-2222",
			PurchaseTimeMillis:   1700000000000,
		}),
		acknowledge: respondError(http.StatusInternalServerError),
	}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()

	outcome, err := v.ValidateProduct(context.Background(), "token-1", "com.example.premium")

	require.NoError(t, err)
	assert.True(t, outcome.Valid)
	assert.Equal(t, 1, stub.ackHits)
}

func TestGoogleValidator_APIErrors(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{http.StatusNotFound, "Purchase not found"},
		{http.StatusUnauthorized, "API authentication failed. Check service account configuration."},
		{http.StatusForbidden, "API authentication failed. Check service account configuration."},
	}

	for _, tt := range tests {
		stub := &googlePlayStub{getProduct: respondError(tt.code)}
		v, cleanup := newGoogleTestValidator(t, stub)

		outcome, err := v.ValidateProduct(context.Background(), "token-1", "com.example.premium")
		cleanup()

		require.NoError(t, err)
		assert.False(t, outcome.Valid)
		assert.Equal(t, tt.want, outcome.Error)
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestGoogleValidator_ValidSubscription(t *testing.T) {
	stub := &googlePlayStub{
		getSubscription: respondJSON(t, &androidpublisher.SubscriptionPurchase{
			PaymentState:     int64Ptr(1),
			StartTimeMillis:  1700000000000,
			ExpiryTimeMillis: 9999999999999,
			OrderId:          "GPA.3333-4444",
		}),
	}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()

	outcome, err := v.ValidateSubscription(context.Background(), "token-1", "com.example.sub")

	require.NoError(t, err)
	assert.True(t, outcome.Valid)
	assert.Equal(t, "com.example.sub", outcome.ProductID)
	assert.Equal(t, "GPA.3333-4444", outcome.TransactionID)
	assert.Equal(t, int64(1700000000000), outcome.PurchaseDateMS)
	assert.Equal(t, int64(9999999999999), outcome.ExpirationDateMS)
}

func TestGoogleValidator_SubscriptionPaymentPending(t *testing.T) {
	stub := &googlePlayStub{
		getSubscription: respondJSON(t, &androidpublisher.SubscriptionPurchase{
			PaymentState: int64Ptr(0),
			OrderId:      "GPA.5555-6666",
		}),
	}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()

	outcome, err := v.ValidateSubscription(context.Background(), "token-1", "com.example.sub")

	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, "Subscription payment pending or failed", outcome.Error)
}

func TestGoogleValidator_SubscriptionExpired(t *testing.T) {
	stub := &googlePlayStub{
		getSubscription: respondJSON(t, &androidpublisher.SubscriptionPurchase{
			PaymentState:     int64Ptr(1),
			StartTimeMillis:  1600000000000,
			ExpiryTimeMillis: 1600002592000,
			OrderId:          "GPA.7777-8888",
		}),
	}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()
	v.now = func() time.Time { return time.UnixMilli(1700000000000) }

	outcome, err := v.ValidateSubscription(context.Background(), "token-1", "com.example.sub")

	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, "Subscription has expired", outcome.Error)
	assert.Equal(t, int64(1600002592000), outcome.ExpirationDateMS)
}

func TestGoogleValidator_SubscriptionNotFound(t *testing.T) {
	stub := &googlePlayStub{getSubscription: respondError(http.StatusNotFound)}
	v, cleanup := newGoogleTestValidator(t, stub)
	defer cleanup()

	outcome, err := v.ValidateSubscription(context.Background(), "token-1", "com.example.sub")

	require.NoError(t, err)
	assert.False(t, outcome.Valid)
	assert.Equal(t, "Subscription not found", outcome.Error)
}

func TestNewGoogleValidator_MissingCredentials(t *testing.T) {
	_, err := NewGoogleValidator(context.Background(), "", testPackageName, zap.NewNop())
	assert.ErrorIs(t, err, domainErrors.ErrValidatorNotConfigured)

	_, err = NewGoogleValidator(context.Background(), `{"type":"service_account"}`, "", zap.NewNop())
	assert.ErrorIs(t, err, domainErrors.ErrValidatorNotConfigured)
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/internal/core/ports/mocks"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func completedTx(purpose domain.Purpose) *domain.Transaction {
	receipt := "NLJ7RT61SV"
	paid := decimal.NewFromInt(300)
	at := t0
	return &domain.Transaction{
		ID:                uuid.New(),
		PhoneNumber:       "254712345678",
		Amount:            decimal.NewFromInt(300),
		Purpose:           purpose,
		Status:            domain.TransactionStatusCompleted,
		ProviderReceiptID: &receipt,
		PaidAmount:        &paid,
		SideEffectApplied: true,
		CompletedAt:       &at,
	}
}

func TestPurposeDispatcher_RoutesByPurpose(t *testing.T) {
	ctrl := gomock.NewController(t)
	activation := mocks.NewMockSideEffectHandler(ctrl)
	topup := mocks.NewMockSideEffectHandler(ctrl)
	d := NewPurposeDispatcher(map[domain.Purpose]ports.SideEffectHandler{
		domain.PurposeActivationFee: activation,
		domain.PurposeWalletTopup:   topup,
	}, newTestLogger())

	tx := completedTx(domain.PurposeWalletTopup)
	topup.EXPECT().Apply(gomock.Any(), tx).Return(nil)

	d.Dispatch(context.Background(), tx)
	d.Wait()
}

func TestPurposeDispatcher_SurvivesCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := mocks.NewMockSideEffectHandler(ctrl)
	d := NewPurposeDispatcher(map[domain.Purpose]ports.SideEffectHandler{domain.PurposeOrderPayment: h}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	h.EXPECT().Apply(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ *domain.Transaction) error {
		assert.NoError(t, ctx.Err())
		return errors.New("collaborator down")
	})

	d.Dispatch(ctx, completedTx(domain.PurposeOrderPayment))
	cancel()
	d.Wait()
}

func TestPurposeDispatcher_UnknownPurpose(t *testing.T) {
	d := NewPurposeDispatcher(map[domain.Purpose]ports.SideEffectHandler{}, newTestLogger())
	d.Dispatch(context.Background(), completedTx(domain.PurposeWithdrawal))
	d.Wait()
}

func TestHTTPNotifier_DeliversSignedEvent(t *testing.T) {
	tx := completedTx(domain.PurposeActivationFee)

	var got CompletionEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, Sign([]byte("s3cret"), body), r.Header.Get("X-Signature"))
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "s3cret", srv.Client(), newTestLogger())
	require.NoError(t, n.Apply(context.Background(), tx))

	assert.Equal(t, EventPaymentCompleted, got.Event)
	assert.Equal(t, tx.ID.String(), got.TransactionID)
	assert.Equal(t, domain.PurposeActivationFee, got.Purpose)
	assert.Equal(t, "300", got.Amount)
	assert.Equal(t, "300", *got.PaidAmount)
	assert.Equal(t, "NLJ7RT61SV", *got.ReceiptID)
}

func TestHTTPNotifier_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "", srv.Client(), newTestLogger())
	n.intervals = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	require.NoError(t, n.Apply(context.Background(), completedTx(domain.PurposeOrderPayment)))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPNotifier_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Empty(t, r.Header.Get("X-Signature"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "", srv.Client(), newTestLogger())
	n.intervals = []time.Duration{time.Millisecond, time.Millisecond}

	err := n.Apply(context.Background(), completedTx(domain.PurposeOrderPayment))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 3 attempts exhausted")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPNotifier_StopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL, "", srv.Client(), newTestLogger())
	n.intervals = []time.Duration{time.Hour}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := n.Apply(ctx, completedTx(domain.PurposeOrderPayment))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewDispatcherFromConfig(t *testing.T) {
	d := NewDispatcherFromConfig(config.SideEffectsConfig{
		OrderPaymentURL: "https://shop.example.com/hooks/paid",
	}, http.DefaultClient, newTestLogger())

	require.Len(t, d.handlers, len(domain.Purposes))
	assert.IsType(t, &HTTPNotifier{}, d.handlers[domain.PurposeOrderPayment])
	assert.IsType(t, &LogHandler{}, d.handlers[domain.PurposeActivationFee])
	assert.IsType(t, &LogHandler{}, d.handlers[domain.PurposeWalletTopup])
	assert.IsType(t, &LogHandler{}, d.handlers[domain.PurposeWithdrawal])
}

func TestSign(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		Sign([]byte("key"), []byte("The quick brown fox jumps over the lazy dog")))
}

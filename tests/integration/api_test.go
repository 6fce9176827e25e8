package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"stk-push-gateway/config"
	httpHandler "stk-push-gateway/internal/adapter/http/handler"
	"stk-push-gateway/internal/adapter/storage/memory"
	redisStorage "stk-push-gateway/internal/adapter/storage/redis"
	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/internal/poller"
	"stk-push-gateway/internal/service"
	"stk-push-gateway/pkg/clock"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testApp wires the real HTTP layer, services and Redis stores around the
// in-memory transaction store and the provider simulator on a fake clock.
type testApp struct {
	server     *httptest.Server
	redis      *miniredis.Miniredis
	clock      *clock.Fake
	store      *memory.TransactionStore
	sim        *service.Simulator
	dispatcher *service.PurposeDispatcher
	effects    *countingHandler
	token      string
}

// countingHandler records every side effect it is asked to apply.
type countingHandler struct {
	mu      sync.Mutex
	applied map[uuid.UUID]int
}

func (h *countingHandler) Apply(_ context.Context, tx *domain.Transaction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applied[tx.ID]++
	return nil
}

func (h *countingHandler) count(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.applied[id]
}

const (
	jwtSecret = "integration-secret-key-32-bytes!"
	jwtIssuer = "stk-push-gateway"
)

func newTestApp(t *testing.T, successRate float64) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	log := zerolog.New(io.Discard)
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := memory.NewTransactionStore()

	effects := &countingHandler{applied: make(map[uuid.UUID]int)}
	handlers := make(map[domain.Purpose]ports.SideEffectHandler, len(domain.Purposes))
	for _, p := range domain.Purposes {
		handlers[p] = effects
	}
	dispatcher := service.NewPurposeDispatcher(handlers, log)
	callbacks := service.NewCallbackService(store, dispatcher, clk, log)

	sim := service.NewSimulator(callbacks, config.SimulationConfig{
		MinDelay:    3 * time.Second,
		MaxDelay:    10 * time.Second,
		SuccessRate: successRate,
	}, clk, rand.New(rand.NewSource(7)), log)

	tokens := service.NewTokenCache(sim, clk, time.Minute, true, log)
	signer := service.NewSTKSigner("174379", "bfb279f9aa9bdbcf158e97dd71a467cd2e0c893059b10f78e6b72ada1ed2c919", clk)
	paymentSvc := service.NewPaymentService(store, tokens, signer, sim, redisStorage.NewIdempotencyCache(rdb), clk,
		service.PushConfig{
			ShortCode:        "174379",
			TransactionType:  "CustomerPayBillOnline",
			CallbackURL:      "https://gateway.example.com/payments/callback",
			AccountReference: "ACCOUNT",
			RequestTimeout:   5 * time.Second,
		}, log)
	statusSvc := service.NewStatusService(store, tokens, signer, sim, callbacks, clk, 5*time.Second, log)
	jwtSvc := service.NewJWTTokenService(config.JWTConfig{Secret: jwtSecret, Expiry: time.Hour, Issuer: jwtIssuer}, clk)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:     paymentSvc,
		StatusSvc:      statusSvc,
		Callbacks:      callbacks,
		TokenSvc:       jwtSvc,
		RateLimitStore: redisStorage.NewRateLimitStore(rdb, clk),
		HealthCheckers: nil,
		Clock:          clk,
		Logger:         log,
	})

	token, _, err := jwtSvc.Generate("shop-backend")
	require.NoError(t, err)

	app := &testApp{
		server:     httptest.NewServer(router),
		redis:      mr,
		clock:      clk,
		store:      store,
		sim:        sim,
		dispatcher: dispatcher,
		effects:    effects,
		token:      token,
	}
	t.Cleanup(app.close)
	return app
}

func (a *testApp) close() {
	a.sim.Close()
	a.server.Close()
	a.dispatcher.Wait()
	a.redis.Close()
}

func (a *testApp) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}
	return resp, decoded
}

func (a *testApp) push(t *testing.T, headers map[string]string) uuid.UUID {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/payments/push", map[string]any{
		"phone_number": "0712345678",
		"amount":       300,
		"description":  "Account activation",
		"purpose":      "ACTIVATION_FEE",
	}, headers)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	data := body["data"].(map[string]any)
	assert.NotEmpty(t, data["provider_request_id"])
	id, err := uuid.Parse(data["transaction_id"].(string))
	require.NoError(t, err)
	return id
}

func (a *testApp) status(t *testing.T, id uuid.UUID) map[string]any {
	t.Helper()
	resp, body := a.do(t, http.MethodGet, "/payments/status/"+id.String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["data"].(map[string]any)
}

// --- Integration Tests ---

func TestIntegration_HealthCheck(t *testing.T) {
	app := newTestApp(t, 1)

	resp, body := app.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestIntegration_PushCallbackPoll_Success(t *testing.T) {
	app := newTestApp(t, 1)

	id := app.push(t, nil)
	assert.Equal(t, "PENDING", app.status(t, id)["status"])
	assert.Equal(t, 1, app.sim.Pending())

	reader := poller.NewHTTPStatusReader(app.server.URL, app.token, http.DefaultClient)
	p := poller.New(reader, app.clock, poller.Config{MaxAttempts: 10, Interval: 2 * time.Second}, zerolog.New(io.Discard))

	var (
		mu       sync.Mutex
		finished []poller.Result
	)
	w := p.Watch(id, func(r poller.Result) {
		mu.Lock()
		finished = append(finished, r)
		mu.Unlock()
	})

	for i := 0; i < 20 && w.State() == poller.StatePolling; i++ {
		app.clock.Advance(time.Second)
	}

	require.Equal(t, poller.StateSuccess, w.State())
	res := w.Result()
	assert.Equal(t, domain.TransactionStatusCompleted, res.Status)
	assert.LessOrEqual(t, res.Attempts, 6)
	mu.Lock()
	assert.Len(t, finished, 1)
	mu.Unlock()

	data := app.status(t, id)
	assert.Equal(t, "COMPLETED", data["status"])
	assert.Regexp(t, `^SM[A-Z0-9]{8}$`, data["receipt_id"])
	assert.Equal(t, "300", data["paid_amount"])
	assert.NotEmpty(t, data["completed_at"])

	app.dispatcher.Wait()
	assert.Equal(t, 1, app.effects.count(id))
}

func TestIntegration_PushCallbackPoll_Cancelled(t *testing.T) {
	app := newTestApp(t, 0)

	id := app.push(t, nil)

	reader := poller.NewHTTPStatusReader(app.server.URL, app.token, http.DefaultClient)
	p := poller.New(reader, app.clock, poller.Config{MaxAttempts: 10, Interval: 2 * time.Second}, zerolog.New(io.Discard))
	w := p.Watch(id, nil)

	app.clock.Advance(20 * time.Second)

	require.Equal(t, poller.StateFailure, w.State())
	data := app.status(t, id)
	assert.Equal(t, "CANCELLED", data["status"])
	assert.Equal(t, "1032", data["result_code"])
	assert.Nil(t, data["receipt_id"])

	app.dispatcher.Wait()
	assert.Zero(t, app.effects.count(id))
}

func TestIntegration_PollerTimesOutWithoutCallback(t *testing.T) {
	app := newTestApp(t, 1)

	id := app.push(t, nil)
	app.sim.Close()

	reader := poller.NewHTTPStatusReader(app.server.URL, app.token, http.DefaultClient)
	p := poller.New(reader, app.clock, poller.Config{MaxAttempts: 4, Interval: 2 * time.Second}, zerolog.New(io.Discard))
	w := p.Watch(id, nil)

	app.clock.Advance(30 * time.Second)

	require.Equal(t, poller.StateTimeout, w.State())
	assert.Equal(t, 4, w.Result().Attempts)
	// The transaction is left for the callback or a later reconcile.
	assert.Equal(t, "PENDING", app.status(t, id)["status"])
}

func TestIntegration_QueryReconcilesBeforeCallback(t *testing.T) {
	app := newTestApp(t, 1)

	id := app.push(t, nil)

	resp, body := app.do(t, http.MethodPost, fmt.Sprintf("/payments/status/%s/query", id), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "COMPLETED", body["data"].(map[string]any)["status"])

	// The simulated callback arrives late and must not change anything.
	app.clock.Advance(15 * time.Second)
	assert.Zero(t, app.sim.Pending())

	data := app.status(t, id)
	assert.Equal(t, "COMPLETED", data["status"])
	assert.Equal(t, "0", data["result_code"])

	app.dispatcher.Wait()
	assert.Equal(t, 1, app.effects.count(id))
}

func TestIntegration_IdempotentPush(t *testing.T) {
	app := newTestApp(t, 1)

	headers := map[string]string{httpHandler.HeaderIdempotencyKey: "order-1001"}
	first := app.push(t, headers)
	second := app.push(t, headers)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, app.sim.Pending(), "replay must not prompt the customer again")

	third := app.push(t, map[string]string{httpHandler.HeaderIdempotencyKey: "order-1002"})
	assert.NotEqual(t, first, third)
	assert.Equal(t, 2, app.sim.Pending())
}

func TestIntegration_ValidationFailsBeforeProvider(t *testing.T) {
	app := newTestApp(t, 1)

	resp, body := app.do(t, http.MethodPost, "/payments/push", map[string]any{
		"phone_number": "12345",
		"amount":       300,
		"purpose":      "ACTIVATION_FEE",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VAL_001", body["error_code"])
	assert.Zero(t, app.sim.Pending())
}

func TestIntegration_CollaboratorRoutesRequireToken(t *testing.T) {
	app := newTestApp(t, 1)
	app.token = ""

	resp, body := app.do(t, http.MethodPost, "/payments/push", map[string]any{
		"phone_number": "0712345678", "amount": 300, "purpose": "ACTIVATION_FEE",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "AUTH_001", body["error_code"])

	resp, _ = app.do(t, http.MethodGet, "/payments/status/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The provider never authenticates.
	resp, body = app.do(t, http.MethodPost, "/payments/callback", `{"Body":{}}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["ResultCode"])
}

func TestIntegration_UnknownTransaction(t *testing.T) {
	app := newTestApp(t, 1)

	resp, body := app.do(t, http.MethodGet, "/payments/status/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TXN_001", body["error_code"])
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// minSimulatedDelay bounds how fast a simulated customer can answer.
const minSimulatedDelay = 50 * time.Millisecond

// SimulatedCheckoutPrefix marks checkout IDs issued by the Simulator.
const SimulatedCheckoutPrefix = "ws_CO_SIM_"

// IsSimulatedCheckout reports whether id was issued by the Simulator.
func IsSimulatedCheckout(id string) bool {
	return strings.HasPrefix(id, SimulatedCheckoutPrefix)
}

const receiptAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Simulator stands in for the provider. It accepts every push, then delivers a
// provider-shaped callback through the regular callback path after a random delay.
type Simulator struct {
	callbacks   ports.CallbackProcessor
	clock       clock.Clock
	minDelay    time.Duration
	maxDelay    time.Duration
	successRate float64
	log         zerolog.Logger

	mu     sync.Mutex
	rnd    *rand.Rand
	timers map[string]clock.Timer
	closed bool
}

var (
	_ ports.TokenFetcher = (*Simulator)(nil)
	_ ports.PushProvider = (*Simulator)(nil)
)

func NewSimulator(callbacks ports.CallbackProcessor, cfg config.SimulationConfig, clk clock.Clock, rnd *rand.Rand, log zerolog.Logger) *Simulator {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(clk.Now().UnixNano()))
	}
	return &Simulator{
		callbacks:   callbacks,
		clock:       clk,
		minDelay:    cfg.MinDelay,
		maxDelay:    cfg.MaxDelay,
		successRate: cfg.SuccessRate,
		log:         log,
		rnd:         rnd,
		timers:      make(map[string]clock.Timer),
	}
}

// FetchToken returns a synthetic token valid for one hour.
func (s *Simulator) FetchToken(ctx context.Context) (*domain.AccessToken, error) {
	return &domain.AccessToken{
		Value:     "SIMULATED-" + uuid.NewString(),
		ExpiresAt: s.clock.Now().Add(syntheticTokenTTL),
	}, nil
}

// SendPush accepts the request. Its outcome is scheduled once the caller runs
// ack.OnRecorded, so the callback never arrives for an unrecorded push.
func (s *Simulator) SendPush(ctx context.Context, token string, req ports.PushRequest) (*ports.PushAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: simulator stopped", ports.ErrProviderUnavailable)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	ack := &ports.PushAck{
		MerchantRequestID:   "SIM-" + id[:12],
		CheckoutRequestID:   SimulatedCheckoutPrefix + id,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}

	delay := s.delayLocked()
	success := s.rnd.Float64() < s.successRate
	receipt := s.receiptLocked()

	checkout := ack.CheckoutRequestID
	var once sync.Once
	ack.OnRecorded = func() {
		once.Do(func() { s.schedule(checkout, delay, func() { s.deliver(ack, req, success, receipt) }) })
	}

	s.log.Debug().
		Str("checkout_request_id", checkout).
		Dur("delay", delay).
		Bool("success", success).
		Msg("simulated push accepted")
	return ack, nil
}

// QueryPush always reports success.
func (s *Simulator) QueryPush(ctx context.Context, token string, q ports.PushQuery) (*ports.PushQueryResult, error) {
	return &ports.PushQueryResult{
		ResponseCode:        "0",
		ResponseDescription: "The service request has been accepted successfully",
		ResultCode:          domain.ResultCodeSuccess,
		ResultDesc:          "The service request is processed successfully.",
	}, nil
}

func (s *Simulator) schedule(checkout string, delay time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers[checkout] = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, checkout)
		s.mu.Unlock()
		fire()
	})
}

// Close cancels every callback not yet delivered.
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of scheduled, undelivered callbacks.
func (s *Simulator) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Simulator) delayLocked() time.Duration {
	delay := s.minDelay
	if span := s.maxDelay - s.minDelay; span > 0 {
		delay += time.Duration(s.rnd.Int63n(int64(span) + 1))
	}
	if delay < minSimulatedDelay {
		delay = minSimulatedDelay
	}
	return delay
}

func (s *Simulator) receiptLocked() string {
	b := make([]byte, 10)
	b[0], b[1] = 'S', 'M'
	for i := 2; i < len(b); i++ {
		b[i] = receiptAlphabet[s.rnd.Intn(len(receiptAlphabet))]
	}
	return string(b)
}

type simItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

func (s *Simulator) deliver(ack *ports.PushAck, req ports.PushRequest, success bool, receipt string) {
	cb := map[string]any{
		"MerchantRequestID": ack.MerchantRequestID,
		"CheckoutRequestID": ack.CheckoutRequestID,
	}
	if success {
		cb["ResultCode"] = 0
		cb["ResultDesc"] = "The service request is processed successfully."
		cb["CallbackMetadata"] = map[string]any{"Item": []simItem{
			{Name: "Amount", Value: req.Amount},
			{Name: "MpesaReceiptNumber", Value: receipt},
			{Name: "TransactionDate", Value: json.Number(s.clock.Now().In(domain.EAT).Format(domain.ProviderTimeLayout))},
			{Name: "PhoneNumber", Value: json.Number(req.PhoneNumber)},
		}}
	} else {
		cb["ResultCode"] = 1032
		cb["ResultDesc"] = "Request cancelled by user"
	}

	payload, err := json.Marshal(map[string]any{"Body": map[string]any{"stkCallback": cb}})
	if err != nil {
		s.log.Error().Err(err).Msg("marshal simulated callback")
		return
	}
	s.callbacks.HandleCallback(context.Background(), payload)
}

// FallbackProvider sends to primary and switches to fallback when primary is unreachable.
// Provider rejections are returned as-is. Status queries reach the fallback only for
// checkouts it issued; a live checkout is never answered synthetically.
type FallbackProvider struct {
	primary  ports.PushProvider
	fallback ports.PushProvider
	log      zerolog.Logger
}

var _ ports.PushProvider = (*FallbackProvider)(nil)

func NewFallbackProvider(primary, fallback ports.PushProvider, log zerolog.Logger) *FallbackProvider {
	return &FallbackProvider{primary: primary, fallback: fallback, log: log}
}

func (p *FallbackProvider) SendPush(ctx context.Context, token string, req ports.PushRequest) (*ports.PushAck, error) {
	ack, err := p.primary.SendPush(ctx, token, req)
	if err != nil && p.unreachable(ctx, err) {
		p.log.Warn().Err(err).Msg("provider unreachable, falling back to simulation")
		return p.fallback.SendPush(context.WithoutCancel(ctx), token, req)
	}
	return ack, err
}

func (p *FallbackProvider) QueryPush(ctx context.Context, token string, q ports.PushQuery) (*ports.PushQueryResult, error) {
	if IsSimulatedCheckout(q.CheckoutRequestID) {
		return p.fallback.QueryPush(ctx, token, q)
	}
	return p.primary.QueryPush(ctx, token, q)
}

func (p *FallbackProvider) unreachable(ctx context.Context, err error) bool {
	return errors.Is(err, ports.ErrProviderUnavailable) ||
		errors.Is(err, ports.ErrProviderUnauthorized) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

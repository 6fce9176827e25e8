package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"stk-push-gateway/config"
	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"

	"github.com/rs/zerolog"
)

// notifyRetryIntervals are the waits between collaborator delivery attempts.
var notifyRetryIntervals = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
}

const EventPaymentCompleted = "PAYMENT_COMPLETED"

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// PurposeDispatcher routes completed transactions to the handler registered for their purpose.
// Handlers run in the background so the callback acknowledgement is never delayed.
type PurposeDispatcher struct {
	handlers map[domain.Purpose]ports.SideEffectHandler
	log      zerolog.Logger
	wg       sync.WaitGroup
}

var _ ports.SideEffectDispatcher = (*PurposeDispatcher)(nil)

func NewPurposeDispatcher(handlers map[domain.Purpose]ports.SideEffectHandler, log zerolog.Logger) *PurposeDispatcher {
	return &PurposeDispatcher{handlers: handlers, log: log}
}

// NewDispatcherFromConfig registers an HTTP notifier for each purpose with a URL
// and a log-only handler for the rest.
func NewDispatcherFromConfig(cfg config.SideEffectsConfig, client HTTPClient, log zerolog.Logger) *PurposeDispatcher {
	handlers := make(map[domain.Purpose]ports.SideEffectHandler, len(domain.Purposes))
	for _, p := range domain.Purposes {
		if url := cfg.URLFor(string(p)); url != "" {
			handlers[p] = NewHTTPNotifier(url, cfg.SigningSecret, client, log)
		} else {
			handlers[p] = NewLogHandler(log)
		}
	}
	return NewPurposeDispatcher(handlers, log)
}

func (d *PurposeDispatcher) Dispatch(ctx context.Context, tx *domain.Transaction) {
	h, ok := d.handlers[tx.Purpose]
	if !ok {
		d.log.Warn().Str("tx_id", tx.ID.String()).Str("purpose", string(tx.Purpose)).Msg("no side effect handler for purpose")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := h.Apply(context.WithoutCancel(ctx), tx); err != nil {
			d.log.Error().Err(err).Str("tx_id", tx.ID.String()).Str("purpose", string(tx.Purpose)).Msg("side effect failed")
		}
	}()
}

// Wait blocks until every dispatched handler has returned.
func (d *PurposeDispatcher) Wait() {
	d.wg.Wait()
}

// LogHandler records the side effect without notifying anyone.
type LogHandler struct {
	log zerolog.Logger
}

func NewLogHandler(log zerolog.Logger) *LogHandler {
	return &LogHandler{log: log}
}

func (h *LogHandler) Apply(ctx context.Context, tx *domain.Transaction) error {
	h.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("purpose", string(tx.Purpose)).
		Msg("side effect recorded, no collaborator endpoint configured")
	return nil
}

// CompletionEvent is the JSON body posted to collaborator endpoints.
type CompletionEvent struct {
	Event         string         `json:"event"`
	TransactionID string         `json:"transaction_id"`
	Purpose       domain.Purpose `json:"purpose"`
	PhoneNumber   string         `json:"phone_number"`
	Amount        string         `json:"amount"`
	PaidAmount    *string        `json:"paid_amount,omitempty"`
	ReceiptID     *string        `json:"receipt_id,omitempty"`
	Description   string         `json:"description,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// HTTPNotifier posts completion events to a collaborator with retries.
type HTTPNotifier struct {
	url        string
	secret     []byte
	httpClient HTTPClient
	intervals  []time.Duration
	log        zerolog.Logger
}

func NewHTTPNotifier(url, secret string, client HTTPClient, log zerolog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:        url,
		secret:     []byte(secret),
		httpClient: client,
		intervals:  notifyRetryIntervals,
		log:        log,
	}
}

// Apply delivers the event, retrying on transport errors and non-2xx answers.
func (n *HTTPNotifier) Apply(ctx context.Context, tx *domain.Transaction) error {
	event := CompletionEvent{
		Event:         EventPaymentCompleted,
		TransactionID: tx.ID.String(),
		Purpose:       tx.Purpose,
		PhoneNumber:   tx.PhoneNumber,
		Amount:        tx.Amount.String(),
		ReceiptID:     tx.ProviderReceiptID,
		Description:   tx.Description,
		CompletedAt:   tx.CompletedAt,
	}
	if tx.PaidAmount != nil {
		paid := tx.PaidAmount.String()
		event.PaidAmount = &paid
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	txID := tx.ID.String()
	for attempt := 0; attempt <= len(n.intervals); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.intervals[attempt-1]):
			}
		}

		status, err := n.post(ctx, payload)
		if err != nil {
			n.log.Warn().Err(err).Str("tx_id", txID).Int("attempt", attempt+1).Msg("side effect delivery failed")
			continue
		}
		if status >= 200 && status < 300 {
			n.log.Info().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", status).Msg("side effect delivered")
			return nil
		}
		n.log.Warn().Str("tx_id", txID).Int("attempt", attempt+1).Int("status", status).Msg("side effect non-2xx response, retrying")
	}

	return fmt.Errorf("side effect for %s: all %d attempts exhausted", txID, len(n.intervals)+1)
}

func (n *HTTPNotifier) post(ctx context.Context, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(n.secret) > 0 {
		req.Header.Set("X-Signature", Sign(n.secret, payload))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}

// Sign returns the lowercase hex HMAC-SHA256 of payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

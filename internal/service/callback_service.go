package service

import (
	"context"
	"encoding/json"
	"fmt"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/clock"
	"stk-push-gateway/pkg/logger"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var callbackAck = ports.CallbackAck{ResultCode: 0, ResultDesc: "Success"}

// CallbackService applies provider webhooks and status-query answers to the store.
// Every terminal write goes through Resolve.
type CallbackService struct {
	store      ports.TransactionStore
	dispatcher ports.SideEffectDispatcher
	clock      clock.Clock
	log        zerolog.Logger
}

var _ ports.CallbackProcessor = (*CallbackService)(nil)

func NewCallbackService(store ports.TransactionStore, dispatcher ports.SideEffectDispatcher, clk clock.Clock, log zerolog.Logger) *CallbackService {
	return &CallbackService{
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		log:        log,
	}
}

// HandleCallback processes one webhook delivery. The provider always gets a success
// acknowledgement, whatever happened, so it never retries.
func (s *CallbackService) HandleCallback(ctx context.Context, payload []byte) ports.CallbackAck {
	var env domain.STKCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.log.Warn().Err(err).Int("bytes", len(payload)).Msg("malformed callback: invalid JSON")
		return callbackAck
	}
	cb := env.Body.STKCallback
	if cb == nil || cb.CheckoutRequestID == "" || cb.ResultCode == nil {
		s.log.Warn().Int("bytes", len(payload)).Msg("malformed callback: missing stkCallback, CheckoutRequestID or ResultCode")
		return callbackAck
	}

	log := s.log.With().
		Str("checkout_request_id", cb.CheckoutRequestID).
		Str("result_code", string(*cb.ResultCode)).
		Logger()

	tx, err := s.store.GetByCheckoutRequestID(ctx, cb.CheckoutRequestID)
	if err != nil {
		log.Error().Err(err).Msg("callback lookup failed")
		return callbackAck
	}
	if tx == nil {
		log.Warn().Msg("callback for unknown CheckoutRequestID")
		return callbackAck
	}

	if _, err := s.Resolve(ctx, tx, s.terminalResult(cb)); err != nil {
		log.Error().Err(err).Str("tx_id", tx.ID.String()).Msg("callback could not be applied")
	}
	return callbackAck
}

// Resolve moves tx to a terminal state if it is still PENDING and fires the purpose
// side effect at most once. Returns false when another report already won.
func (s *CallbackService) Resolve(ctx context.Context, tx *domain.Transaction, result domain.TerminalResult) (bool, error) {
	log := s.log.With().Str("tx_id", tx.ID.String()).Str("status", string(result.Status)).Logger()

	ok, err := s.store.TransitionTerminal(ctx, tx.ID, result)
	if err != nil {
		return false, fmt.Errorf("transition %s: %w", tx.ID, err)
	}
	if !ok {
		log.Debug().Msg("duplicate or late terminal report ignored")
		return false, nil
	}

	resolved := *tx
	resolved.Apply(result)

	ev := log.Info().
		Str("purpose", string(tx.Purpose)).
		Str("phone", logger.MaskPhone(tx.PhoneNumber)).
		Str("result_message", result.ResultMessage)
	if result.ReceiptID != nil {
		ev = ev.Str("receipt_id", *result.ReceiptID)
	}
	ev.Msg("transaction resolved")

	if result.Status == domain.TransactionStatusCompleted {
		if _, err := s.applySideEffect(ctx, &resolved, log); err != nil {
			log.Error().Err(err).
				Bool("side_effect_pending", true).
				Msg("could not claim side effect; reconcile will retry")
		}
	}
	return true, nil
}

// SettleSideEffect claims and dispatches the side effect of a COMPLETED transaction
// whose claim was never taken. Returns true when this call dispatched it.
func (s *CallbackService) SettleSideEffect(ctx context.Context, tx *domain.Transaction) (bool, error) {
	if tx.Status != domain.TransactionStatusCompleted || tx.SideEffectApplied {
		return false, nil
	}
	log := s.log.With().Str("tx_id", tx.ID.String()).Str("status", string(tx.Status)).Logger()
	settled := *tx
	won, err := s.applySideEffect(ctx, &settled, log)
	if err != nil {
		return false, fmt.Errorf("claim side effect %s: %w", tx.ID, err)
	}
	if won {
		log.Info().Str("purpose", string(tx.Purpose)).Msg("pending side effect settled")
	}
	return won, nil
}

func (s *CallbackService) applySideEffect(ctx context.Context, tx *domain.Transaction, log zerolog.Logger) (bool, error) {
	if tx.AmountMismatch() {
		log.Warn().
			Str("amount", tx.Amount.String()).
			Str("paid_amount", tx.PaidAmount.String()).
			Bool("amount_mismatch", true).
			Msg("underpayment: side effect withheld for reconciliation")
		return false, nil
	}

	won, err := s.store.MarkSideEffectApplied(ctx, tx.ID)
	if err != nil {
		return false, err
	}
	if !won {
		log.Debug().Msg("side effect already applied")
		return false, nil
	}
	tx.SideEffectApplied = true
	s.dispatcher.Dispatch(ctx, tx)
	return true, nil
}

func (s *CallbackService) terminalResult(cb *domain.STKCallback) domain.TerminalResult {
	code := string(*cb.ResultCode)
	res := domain.TerminalResult{
		Status:        domain.StatusForResultCode(code),
		ResultCode:    code,
		ResultMessage: cb.ResultDesc,
		CompletedAt:   s.clock.Now().UTC(),
	}
	if res.ResultMessage == "" {
		res.ResultMessage = "result code " + code
	}
	if res.Status != domain.TransactionStatusCompleted {
		return res
	}

	if receipt, ok := cb.CallbackMetadata.Lookup("MpesaReceiptNumber"); ok && receipt != "" {
		res.ReceiptID = &receipt
	}
	if raw, ok := cb.CallbackMetadata.Lookup("Amount"); ok {
		if paid, err := decimal.NewFromString(raw); err == nil {
			res.PaidAmount = &paid
		} else {
			s.log.Warn().Str("checkout_request_id", cb.CheckoutRequestID).Str("amount", raw).Msg("callback amount not numeric")
		}
	}
	return res
}

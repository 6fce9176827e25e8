package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/apperror"
	"stk-push-gateway/pkg/clock"
	"stk-push-gateway/pkg/logger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	idempotencyTTL     = 24 * time.Hour
	idempotencyLockTTL = time.Minute

	// Provider field limits.
	maxAccountReference = 12
	maxTransactionDesc  = 13

	// Storage limits; the description is counted after sanitizing.
	maxDescription = 100
	amountScale    = 2
)

// maxPushAmount is the largest single push the provider accepts, in KES.
var maxPushAmount = decimal.NewFromInt(250000)

// PushConfig holds the static fields of every push request.
type PushConfig struct {
	ShortCode        string
	TransactionType  string
	CallbackURL      string
	AccountReference string
	RequestTimeout   time.Duration
}

// PaymentServiceImpl implements ports.PaymentService.
type PaymentServiceImpl struct {
	store      ports.TransactionStore
	tokens     ports.TokenProvider
	signer     ports.RequestSigner
	provider   ports.PushProvider
	idempCache ports.IdempotencyCache
	clock      clock.Clock
	cfg        PushConfig
	log        zerolog.Logger
}

var _ ports.PaymentService = (*PaymentServiceImpl)(nil)

// NewPaymentService creates a new PaymentServiceImpl. idempCache may be nil.
func NewPaymentService(
	store ports.TransactionStore,
	tokens ports.TokenProvider,
	signer ports.RequestSigner,
	provider ports.PushProvider,
	idempCache ports.IdempotencyCache,
	clk clock.Clock,
	cfg PushConfig,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		store:      store,
		tokens:     tokens,
		signer:     signer,
		provider:   provider,
		idempCache: idempCache,
		clock:      clk,
		cfg:        cfg,
		log:        log,
	}
}

// Initiate validates the input, sends the push and records a PENDING transaction.
// It returns as soon as the provider accepts; the outcome arrives later by callback.
// Everything the store would reject is rejected here, before the push is sent.
func (s *PaymentServiceImpl) Initiate(ctx context.Context, in ports.PushInput) (*ports.PushResult, error) {
	phone, err := domain.NormalizePhone(in.PhoneNumber)
	if err != nil {
		return nil, apperror.ErrInvalidPhone()
	}
	if !in.Amount.IsPositive() || in.Amount.GreaterThan(maxPushAmount) ||
		!in.Amount.Equal(in.Amount.Truncate(amountScale)) {
		return nil, apperror.ErrInvalidAmount()
	}
	if !in.Purpose.IsValid() {
		return nil, apperror.ErrInvalidPurpose()
	}
	if utf8.RuneCountInString(in.Description) > maxDescription {
		return nil, apperror.Validation(fmt.Sprintf("description must be at most %d characters", maxDescription))
	}

	if in.IdempotencyKey != "" && s.idempCache != nil {
		if res := s.replay(ctx, in.IdempotencyKey); res != nil {
			return res, nil
		}
		ok, err := s.idempCache.Reserve(ctx, in.IdempotencyKey, idempotencyLockTTL)
		if err != nil {
			s.log.Warn().Err(err).Msg("idempotency reserve failed, continuing without lock")
		} else if !ok {
			return nil, apperror.ErrDuplicateRequest()
		} else {
			defer func() {
				if err := s.idempCache.Release(context.WithoutCancel(ctx), in.IdempotencyKey); err != nil {
					s.log.Warn().Err(err).Msg("idempotency release failed")
				}
			}()
		}
	}

	desc := in.Description
	if desc == "" {
		desc = string(in.Purpose)
	}
	req := ports.PushRequest{
		TransactionType:  s.cfg.TransactionType,
		Amount:           in.Amount.Ceil().IntPart(),
		PartyA:           phone,
		PartyB:           s.cfg.ShortCode,
		PhoneNumber:      phone,
		CallBackURL:      s.cfg.CallbackURL,
		AccountReference: truncate(s.cfg.AccountReference, maxAccountReference),
		TransactionDesc:  truncate(desc, maxTransactionDesc),
	}

	ack, err := s.send(ctx, req)
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		ID:                        uuid.New(),
		ProviderMerchantRequestID: ack.MerchantRequestID,
		ProviderCheckoutRequestID: ack.CheckoutRequestID,
		PhoneNumber:               phone,
		Amount:                    in.Amount,
		Purpose:                   in.Purpose,
		Description:               in.Description,
		Status:                    domain.TransactionStatusPending,
		CreatedAt:                 s.clock.Now().UTC(),
	}
	if err := s.store.Create(ctx, tx); err != nil {
		s.log.Error().Err(err).Str("checkout_request_id", ack.CheckoutRequestID).Msg("accepted push could not be recorded")
		return nil, apperror.ErrDatabaseError(err)
	}
	if ack.OnRecorded != nil {
		ack.OnRecorded()
	}

	res := &ports.PushResult{
		TransactionID:     tx.ID,
		ProviderRequestID: ack.CheckoutRequestID,
		CustomerMessage:   ack.CustomerMessage,
	}

	if in.IdempotencyKey != "" && s.idempCache != nil {
		if raw, err := json.Marshal(res); err == nil {
			if err := s.idempCache.Set(ctx, in.IdempotencyKey, raw, idempotencyTTL); err != nil {
				s.log.Warn().Err(err).Msg("failed to cache push result")
			}
		}
	}

	s.log.Info().
		Str("tx_id", tx.ID.String()).
		Str("checkout_request_id", tx.ProviderCheckoutRequestID).
		Str("phone", logger.MaskPhone(phone)).
		Str("amount", tx.Amount.String()).
		Str("purpose", string(tx.Purpose)).
		Msg("push initiated")

	return res, nil
}

// GetTransaction returns the stored transaction or TXN_001.
func (s *PaymentServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}
	return tx, nil
}

// send signs and sends the push. A rejected token is refreshed and retried once.
func (s *PaymentServiceImpl) send(ctx context.Context, req ports.PushRequest) (*ports.PushAck, error) {
	for attempt := 0; ; attempt++ {
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return nil, apperror.ErrCredentialFailure(err)
		}
		req.SignedFields = s.signer.Sign()

		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		ack, err := s.provider.SendPush(reqCtx, token, req)
		cancel()
		if err == nil {
			return ack, nil
		}
		if errors.Is(err, ports.ErrProviderUnauthorized) && attempt == 0 {
			s.tokens.Invalidate()
			continue
		}
		s.log.Error().Err(err).Str("phone", logger.MaskPhone(req.PhoneNumber)).Msg("push request failed")
		return nil, providerAppError(err)
	}
}

func (s *PaymentServiceImpl) replay(ctx context.Context, key string) *ports.PushResult {
	cached, err := s.idempCache.Get(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Msg("idempotency lookup failed, sending fresh push")
		return nil
	}
	if cached == nil {
		return nil
	}
	var res ports.PushResult
	if err := json.Unmarshal(cached, &res); err != nil {
		s.log.Warn().Err(err).Msg("cached push result unreadable, ignoring")
		return nil
	}
	s.log.Debug().Str("tx_id", res.TransactionID.String()).Msg("push replayed from idempotency cache")
	return &res
}

// providerAppError maps provider failures onto initiation errors. None of them is a payment outcome.
func providerAppError(err error) *apperror.AppError {
	var perr *ports.ProviderError
	switch {
	case errors.Is(err, ports.ErrProviderUnauthorized):
		return apperror.ErrCredentialFailure(err)
	case errors.As(err, &perr):
		msg := perr.Message
		if msg == "" {
			msg = fmt.Sprintf("provider rejected the request (%s)", perr.Code)
		}
		return apperror.ErrProviderRejected(msg)
	default:
		return apperror.ErrProviderUnavailable(err)
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/apperror"
	"stk-push-gateway/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// resultCodeStillProcessing is returned by the query API while the customer has not answered.
const resultCodeStillProcessing = "4999"

// Resolver applies a terminal result through the shared first-write-wins path.
type Resolver interface {
	Resolve(ctx context.Context, tx *domain.Transaction, result domain.TerminalResult) (bool, error)
	SettleSideEffect(ctx context.Context, tx *domain.Transaction) (bool, error)
}

// StatusServiceImpl queries the provider for push outcomes the callback has not delivered.
type StatusServiceImpl struct {
	store          ports.TransactionStore
	tokens         ports.TokenProvider
	signer         ports.RequestSigner
	provider       ports.PushProvider
	resolver       Resolver
	clock          clock.Clock
	requestTimeout time.Duration
	log            zerolog.Logger
}

var _ ports.StatusService = (*StatusServiceImpl)(nil)

func NewStatusService(
	store ports.TransactionStore,
	tokens ports.TokenProvider,
	signer ports.RequestSigner,
	provider ports.PushProvider,
	resolver Resolver,
	clk clock.Clock,
	requestTimeout time.Duration,
	log zerolog.Logger,
) *StatusServiceImpl {
	return &StatusServiceImpl{
		store:          store,
		tokens:         tokens,
		signer:         signer,
		provider:       provider,
		resolver:       resolver,
		clock:          clk,
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// Query asks the provider for the state of a push and normalizes the answer.
// It never writes to the store.
func (s *StatusServiceImpl) Query(ctx context.Context, checkoutRequestID string) (domain.TransactionStatus, error) {
	res, err := s.query(ctx, checkoutRequestID)
	if err != nil {
		return "", err
	}
	return NormalizeQueryResult(res), nil
}

// Reconcile queries the provider for a PENDING transaction and applies a terminal
// answer exactly as a callback would. Terminal transactions are not queried; a
// COMPLETED one whose side effect was never claimed gets the claim retried.
func (s *StatusServiceImpl) Reconcile(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	tx, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if tx == nil {
		return nil, apperror.ErrNotFound("Transaction")
	}
	if tx.IsTerminal() {
		settled, err := s.resolver.SettleSideEffect(ctx, tx)
		if err != nil {
			return nil, apperror.ErrDatabaseError(err)
		}
		if settled {
			tx.SideEffectApplied = true
		}
		return tx, nil
	}

	res, err := s.query(ctx, tx.ProviderCheckoutRequestID)
	if err != nil {
		return nil, err
	}
	status := NormalizeQueryResult(res)
	if !status.IsTerminal() {
		return tx, nil
	}

	msg := res.ResultDesc
	if msg == "" {
		msg = "result code " + res.ResultCode
	}
	if _, err := s.resolver.Resolve(ctx, tx, domain.TerminalResult{
		Status:        status,
		ResultCode:    res.ResultCode,
		ResultMessage: msg,
		CompletedAt:   s.clock.Now().UTC(),
	}); err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return updated, nil
}

func (s *StatusServiceImpl) query(ctx context.Context, checkoutRequestID string) (*ports.PushQueryResult, error) {
	for attempt := 0; ; attempt++ {
		token, err := s.tokens.AccessToken(ctx)
		if err != nil {
			return nil, apperror.ErrCredentialFailure(err)
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		res, err := s.provider.QueryPush(reqCtx, token, ports.PushQuery{
			SignedFields:      s.signer.Sign(),
			CheckoutRequestID: checkoutRequestID,
		})
		cancel()
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ports.ErrProviderUnauthorized) && attempt == 0 {
			s.tokens.Invalidate()
			continue
		}
		s.log.Error().Err(err).Str("checkout_request_id", checkoutRequestID).Msg("status query failed")
		return nil, providerAppError(err)
	}
}

// NormalizeQueryResult maps a provider query answer onto a transaction status.
// Provider errors, missing or non-numeric result codes, and "still processing" map to PENDING.
func NormalizeQueryResult(res *ports.PushQueryResult) domain.TransactionStatus {
	if res == nil || res.ErrorCode != "" || res.ResultCode == "" || res.ResultCode == resultCodeStillProcessing {
		return domain.TransactionStatusPending
	}
	if _, err := strconv.Atoi(res.ResultCode); err != nil {
		return domain.TransactionStatusPending
	}
	return domain.StatusForResultCode(res.ResultCode)
}

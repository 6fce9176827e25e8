package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stk-push-gateway/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Provider Ports ---

// TokenFetcher obtains a fresh provider access token.
type TokenFetcher interface {
	FetchToken(ctx context.Context) (*domain.AccessToken, error)
}

// TokenProvider hands out a usable access token, refreshing when needed.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	Invalidate()
}

// SignedFields are the password/timestamp pair attached to every push and query.
type SignedFields struct {
	BusinessShortCode string
	Password          string
	Timestamp         string
}

// RequestSigner produces SignedFields for the current instant.
type RequestSigner interface {
	Sign() SignedFields
}

// PushRequest is the provider payload for a push payment.
type PushRequest struct {
	SignedFields
	TransactionType  string
	Amount           int64
	PartyA           string
	PartyB           string
	PhoneNumber      string
	CallBackURL      string
	AccountReference string
	TransactionDesc  string
}

// PushAck is the provider's synchronous acceptance of a push request.
type PushAck struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string

	// OnRecorded, when set, must be called once the PENDING row for this push
	// exists. Providers that deliver their own outcome arm it there.
	OnRecorded func()
}

// PushQuery asks the provider for the state of an earlier push.
type PushQuery struct {
	SignedFields
	CheckoutRequestID string
}

// PushQueryResult is the raw provider answer to a PushQuery.
type PushQueryResult struct {
	ResponseCode        string
	ResponseDescription string
	ResultCode          string
	ResultDesc          string
	ErrorCode           string
	ErrorMessage        string
}

var (
	// ErrProviderUnavailable covers transport failures, timeouts, provider 5xx answers
	// without an error body, and an open circuit breaker.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrProviderUnauthorized means the access token or consumer credentials were rejected.
	ErrProviderUnauthorized = errors.New("provider rejected credentials")
)

// ProviderError is a structured rejection returned by the provider.
type ProviderError struct {
	StatusCode int
	RequestID  string
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// PushProvider sends push requests and status queries to the mobile-money provider.
type PushProvider interface {
	SendPush(ctx context.Context, token string, req PushRequest) (*PushAck, error)
	QueryPush(ctx context.Context, token string, query PushQuery) (*PushQueryResult, error)
}

// --- Side Effects ---

// SideEffectHandler applies the business consequence of a completed payment.
type SideEffectHandler interface {
	Apply(ctx context.Context, tx *domain.Transaction) error
}

// SideEffectDispatcher routes a completed transaction to the handler for its purpose.
type SideEffectDispatcher interface {
	Dispatch(ctx context.Context, tx *domain.Transaction)
}

// --- Service Ports (Business Logic) ---

// PushInput holds caller input for a push payment, before validation.
type PushInput struct {
	PhoneNumber    string
	Amount         decimal.Decimal
	Purpose        domain.Purpose
	Description    string
	IdempotencyKey string
}

// PushResult is returned to the caller as soon as the provider accepts the push.
type PushResult struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	ProviderRequestID string    `json:"provider_request_id"`
	CustomerMessage   string    `json:"customer_message,omitempty"`
}

// PaymentService initiates push payments and reports their state.
type PaymentService interface {
	Initiate(ctx context.Context, in PushInput) (*PushResult, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// CallbackAck is the body returned to the provider for every webhook delivery.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// CallbackProcessor handles provider webhooks.
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, payload []byte) CallbackAck
}

// StatusService performs provider status queries.
type StatusService interface {
	Query(ctx context.Context, checkoutRequestID string) (domain.TransactionStatus, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
}

// IdempotencyCache replays push results for retried requests.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil when absent
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Reserve marks key as in flight. Returns false when another request holds it.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// TokenService issues and validates collaborator bearer tokens.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject string
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

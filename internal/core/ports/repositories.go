package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"

	"stk-push-gateway/internal/core/domain"

	"github.com/google/uuid"
)

// TransactionStore is the authoritative state container for push payments.
// Lookups return (nil, nil) when nothing matches.
type TransactionStore interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error)
	// TransitionTerminal applies result only while the transaction is still PENDING.
	// Returns false, without error, when another terminal write already won.
	TransitionTerminal(ctx context.Context, id uuid.UUID, result domain.TerminalResult) (bool, error)
	// MarkSideEffectApplied flips side_effect_applied from false to true on a COMPLETED
	// transaction. Exactly one caller ever observes true.
	MarkSideEffectApplied(ctx context.Context, id uuid.UUID) (bool, error)
}

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// Package memory holds the in-process TransactionStore used for tests and single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"

	"github.com/google/uuid"
)

var ErrDuplicate = errors.New("transaction already exists")

// TransactionStore keeps transactions in maps guarded by a single mutex,
// so every compare-and-set is linearizable.
type TransactionStore struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*domain.Transaction
	byCheckout map[string]uuid.UUID
}

var _ ports.TransactionStore = (*TransactionStore)(nil)

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		byID:       make(map[uuid.UUID]*domain.Transaction),
		byCheckout: make(map[string]uuid.UUID),
	}
}

func (s *TransactionStore) Create(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[tx.ID]; ok {
		return fmt.Errorf("create transaction %s: %w", tx.ID, ErrDuplicate)
	}
	if _, ok := s.byCheckout[tx.ProviderCheckoutRequestID]; ok {
		return fmt.Errorf("create transaction with checkout %s: %w", tx.ProviderCheckoutRequestID, ErrDuplicate)
	}
	stored := clone(tx)
	s.byID[tx.ID] = stored
	s.byCheckout[tx.ProviderCheckoutRequestID] = tx.ID
	return nil
}

func (s *TransactionStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(tx), nil
}

func (s *TransactionStore) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCheckout[checkoutRequestID]
	if !ok {
		return nil, nil
	}
	return clone(s.byID[id]), nil
}

func (s *TransactionStore) TransitionTerminal(ctx context.Context, id uuid.UUID, result domain.TerminalResult) (bool, error) {
	if err := result.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok || tx.Status != domain.TransactionStatusPending {
		return false, nil
	}
	tx.Apply(result)
	return true, nil
}

func (s *TransactionStore) MarkSideEffectApplied(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok || tx.Status != domain.TransactionStatusCompleted || tx.SideEffectApplied {
		return false, nil
	}
	tx.SideEffectApplied = true
	return true, nil
}

// clone detaches callers from stored state. Pointer fields are never mutated in place, only replaced.
func clone(tx *domain.Transaction) *domain.Transaction {
	c := *tx
	return &c
}

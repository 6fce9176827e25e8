package postgres

import (
	"context"
	"errors"
	"fmt"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Amounts are read back as text so no numeric codec is involved in scanning.
const selectTransaction = `SELECT id, merchant_request_id, checkout_request_id, phone_number, amount::text,
	purpose, description, status, receipt_id, paid_amount::text, result_code, result_message,
	side_effect_applied, created_at, completed_at
	FROM payment_transactions`

// TransactionRepo implements ports.TransactionStore.
type TransactionRepo struct {
	pool Pool
}

var _ ports.TransactionStore = (*TransactionRepo)(nil)

func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

func (r *TransactionRepo) Create(ctx context.Context, t *domain.Transaction) error {
	query := `INSERT INTO payment_transactions (id, merchant_request_id, checkout_request_id, phone_number,
		amount, purpose, description, status, side_effect_applied, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		t.ID, t.ProviderMerchantRequestID, t.ProviderCheckoutRequestID, t.PhoneNumber,
		t.Amount, t.Purpose, t.Description, t.Status, t.SideEffectApplied, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.scanTransaction(r.pool.QueryRow(ctx, selectTransaction+` WHERE id = $1`, id))
}

func (r *TransactionRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.Transaction, error) {
	return r.scanTransaction(r.pool.QueryRow(ctx, selectTransaction+` WHERE checkout_request_id = $1`, checkoutRequestID))
}

// TransitionTerminal writes the terminal result only while the row is still PENDING.
func (r *TransactionRepo) TransitionTerminal(ctx context.Context, id uuid.UUID, result domain.TerminalResult) (bool, error) {
	if err := result.Validate(); err != nil {
		return false, err
	}

	query := `UPDATE payment_transactions
		SET status = $1, result_code = $2, result_message = $3, receipt_id = $4, paid_amount = $5, completed_at = $6
		WHERE id = $7 AND status = 'PENDING'`

	tag, err := r.pool.Exec(ctx, query,
		result.Status, result.ResultCode, result.ResultMessage, result.ReceiptID,
		nullDecimal(result.PaidAmount), result.CompletedAt, id,
	)
	if err != nil {
		return false, fmt.Errorf("transition transaction %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TransactionRepo) MarkSideEffectApplied(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE payment_transactions SET side_effect_applied = TRUE
		WHERE id = $1 AND status = 'COMPLETED' AND side_effect_applied = FALSE`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark side effect %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TransactionRepo) scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var amount string
	var paid *string
	err := row.Scan(
		&t.ID, &t.ProviderMerchantRequestID, &t.ProviderCheckoutRequestID, &t.PhoneNumber, &amount,
		&t.Purpose, &t.Description, &t.Status, &t.ProviderReceiptID, &paid, &t.ResultCode, &t.ResultMessage,
		&t.SideEffectApplied, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if paid != nil {
		v, err := decimal.NewFromString(*paid)
		if err != nil {
			return nil, fmt.Errorf("parse paid amount %q: %w", *paid, err)
		}
		t.PaidAmount = &v
	}
	return t, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

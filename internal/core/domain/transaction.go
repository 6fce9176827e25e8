package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents the lifecycle state of a push payment.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
	TransactionStatusCancelled TransactionStatus = "CANCELLED"
)

// IsTerminal returns true for statuses that can never change again.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted ||
		s == TransactionStatusFailed ||
		s == TransactionStatusCancelled
}

// Purpose selects which business consequence fires when a payment completes.
// It never changes how the payment itself is collected.
type Purpose string

const (
	PurposeActivationFee Purpose = "ACTIVATION_FEE"
	PurposeOrderPayment  Purpose = "ORDER_PAYMENT"
	PurposeWalletTopup   Purpose = "WALLET_TOPUP"
	PurposeWithdrawal    Purpose = "WITHDRAWAL"
)

// Purposes lists the accepted purposes.
var Purposes = []Purpose{
	PurposeActivationFee,
	PurposeOrderPayment,
	PurposeWalletTopup,
	PurposeWithdrawal,
}

// IsValid reports whether p belongs to the closed purpose set.
func (p Purpose) IsValid() bool {
	for _, known := range Purposes {
		if p == known {
			return true
		}
	}
	return false
}

// Transaction is a single push payment tracked from initiation to its terminal state.
type Transaction struct {
	ID                        uuid.UUID         `json:"id"`
	ProviderMerchantRequestID string            `json:"provider_merchant_request_id"`
	ProviderCheckoutRequestID string            `json:"provider_checkout_request_id"`
	PhoneNumber               string            `json:"phone_number"` // normalized 254XXXXXXXXX
	Amount                    decimal.Decimal   `json:"amount"`
	Purpose                   Purpose           `json:"purpose"`
	Description               string            `json:"description"`
	Status                    TransactionStatus `json:"status"`
	ProviderReceiptID         *string           `json:"provider_receipt_id,omitempty"` // COMPLETED only
	PaidAmount                *decimal.Decimal  `json:"paid_amount,omitempty"`
	ResultCode                *string           `json:"result_code,omitempty"`
	ResultMessage             *string           `json:"result_message,omitempty"`
	SideEffectApplied         bool              `json:"side_effect_applied"`
	CreatedAt                 time.Time         `json:"created_at"`
	CompletedAt               *time.Time        `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// AmountMismatch reports whether the provider confirmed less than was requested.
// An unknown paid amount is not a mismatch.
func (t *Transaction) AmountMismatch() bool {
	return t.PaidAmount != nil && t.PaidAmount.LessThan(t.Amount)
}

// TerminalResult is the single write that moves a transaction out of PENDING.
type TerminalResult struct {
	Status        TransactionStatus
	ResultCode    string
	ResultMessage string
	ReceiptID     *string
	PaidAmount    *decimal.Decimal
	CompletedAt   time.Time
}

// ErrInvalidTerminalResult is returned for terminal writes that would leave the record inconsistent.
var ErrInvalidTerminalResult = errors.New("invalid terminal result")

// Validate rejects non-terminal targets and results that lack a provider result code or message.
func (r TerminalResult) Validate() error {
	if !r.Status.IsTerminal() {
		return fmt.Errorf("%w: status %s is not terminal", ErrInvalidTerminalResult, r.Status)
	}
	if r.ResultCode == "" || r.ResultMessage == "" {
		return fmt.Errorf("%w: result code and message are required", ErrInvalidTerminalResult)
	}
	if r.Status != TransactionStatusCompleted && r.ReceiptID != nil {
		return fmt.Errorf("%w: receipt only allowed on COMPLETED", ErrInvalidTerminalResult)
	}
	return nil
}

// Apply copies a terminal result onto the transaction.
func (t *Transaction) Apply(r TerminalResult) {
	code, msg := r.ResultCode, r.ResultMessage
	at := r.CompletedAt
	t.Status = r.Status
	t.ResultCode = &code
	t.ResultMessage = &msg
	t.ProviderReceiptID = r.ReceiptID
	t.PaidAmount = r.PaidAmount
	t.CompletedAt = &at
}

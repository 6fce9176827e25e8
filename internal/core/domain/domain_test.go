package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTransaction_IsTerminal(t *testing.T) {
	tests := []struct {
		name   string
		status TransactionStatus
		want   bool
	}{
		{"pending", TransactionStatusPending, false},
		{"completed", TransactionStatusCompleted, true},
		{"failed", TransactionStatusFailed, true},
		{"cancelled", TransactionStatusCancelled, true},
		{"unknown", TransactionStatus("PROCESSING"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &Transaction{Status: tt.status}
			assert.Equal(t, tt.want, tx.IsTerminal())
		})
	}
}

func TestTransaction_AmountMismatch(t *testing.T) {
	under := decimal.NewFromInt(200)
	exact := decimal.NewFromInt(300)
	over := decimal.NewFromInt(301)

	tests := []struct {
		name string
		paid *decimal.Decimal
		want bool
	}{
		{"unknown paid amount", nil, false},
		{"underpaid", &under, true},
		{"exact", &exact, false},
		{"overpaid", &over, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &Transaction{Amount: decimal.NewFromInt(300), PaidAmount: tt.paid}
			assert.Equal(t, tt.want, tx.AmountMismatch())
		})
	}
}

func TestPurpose_IsValid(t *testing.T) {
	for _, p := range Purposes {
		assert.True(t, p.IsValid(), "%s should be valid", p)
	}
	assert.False(t, Purpose("DONATION").IsValid())
	assert.False(t, Purpose("").IsValid())
	assert.False(t, Purpose("activation_fee").IsValid(), "purposes are case-sensitive")
}

func TestAccessToken_ValidAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		token *AccessToken
		want  bool
	}{
		{"nil token", nil, false},
		{"empty value", &AccessToken{ExpiresAt: now.Add(time.Hour)}, false},
		{"fresh", &AccessToken{Value: "abc", ExpiresAt: now.Add(time.Hour)}, true},
		{"inside safety margin", &AccessToken{Value: "abc", ExpiresAt: now.Add(30 * time.Second)}, false},
		{"expired", &AccessToken{Value: "abc", ExpiresAt: now.Add(-time.Second)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.ValidAt(now, time.Minute))
		})
	}
}

func TestTransactionStatus_Constants(t *testing.T) {
	assert.Equal(t, TransactionStatus("PENDING"), TransactionStatusPending)
	assert.Equal(t, TransactionStatus("COMPLETED"), TransactionStatusCompleted)
	assert.Equal(t, TransactionStatus("FAILED"), TransactionStatusFailed)
	assert.Equal(t, TransactionStatus("CANCELLED"), TransactionStatusCancelled)
}

func TestTerminalResult_Validate(t *testing.T) {
	receipt := "QKT1ABC23D"
	tests := []struct {
		name    string
		result  TerminalResult
		wantErr bool
	}{
		{"completed", TerminalResult{Status: TransactionStatusCompleted, ResultCode: "0", ResultMessage: "ok", ReceiptID: &receipt}, false},
		{"cancelled", TerminalResult{Status: TransactionStatusCancelled, ResultCode: "1032", ResultMessage: "cancelled"}, false},
		{"pending target", TerminalResult{Status: TransactionStatusPending, ResultCode: "0", ResultMessage: "ok"}, true},
		{"missing code", TerminalResult{Status: TransactionStatusFailed, ResultMessage: "insufficient funds"}, true},
		{"missing message", TerminalResult{Status: TransactionStatusFailed, ResultCode: "1"}, true},
		{"receipt on failure", TerminalResult{Status: TransactionStatusFailed, ResultCode: "1", ResultMessage: "x", ReceiptID: &receipt}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.result.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTerminalResult)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransaction_Apply(t *testing.T) {
	paid := decimal.NewFromInt(300)
	receipt := "QKT1ABC23D"
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tx := &Transaction{Status: TransactionStatusPending, Amount: decimal.NewFromInt(300)}

	tx.Apply(TerminalResult{
		Status:        TransactionStatusCompleted,
		ResultCode:    "0",
		ResultMessage: "The service request is processed successfully.",
		ReceiptID:     &receipt,
		PaidAmount:    &paid,
		CompletedAt:   at,
	})

	assert.Equal(t, TransactionStatusCompleted, tx.Status)
	assert.Equal(t, "0", *tx.ResultCode)
	assert.Equal(t, receipt, *tx.ProviderReceiptID)
	assert.True(t, tx.PaidAmount.Equal(paid))
	assert.Equal(t, at, *tx.CompletedAt)
	assert.False(t, tx.AmountMismatch())
}

package dto

import (
	"time"

	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"

	"github.com/shopspring/decimal"
)

// PushRequest is the request body for POST /payments/push.
type PushRequest struct {
	PhoneNumber string          `json:"phone_number" binding:"required,max=20"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=100"`
	Purpose     string          `json:"purpose" binding:"required,purpose"`
}

// PushResponse is returned once the provider has accepted the push.
type PushResponse struct {
	TransactionID     string `json:"transaction_id"`
	ProviderRequestID string `json:"provider_request_id"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

func NewPushResponse(res *ports.PushResult) PushResponse {
	return PushResponse{
		TransactionID:     res.TransactionID.String(),
		ProviderRequestID: res.ProviderRequestID,
		CustomerMessage:   res.CustomerMessage,
	}
}

// StatusResponse is the body of GET /payments/status/{id}.
type StatusResponse struct {
	TransactionID string           `json:"transaction_id"`
	Status        string           `json:"status"`
	Purpose       string           `json:"purpose"`
	Amount        decimal.Decimal  `json:"amount"`
	PaidAmount    *decimal.Decimal `json:"paid_amount,omitempty"`
	ReceiptID     *string          `json:"receipt_id,omitempty"`
	ResultCode    *string          `json:"result_code,omitempty"`
	ResultMessage *string          `json:"result_message,omitempty"`
	CreatedAt     string           `json:"created_at"`
	CompletedAt   *string          `json:"completed_at,omitempty"`
}

func NewStatusResponse(tx *domain.Transaction) StatusResponse {
	resp := StatusResponse{
		TransactionID: tx.ID.String(),
		Status:        string(tx.Status),
		Purpose:       string(tx.Purpose),
		Amount:        tx.Amount,
		PaidAmount:    tx.PaidAmount,
		ReceiptID:     tx.ProviderReceiptID,
		ResultCode:    tx.ResultCode,
		ResultMessage: tx.ResultMessage,
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
	}
	if tx.CompletedAt != nil {
		s := tx.CompletedAt.UTC().Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

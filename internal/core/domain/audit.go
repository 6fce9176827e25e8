package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionPushInitiated    AuditAction = "PUSH_INITIATED"
	AuditActionCallbackReceived AuditAction = "CALLBACK_RECEIVED"
	AuditActionStatusQueried    AuditAction = "STATUS_QUERIED"
)

// AuditLog records a single audited request.
type AuditLog struct {
	ID           uuid.UUID   `json:"id"`
	Subject      *string     `json:"subject,omitempty"` // authenticated caller, if any
	Action       AuditAction `json:"action"`
	ResourceType string      `json:"resource_type"`
	ResourceID   string      `json:"resource_id,omitempty"`
	Details      string      `json:"details,omitempty"` // JSON string
	IPAddress    string      `json:"ip_address"`
	CreatedAt    time.Time   `json:"created_at"`
}

package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("VAL_002", "Invalid amount", http.StatusBadRequest),
			expected: "[VAL_002] Invalid amount",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("VAL_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"Validation", Validation("bad body"), "VAL_000", 400},
		{"InvalidPhone", ErrInvalidPhone(), "VAL_001", 400},
		{"InvalidAmount", ErrInvalidAmount(), "VAL_002", 400},
		{"InvalidPurpose", ErrInvalidPurpose(), "VAL_003", 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestProviderErrors(t *testing.T) {
	inner := fmt.Errorf("dial tcp: connection refused")

	unavailable := ErrProviderUnavailable(inner)
	assert.Equal(t, "PRV_001", unavailable.Code)
	assert.Equal(t, 500, unavailable.HTTPStatus)
	assert.True(t, errors.Is(unavailable, inner))

	cred := ErrCredentialFailure(inner)
	assert.Equal(t, "PRV_002", cred.Code)
	assert.Equal(t, 500, cred.HTTPStatus)

	rejected := ErrProviderRejected("Invalid PhoneNumber")
	assert.Equal(t, "PRV_003", rejected.Code)
	assert.Equal(t, 502, rejected.HTTPStatus)
	assert.Equal(t, "Invalid PhoneNumber", rejected.Message)
}

func TestAuthErrors(t *testing.T) {
	err := ErrInvalidToken()
	assert.Equal(t, "AUTH_001", err.Code)
	assert.Equal(t, 401, err.HTTPStatus)
}

func TestSystemErrors(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	dbErr := ErrDatabaseError(inner)
	assert.Equal(t, "SYS_001", dbErr.Code)
	assert.Equal(t, 500, dbErr.HTTPStatus)
	assert.True(t, errors.Is(dbErr, inner))

	internal := InternalError(inner)
	assert.Equal(t, "SYS_001", internal.Code)
	assert.True(t, errors.Is(internal, inner))
}

func TestRateLimitError(t *testing.T) {
	err := ErrRateLimitExceeded()
	assert.Equal(t, "RATE_001", err.Code)
	assert.Equal(t, 429, err.HTTPStatus)
}

func TestNotFoundEntity(t *testing.T) {
	err := ErrNotFound("Transaction")
	assert.Contains(t, err.Message, "Transaction")
	assert.Equal(t, "TXN_001", err.Code)
	assert.Equal(t, 404, err.HTTPStatus)
}

func TestDuplicateRequest(t *testing.T) {
	err := ErrDuplicateRequest()
	assert.Equal(t, "TXN_002", err.Code)
	assert.Equal(t, 409, err.HTTPStatus)
}

func TestFrom(t *testing.T) {
	phone := ErrInvalidPhone()
	assert.Same(t, phone, From(fmt.Errorf("validate: %w", phone)))

	inner := fmt.Errorf("boom")
	got := From(inner)
	assert.Equal(t, "SYS_001", got.Code)
	assert.Equal(t, 500, got.HTTPStatus)
	assert.True(t, errors.Is(got, inner))
}

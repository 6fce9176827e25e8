package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----

func ErrInvalidPhone() *AppError {
	return New("VAL_001", "Phone number must be 0XXXXXXXXX, 254XXXXXXXXX or +254XXXXXXXXX", http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_002", "Amount must be greater than zero, at most 250000 and have at most 2 decimal places", http.StatusBadRequest)
}

func ErrInvalidPurpose() *AppError {
	return New("VAL_003", "Unknown payment purpose", http.StatusBadRequest)
}

// Validation returns a VAL_000 error for malformed request bodies.
func Validation(message string) *AppError {
	return New("VAL_000", message, http.StatusBadRequest)
}

// ---- Transactions (TXN) ----

func ErrNotFound(entity string) *AppError {
	return New("TXN_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrDuplicateRequest() *AppError {
	return New("TXN_002", "A request with this Idempotency-Key is still in progress", http.StatusConflict)
}

// ---- Provider (PRV) ----

func ErrProviderUnavailable(err error) *AppError {
	return Wrap("PRV_001", "Payment provider unavailable", http.StatusInternalServerError, err)
}

func ErrCredentialFailure(err error) *AppError {
	return Wrap("PRV_002", "Could not obtain provider credentials", http.StatusInternalServerError, err)
}

func ErrProviderRejected(message string) *AppError {
	return New("PRV_003", message, http.StatusBadGateway)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// From returns the AppError carried by err, or wraps err as an internal error.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalError(err)
}

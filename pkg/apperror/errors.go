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

// Error codes. USG errors classify delivery failures to the payment
// processor; EVT errors classify webhook processing failures.
const (
	CodeTransientDelivery  = "USG_001"
	CodePermanentRejection = "USG_002"
	CodeUnknownEventType   = "EVT_001"
	CodeMalformedPayload   = "EVT_002"
	CodeInvalidSignature   = "SEC_001"
	CodeInvalidOpsToken    = "SEC_002"
	CodeRateLimitExceeded  = "RATE_001"
	CodeInternal           = "SYS_001"
	CodeStorageConflict    = "SYS_002"
)

// ---- Delivery to the payment processor (USG) ----

// ErrTransientDelivery marks a failure worth retrying: network errors,
// timeouts, 408/429/5xx responses.
func ErrTransientDelivery(err error) *AppError {
	return Wrap(CodeTransientDelivery, "Transient delivery failure", http.StatusServiceUnavailable, err)
}

// ErrPermanentRejection marks a structurally invalid request the processor
// will never accept. Not retryable; surfaced immediately.
func ErrPermanentRejection(err error) *AppError {
	return Wrap(CodePermanentRejection, "Request permanently rejected by payment processor", http.StatusBadRequest, err)
}

// ---- Webhook processing (EVT) ----

func ErrUnknownEventType(eventType string) *AppError {
	return New(CodeUnknownEventType, fmt.Sprintf("No handler registered for event type %q", eventType), http.StatusUnprocessableEntity)
}

func ErrMalformedPayload(err error) *AppError {
	return Wrap(CodeMalformedPayload, "Malformed event payload", http.StatusBadRequest, err)
}

// ---- Security (SEC) ----

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid webhook signature", http.StatusUnauthorized)
}

func ErrInvalidOpsToken() *AppError {
	return New(CodeInvalidOpsToken, "Invalid or missing operator token", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// ErrStorageConflict marks a concurrent-write race on the ledger store.
// Retried locally; never surfaced to callers as-is.
func ErrStorageConflict(err error) *AppError {
	return Wrap(CodeStorageConflict, "Storage conflict", http.StatusConflict, err)
}

// Validation returns a generic bad-request error.
func Validation(message string) *AppError {
	return New(CodeMalformedPayload, message, http.StatusBadRequest)
}

// IsTransient reports whether err is worth retrying: transient delivery
// failures and storage conflicts that degraded past local retry.
func IsTransient(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code == CodeTransientDelivery || appErr.Code == CodeStorageConflict
}

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case CodePermanentRejection, CodeUnknownEventType, CodeMalformedPayload:
		return true
	}
	return false
}

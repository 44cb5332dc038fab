// Package goverrors defines the stable error surface of the governance
// core. Every error carries a machine code plus a human-readable English
// message; callers are responsible for translation and presentation.
package goverrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type ErrorCode = string

const (
	ErrorCodeNotFound                ErrorCode = "not_found"
	ErrorCodePermissionDenied        ErrorCode = "permission_denied"
	ErrorCodeValidationFailed        ErrorCode = "validation_failed"
	ErrorCodeConflict                ErrorCode = "conflict"
	ErrorCodeRateLimited             ErrorCode = "over_request_rate_limit"
	ErrorCodeReceiptInvalidSignature ErrorCode = "receipt_invalid_signature"
	ErrorCodeReceiptReplayed         ErrorCode = "receipt_replayed"
	ErrorCodeReceiptWrongVoter       ErrorCode = "receipt_wrong_voter"
	ErrorCodeReceiptAmountMismatch   ErrorCode = "receipt_amount_mismatch"
	ErrorCodeReceiptOverLimit        ErrorCode = "receipt_over_limit"
	ErrorCodeDeadlineExceeded        ErrorCode = "deadline_exceeded"
	ErrorCodeExternalUnavailable     ErrorCode = "external_unavailable"
	ErrorCodeUnexpectedFailure       ErrorCode = "unexpected_failure"
)

// Error is the result type for rejected governance commands. Rejected
// commands never produce an audit entry: the command simply did not happen.
type Error struct {
	ErrorCode       ErrorCode `json:"error_code"`
	Message         string    `json:"msg"`
	RetryAfter      time.Duration `json:"retry_after,omitempty"`
	InternalError   error     `json:"-"`
	InternalMessage string    `json:"-"`
}

func New(code ErrorCode, fmtString string, args ...any) *Error {
	return &Error{
		ErrorCode: code,
		Message:   fmt.Sprintf(fmtString, args...),
	}
}

func NewNotFoundError(fmtString string, args ...any) *Error {
	return New(ErrorCodeNotFound, fmtString, args...)
}

func NewPermissionDeniedError(fmtString string, args ...any) *Error {
	return New(ErrorCodePermissionDenied, fmtString, args...)
}

func NewValidationError(field, fmtString string, args ...any) *Error {
	e := New(ErrorCodeValidationFailed, fmtString, args...)
	e.Message = field + ": " + e.Message
	return e
}

func NewConflictError(fmtString string, args ...any) *Error {
	return New(ErrorCodeConflict, fmtString, args...)
}

func NewRateLimitedError(retryAfter time.Duration) *Error {
	e := New(ErrorCodeRateLimited, "rate limit exceeded, retry after %s", retryAfter.Round(time.Second))
	e.RetryAfter = retryAfter
	return e
}

func NewDeadlineExceededError() *Error {
	return New(ErrorCodeDeadlineExceeded, "operation deadline exceeded")
}

func NewExternalUnavailableError(capability string) *Error {
	return New(ErrorCodeExternalUnavailable, "external capability %q unavailable", capability)
}

// NewInternalError marks an invariant violation the core would prefer to
// crash on in debug. Always logged at fatal-adjacent severity by callers.
func NewInternalError(fmtString string, args ...any) *Error {
	return New(ErrorCodeUnexpectedFailure, fmtString, args...)
}

func (e *Error) Error() string {
	if e.InternalMessage != "" {
		return e.InternalMessage
	}
	return fmt.Sprintf("%s: %s", e.ErrorCode, e.Message)
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.ErrorCode == t.ErrorCode
}

// Cause returns the root cause error
func (e *Error) Cause() error {
	if e.InternalError != nil {
		return e.InternalError
	}
	return e
}

// WithInternalError adds internal error information to the error
func (e *Error) WithInternalError(err error) *Error {
	e.InternalError = err
	return e
}

// WithInternalMessage adds internal message information to the error
func (e *Error) WithInternalMessage(fmtString string, args ...any) *Error {
	e.InternalMessage = fmt.Sprintf(fmtString, args...)
	return e
}

// CodeOf extracts the stable code from an error, or
// ErrorCodeUnexpectedFailure for foreign errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrorCode
	}
	return ErrorCodeUnexpectedFailure
}

// IsCode reports whether the error carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

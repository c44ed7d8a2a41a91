// Package apperr defines the error taxonomy shared by the entitlement, access and
// ingestion packages. Every failure that crosses a package boundary carries a Code
// so callers (HTTP handlers, job processors) can decide on retries and status codes
// without string matching.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation               Code = "validation_error"
	CodePaymentRequired          Code = "payment_required"
	CodeNoActiveEntitlement      Code = "no_active_entitlement"
	CodeRentalExpired            Code = "rental_expired"
	CodeStateConflict            Code = "state_conflict"
	CodeSubscriptionActive       Code = "subscription_active"
	CodeInvalidFormat            Code = "invalid_format"
	CodeAmbiguousArchive         Code = "ambiguous_archive"
	CodeEmptyArchive             Code = "empty_archive"
	CodeTooLarge                 Code = "too_large"
	CodeSuspiciousArchive        Code = "suspicious_archive"
	CodeStorageUnavailable       Code = "storage_unavailable"
	CodeAccessServiceUnavailable Code = "access_service_unavailable"
	CodePlanInUse                Code = "plan_in_use"
	CodeNotFound                 Code = "not_found"
	CodeNotReady                 Code = "not_ready"
)

// Error is a coded application error. Err is optional and kept for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, apperr.New(CodeX, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the code of err, or "" for uncoded errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the caller may retry the same request unchanged
// (possibly after re-reading state or paying).
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeStateConflict, CodeStorageUnavailable, CodeAccessServiceUnavailable, CodePaymentRequired:
		return true
	default:
		return false
	}
}

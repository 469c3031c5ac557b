package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HSouheill/barrim_referrals/repositories"
)

// ErrorCode classifies a referral engine failure. Controllers map codes to
// HTTP statuses.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeInvalidState      ErrorCode = "INVALID_STATE"
	CodeExpired           ErrorCode = "EXPIRED"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeDuplicateTarget   ErrorCode = "DUPLICATE_TARGET"
	CodeAlreadyRegistered ErrorCode = "ALREADY_REGISTERED"
	CodeEmailMismatch     ErrorCode = "EMAIL_MISMATCH"
	CodeIneligible        ErrorCode = "INELIGIBLE"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeTransientConflict ErrorCode = "TRANSIENT_CONFLICT"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeValidation        ErrorCode = "VALIDATION"
)

// Error is the structured failure every service operation returns.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, services.ErrExpired).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrInvalidState      = &Error{Code: CodeInvalidState, Message: "operation not valid in current state"}
	ErrExpired           = &Error{Code: CodeExpired, Message: "invitation has expired"}
	ErrQuotaExceeded     = &Error{Code: CodeQuotaExceeded, Message: "invitation quota exceeded"}
	ErrDuplicateTarget   = &Error{Code: CodeDuplicateTarget, Message: "target already invited or registered"}
	ErrAlreadyRegistered = &Error{Code: CodeAlreadyRegistered, Message: "partner already registered"}
	ErrEmailMismatch     = &Error{Code: CodeEmailMismatch, Message: "email does not match invitation"}
	ErrIneligible        = &Error{Code: CodeIneligible, Message: "user type cannot apply as promoter"}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists, Message: "promoter profile already exists"}
	ErrTransientConflict = &Error{Code: CodeTransientConflict, Message: "concurrent update, retry"}
	ErrForbidden         = &Error{Code: CodeForbidden, Message: "not allowed"}
	ErrValidation        = &Error{Code: CodeValidation, Message: "invalid input"}
)

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func wrapError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// storageError converts repository failures into engine errors. Errors that
// are already classified pass through untouched.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return wrapError(CodeNotFound, op, err)
	case errors.Is(err, repositories.ErrWriteConflict):
		return wrapError(CodeTransientConflict, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// inTransaction runs fn in a store transaction and classifies the storage
// failures that surface at commit time.
func inTransaction(ctx context.Context, store repositories.Store, fn func(ctx context.Context) error) error {
	return storageError("transaction", store.WithTransaction(ctx, fn))
}

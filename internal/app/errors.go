package app

import (
	"errors"

	"github.com/transfa/wallet-service/internal/store"
)

// Kind classifies a service error for the caller.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindLimitReached
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindLimitReached:
		return "limit_reached"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is a caller-facing service error. The message is safe to return to clients.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, msg: msg, cause: cause}
}

var (
	ErrInvalidAmount         = newError(KindValidation, "amount must be a positive number with at most 2 decimal places", nil)
	ErrInvalidDescription    = newError(KindValidation, "description is too long", nil)
	ErrSameAccountTransfer   = newError(KindValidation, "cannot transfer to the same account", nil)
	ErrSourceAccountNotFound = newError(KindNotFound, "source account not found", store.ErrAccountNotFound)
	ErrRecipientNotFound     = newError(KindNotFound, "recipient account not found", store.ErrAccountNotFound)
	ErrAccountNotFound       = newError(KindNotFound, "account not found", store.ErrAccountNotFound)
	ErrUserNotFound          = newError(KindNotFound, "user not found", store.ErrUserNotFound)
	ErrInsufficientFunds     = newError(KindInsufficientFunds, "insufficient funds", store.ErrInsufficientFunds)
	ErrAccountLimitReached   = newError(KindLimitReached, "maximum number of accounts reached", nil)
	ErrAccountNumberConflict = newError(KindConflict, "could not allocate a unique account number", store.ErrDuplicateAccountNumber)
	ErrRateLimited           = newError(KindRateLimited, "too many transfer attempts; please wait and try again", nil)
)

// KindOf reports the Kind of err. Errors that carry no Kind are internal.
func KindOf(err error) Kind {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}
	return KindInternal
}

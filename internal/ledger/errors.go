package ledger

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyExists       = errors.New("already exists")
	ErrSave                = errors.New("save failed")
	ErrDelete              = errors.New("delete failed")
	ErrIllegalState        = errors.New("illegal state")
	ErrInvalidBalance      = errors.New("invalid balance")
	ErrUnavailable         = errors.New("storage unavailable")

	// ErrDailyLimitExceeded is a reason carried by ErrInsufficientBalance errors.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
)

const msgUnavailable = "the ledger is temporarily unavailable"

// Error is a ledger failure with a stable, user-facing message.
// Infrastructure causes are kept in Err for logs and never shown in Msg.
type Error struct {
	Kind   error
	Reason error
	Msg    string
	Err    error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.Kind || (e.Reason != nil && target == e.Reason)
}

// NewError builds an Error of the given kind. Stores use it for the kinds
// they detect themselves (not found, unique and balance constraints).
func NewError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return NewError(ErrNotFound, format, args...)
}

func invalidArgument(format string, args ...any) *Error {
	return NewError(ErrInvalidArgument, format, args...)
}

// KindOf returns the kind sentinel of err, or nil for foreign errors.
func KindOf(err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}

// wrapInfra passes ledger errors through and turns anything else into kind
// with msg, keeping the cause.
func wrapInfra(err error, kind error, msg string) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

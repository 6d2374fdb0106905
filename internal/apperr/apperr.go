package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindReferential Kind = "REFERENTIAL"
	KindConflict    Kind = "CONFLICT"
	KindTransition  Kind = "TRANSITION"
	KindStorage     Kind = "STORAGE"
	KindForbidden   Kind = "FORBIDDEN"
	KindNotFound    Kind = "NOT_FOUND"
)

// Error is the structured error surfaced by the scheduling core.
type Error struct {
	Kind    Kind
	Message string
	// Reasons lists colliding scopes for KindConflict.
	Reasons []string
	// Guard names the failed guard for KindTransition.
	Guard string
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if len(e.Reasons) > 0 {
		msg += " (" + strings.Join(e.Reasons, "; ") + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the whole operation may be retried as is.
func (e *Error) Retryable() bool { return e.Kind == KindStorage }

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Referential(format string, args ...any) *Error {
	return &Error{Kind: KindReferential, Message: fmt.Sprintf(format, args...)}
}

func Conflict(reasons []string) *Error {
	return &Error{Kind: KindConflict, Message: "scheduling conflict", Reasons: reasons}
}

func Transition(guard, format string, args ...any) *Error {
	return &Error{Kind: KindTransition, Message: fmt.Sprintf(format, args...), Guard: guard}
}

func Storage(message string, err error) *Error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }

func IsRetryable(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Retryable()
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	ok := errors.As(err, &ae)
	return ae, ok
}

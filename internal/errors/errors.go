package errors

import (
	"errors"
	"fmt"
	"time"
)

// Kind is a stable, machine-readable error classification surfaced to callers.
type Kind string

const (
	KindInternal            Kind = "internal"
	KindInvalidRequest      Kind = "invalid_request"
	KindInvalidAmount       Kind = "invalid_amount"
	KindUnsupportedAsset    Kind = "unsupported_asset"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindApprovalFailed      Kind = "approval_failed"
	KindActionFailed        Kind = "action_failed"
	KindNetworkNotSupported Kind = "network_not_supported"
	KindTimeout             Kind = "timeout"
	KindNoPoolsAvailable    Kind = "no_pools_available"
	KindUnavailable         Kind = "unavailable"
)

// Error is a typed error that carries a stable kind. RetryAfter, when set,
// hints how long a caller should wait before re-issuing the request; the
// caller owns the retry decision.
type Error struct {
	Kind       Kind
	Message    string
	Cause      error
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithRetryAfter returns a copy of e carrying a retry hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	out := *e
	out.RetryAfter = d
	return &out
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf classifies any error, mapping untyped errors to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if typed, ok := As(err); ok {
		return typed.Kind
	}
	return KindInternal
}

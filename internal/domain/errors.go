package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the relay.
var (
	// ErrUnavailable means no game-process connection is active.
	ErrUnavailable = fmt.Errorf("game process unavailable")
	// ErrTimedOut means a correlated response did not arrive in time.
	ErrTimedOut = fmt.Errorf("game process did not respond in time")
	// ErrMalformedFrame is returned when an inbound frame cannot be decoded.
	ErrMalformedFrame = fmt.Errorf("malformed frame")
	// ErrSendFailure means the connection dropped while a frame was written.
	// It wraps ErrUnavailable so callers can treat both alike.
	ErrSendFailure = fmt.Errorf("send failed: %w", ErrUnavailable)
	// ErrDuplicateRequestID should be unreachable given random request ids.
	ErrDuplicateRequestID = fmt.Errorf("duplicate request id")

	ErrWebhookUnconfigured = fmt.Errorf("webhook not configured")
	ErrAuditWrite          = fmt.Errorf("audit write failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Requester.Request")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for logs and metrics.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeUnavailable        ErrorCode = "UNAVAILABLE"
	CodeTimedOut           ErrorCode = "TIMED_OUT"
	CodeMalformedFrame     ErrorCode = "MALFORMED_FRAME"
	CodeSendFailure        ErrorCode = "SEND_FAILURE"
	CodeDuplicateRequestID ErrorCode = "DUPLICATE_REQUEST_ID"
	CodeWebhookUnconfig    ErrorCode = "WEBHOOK_UNCONFIGURED"
	CodeAuditWrite         ErrorCode = "AUDIT_WRITE"
)

// errorCodeOrder is checked front to back; ErrSendFailure must precede
// ErrUnavailable because it wraps it.
var errorCodeOrder = []struct {
	err  error
	code ErrorCode
}{
	{ErrSendFailure, CodeSendFailure},
	{ErrUnavailable, CodeUnavailable},
	{ErrTimedOut, CodeTimedOut},
	{ErrMalformedFrame, CodeMalformedFrame},
	{ErrDuplicateRequestID, CodeDuplicateRequestID},
	{ErrWebhookUnconfigured, CodeWebhookUnconfig},
	{ErrAuditWrite, CodeAuditWrite},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	for _, e := range errorCodeOrder {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}

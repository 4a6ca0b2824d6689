// Package domainerrors defines the coded, recoverable errors the verification
// core returns to callers. Every code maps to an HTTP status so transport
// handlers translate mechanically; none of these are fatal process errors.
//
// Stores do not use this package directly: infrastructure layers return
// pkg/platform/sentinel errors and services translate them into domain errors
// at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error. String values double as the wire-level
// error identifiers in JSON responses.
type Code string

const (
	// Generic transport-facing codes.
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
	CodeUnavailable        Code = "service_unavailable"

	// Verification lifecycle codes. These are the typed outcomes the
	// orchestrator hands back to callers; all of them are recoverable.
	CodeTierLocked           Code = "tier_locked"
	CodeSessionAlreadyActive Code = "session_already_active"
	CodeAttemptsExhausted    Code = "attempts_exhausted"
	CodeUnknownChannel       Code = "unknown_channel"
	CodeSessionNotFound      Code = "session_not_found"
	CodeSessionExpired       Code = "session_expired"
	CodeSessionTerminal      Code = "session_terminal"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeReplayConflict       Code = "replay_conflict"
)

// Error is a coded domain error. Message is safe to surface to callers for
// every code except CodeInternal, which the HTTP layer redacts.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a domain error with the given code and caller-safe message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying cause. The cause is
// preserved for errors.Is/As chains and logging but never serialized.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in domain logic.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer writes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest, CodeUnknownChannel:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeInvalidSignature:
		return http.StatusUnauthorized
	case CodeNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeInvariantViolation, CodeTierLocked,
		CodeSessionAlreadyActive, CodeSessionTerminal, CodeReplayConflict:
		return http.StatusConflict
	case CodeSessionExpired:
		return http.StatusGone
	case CodeAttemptsExhausted:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

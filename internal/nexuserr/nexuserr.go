// Package nexuserr implements the engine's closed error taxonomy: every
// classified failure path returns a *NexusError wrapping a fixed Kind with
// its HTTP status, matching the way internal/agent/errors.go classifies
// tool failures into a small closed ToolErrorType set.
package nexuserr

import (
	"errors"
	"fmt"
)

// Kind is one of the engine's closed set of classified error kinds.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindNotFound            Kind = "NOT_FOUND"
	KindConflict            Kind = "CONFLICT"
	KindNoActivePrompt      Kind = "NO_ACTIVE_PROMPT"
	KindToolNotAllowed      Kind = "TOOL_NOT_ALLOWED"
	KindToolHallucination   Kind = "TOOL_HALLUCINATION"
	KindToolInputValidation Kind = "TOOL_INPUT_VALIDATION"
	KindToolExecutionError  Kind = "TOOL_EXECUTION_ERROR"
	KindApprovalDenied      Kind = "APPROVAL_DENIED"
	KindApprovalExpired     Kind = "APPROVAL_EXPIRED"
	KindBudgetExceeded      Kind = "BUDGET_EXCEEDED"
	KindTokenLimitExceeded  Kind = "TOKEN_LIMIT_EXCEEDED"
	KindTurnLimitExceeded   Kind = "TURN_LIMIT_EXCEEDED"
	KindRateLimitExceeded   Kind = "RATE_LIMIT_EXCEEDED"
	KindProviderError       Kind = "PROVIDER_ERROR"
	KindCancelled           Kind = "CANCELLED"
	KindInternal            Kind = "INTERNAL_ERROR"
)

// HTTPStatus returns the status code the §6 response envelope uses for this
// kind. Kinds that never cross the HTTP boundary (they stay inside a tool
// result or trace event) still get a status so logging/metrics can use it
// uniformly.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindNoActivePrompt:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindToolNotAllowed:
		return 403
	case KindBudgetExceeded, KindTokenLimitExceeded, KindTurnLimitExceeded, KindRateLimitExceeded:
		return 429
	case KindProviderError:
		return 502
	case KindToolHallucination, KindToolInputValidation, KindToolExecutionError,
		KindApprovalDenied, KindApprovalExpired, KindCancelled:
		return 500
	default:
		return 500
	}
}

// Terminal reports whether this kind, once raised inside a turn, ends the
// turn (as opposed to being surfaced as a tool_result and allowing the loop
// to continue). Matches §4.H/§7's terminal-vs-tool-visible split.
func (k Kind) Terminal() bool {
	switch k {
	case KindBudgetExceeded, KindTokenLimitExceeded, KindTurnLimitExceeded,
		KindRateLimitExceeded, KindCancelled:
		return true
	default:
		return false
	}
}

// NexusError is the engine's single classified error type. Details carries
// structured context (field name, limit/actual values) surfaced in the §6
// response envelope's error.details.
type NexusError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func (e *NexusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *NexusError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, SomeKind) by comparing kinds, and also
// supports errors.Is(err, &NexusError{Kind: k}) style sentinels.
func (e *NexusError) Is(target error) bool {
	var other *NexusError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a NexusError of the given kind.
func New(kind Kind, message string) *NexusError {
	return &NexusError{Kind: kind, Message: message}
}

// Wrap constructs a NexusError of the given kind wrapping cause.
func Wrap(kind Kind, cause error, message string) *NexusError {
	return &NexusError{Kind: kind, Message: message, Cause: cause}
}

// WithDetails attaches structured detail fields and returns e for chaining.
func (e *NexusError) WithDetails(details map[string]any) *NexusError {
	e.Details = details
	return e
}

func Validation(message string) *NexusError { return New(KindValidation, message) }
func NotFound(message string) *NexusError   { return New(KindNotFound, message) }
func Cancelled(message string) *NexusError  { return New(KindCancelled, message) }
func Internal(message string) *NexusError   { return New(KindInternal, message) }

// Conflict constructs a CONFLICT-kind error; subKind (e.g.
// "APPROVAL_NOT_PENDING", "CHANNEL_COLLISION") is recorded in Details so
// callers can distinguish conflict causes without a new top-level Kind.
func Conflict(subKind, message string) *NexusError {
	return New(KindConflict, message).WithDetails(map[string]any{"reason": subKind})
}

// KindOf extracts the Kind of err if it is (or wraps) a *NexusError.
func KindOf(err error) (Kind, bool) {
	var ne *NexusError
	if errors.As(err, &ne) {
		return ne.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) a NexusError of kind k.
func Is(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

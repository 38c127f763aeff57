package domain

import "fmt"

// ErrorKind classifies every error the core can return, per SPEC_FULL.md §7.
// Components wrap their errors with fmt.Errorf("...: %w", err) so callers can
// still errors.Is/errors.As through to the underlying cause; Kind() lets a
// caller branch on the taxonomy without inspecting error strings.
type ErrorKind string

const (
	ErrInvalidInput        ErrorKind = "invalid_input"
	ErrInfeasible          ErrorKind = "infeasible"
	ErrDependencyCycle     ErrorKind = "dependency_cycle"
	ErrForbidden           ErrorKind = "forbidden"
	ErrNotFound            ErrorKind = "not_found"
	ErrDuplicateKey        ErrorKind = "duplicate_key"
	ErrProviderError       ErrorKind = "provider_error"
	ErrRateLimitTimeout    ErrorKind = "rate_limit_timeout"
	ErrCircuitOpen         ErrorKind = "circuit_open"
	ErrTimeout             ErrorKind = "timeout"
	ErrTransientServer     ErrorKind = "transient_server_error"
	ErrAgentFailure        ErrorKind = "agent_failure"
	ErrCancelled           ErrorKind = "cancelled"
	ErrCheckpointWriteError ErrorKind = "checkpoint_write_error"
	ErrNoProvidersAvailable ErrorKind = "no_providers_available"
)

// Retryable reports whether an error of this kind may be retried — either
// against the same component (AgentFailure, up to the workflow's retry
// budget) or via failover to another provider.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrRateLimitTimeout, ErrCircuitOpen, ErrTimeout, ErrTransientServer, ErrAgentFailure, ErrCheckpointWriteError:
		return true
	default:
		return false
	}
}

// Error is the typed error value every component returns. It optionally
// wraps an underlying cause (Cause may be nil); when present, the cause is
// reachable through errors.Unwrap/errors.Is.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by Kind, so callers can do
// errors.Is(err, domain.NewError(domain.ErrNotFound, "", nil)) or compare
// against a sentinel constructed purely for its Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// NewError constructs a typed Error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *Error, defaulting to "" otherwise.
func KindOf(err error) ErrorKind {
	var de *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			de = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if de == nil {
		return ""
	}
	return de.Kind
}

package domain

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorType is the category of a lifecycle error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates malformed input.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a task or hook does not exist.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeInvalidTransition indicates the requested edge is not in the
	// transition table.
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"

	// ErrorTypeDependencyNotSatisfied indicates a blocking dependency is not done.
	ErrorTypeDependencyNotSatisfied ErrorType = "dependency_not_satisfied"

	// ErrorTypeApprovalRequired indicates completion without a required approval.
	ErrorTypeApprovalRequired ErrorType = "approval_required"

	// ErrorTypePreHookBlocked indicates the generic transition gate denied.
	ErrorTypePreHookBlocked ErrorType = "pre_hook_blocked"

	// ErrorTypeConflict indicates the request conflicts with current state.
	ErrorTypeConflict ErrorType = "conflict"

	// ErrorTypeServer indicates an internal failure.
	ErrorTypeServer ErrorType = "server"
)

// Error is a structured lifecycle error. Every hard failure of a transition is
// reported as an *Error and leaves the task unchanged.
type Error struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Reason is the policy explanation returned by blocking hooks.
	Reason string `json:"reason,omitempty"`

	// BlockedBy names the hooks that denied the action.
	BlockedBy []string `json:"blocked_by,omitempty"`

	// StatusCode overrides the default HTTP status code
	StatusCode int `json:"-"`
}

// Sentinels for errors.Is comparisons. Only the Type is compared.
var (
	ErrNotFound               = &Error{Type: ErrorTypeNotFound}
	ErrInvalidTransition      = &Error{Type: ErrorTypeInvalidTransition}
	ErrDependencyNotSatisfied = &Error{Type: ErrorTypeDependencyNotSatisfied}
	ErrApprovalRequired       = &Error{Type: ErrorTypeApprovalRequired}
	ErrPreHookBlocked         = &Error{Type: ErrorTypePreHookBlocked}
	ErrConflict               = &Error{Type: ErrorTypeConflict}
	ErrInvalidRequest         = &Error{Type: ErrorTypeInvalidRequest}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.BlockedBy) > 0 {
		return fmt.Sprintf("%s: %s (blocked by %s)", e.Type, e.Message, strings.Join(e.BlockedBy, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is matches any *Error with the same Type.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidTransition:
		return http.StatusUnprocessableEntity
	case ErrorTypeDependencyNotSatisfied, ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeApprovalRequired, ErrorTypePreHookBlocked:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new lifecycle error.
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// WithStatusCode sets a specific HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return NewError(ErrorTypeNotFound, fmt.Sprintf("%s %s not found", entity, id))
}

// InvalidTransition reports an edge missing from the transition table.
func InvalidTransition(from, to TaskStatus) *Error {
	return NewError(ErrorTypeInvalidTransition, fmt.Sprintf("invalid transition: %s → %s", from, to))
}

// DependencyNotSatisfied reports blocking dependencies that are not done.
func DependencyNotSatisfied(incomplete []string) *Error {
	return NewError(ErrorTypeDependencyNotSatisfied,
		fmt.Sprintf("cannot complete: %d blocking dependencies not done (%s)", len(incomplete), strings.Join(incomplete, ", ")))
}

// ApprovalRequired reports a completion attempt on an unapproved task.
func ApprovalRequired() *Error {
	return NewError(ErrorTypeApprovalRequired, "task requires approval before completion")
}

// PreHookBlocked reports a denial of the generic transition gate.
func PreHookBlocked(reason string, blockedBy []string) *Error {
	return &Error{
		Type:      ErrorTypePreHookBlocked,
		Message:   "action blocked by webhook: " + reason,
		Reason:    reason,
		BlockedBy: blockedBy,
	}
}

// Conflict reports a request that does not fit the current state.
func Conflict(message string) *Error {
	return NewError(ErrorTypeConflict, message)
}

// InvalidRequest reports malformed input.
func InvalidRequest(message string) *Error {
	return NewError(ErrorTypeInvalidRequest, message)
}

package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an error so callers can tell a broken setup apart from a
// failing operation.
type ErrorKind string

const (
	// KindConfiguration indicates the project or environment setup is wrong.
	// Examples: missing context file, unknown context kind, holder type that cannot be constructed.
	KindConfiguration ErrorKind = "configuration"

	// KindOperation indicates a requested or dependency operation is not registered
	// or its handler cannot be dispatched.
	KindOperation ErrorKind = "operation"

	// KindCycle indicates a dependency chain revisits an operation that is still
	// being expanded.
	KindCycle ErrorKind = "cycle"

	// KindExecution indicates a handler failed while running.
	KindExecution ErrorKind = "execution"

	// KindDuplicate indicates two operations resolved to the same name.
	KindDuplicate ErrorKind = "duplicate"

	// KindPolicy indicates an admission policy denied the run.
	KindPolicy ErrorKind = "policy"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Operation is the operation name that caused the error, if applicable.
	Operation string `json:"operation,omitempty"`

	// Path is the dependency path active when the error occurred.
	Path []string `json:"path,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Kind, e.Message)
	if e.Operation != "" {
		fmt.Fprintf(&sb, " (operation=%s)", e.Operation)
	}
	if len(e.Path) > 0 {
		fmt.Fprintf(&sb, " (path=%s)", formatPath(e.Path))
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %s", e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func newError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates a new configuration error.
func NewConfigurationError(message string, err error) *EngineError {
	return newError(KindConfiguration, message, err)
}

// NewOperationError creates a new operation error.
func NewOperationError(message string, err error) *EngineError {
	return newError(KindOperation, message, err)
}

// NewCycleError creates a new cycle error for the given dependency path.
// The last element of path is the operation that closed the cycle.
func NewCycleError(name string, path []string) *EngineError {
	e := newError(KindCycle, fmt.Sprintf("circular dependency detected: %s", name), nil).
		WithOperation(name).
		WithCode(ErrCodeCycle)
	e.Path = append([]string(nil), path...)
	return e
}

// NewExecutionError creates a new execution error.
func NewExecutionError(message string, err error) *EngineError {
	return newError(KindExecution, message, err)
}

// NewDuplicateError creates a new duplicate registration error.
func NewDuplicateError(name string) *EngineError {
	return newError(KindDuplicate, fmt.Sprintf("duplicate operation name detected: %s", name), nil).
		WithOperation(name).
		WithCode(ErrCodeAlreadyExists)
}

// NewPolicyError creates a new policy error.
func NewPolicyError(message string, err error) *EngineError {
	return newError(KindPolicy, message, err)
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(name string) *EngineError {
	e.Operation = name
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first EngineError in the chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsConfigurationError returns true if the error is classified as a configuration error.
func IsConfigurationError(err error) bool {
	return KindOf(err) == KindConfiguration
}

// IsOperationError returns true if the error is classified as an operation error.
func IsOperationError(err error) bool {
	return KindOf(err) == KindOperation
}

// IsCycleError returns true if the error is classified as a cycle error.
func IsCycleError(err error) bool {
	return KindOf(err) == KindCycle
}

// IsExecutionError returns true if the error is classified as an execution error.
func IsExecutionError(err error) bool {
	return KindOf(err) == KindExecution
}

// IsDuplicateError returns true if the error is classified as a duplicate registration.
func IsDuplicateError(err error) bool {
	return KindOf(err) == KindDuplicate
}

// IsPolicyError returns true if the error is classified as a policy denial.
func IsPolicyError(err error) bool {
	return KindOf(err) == KindPolicy
}

// formatPath formats a dependency path for error messages.
func formatPath(path []string) string {
	return strings.Join(path, " -> ")
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodeCycle         = "CYCLE"
	ErrCodeDispatch      = "DISPATCH_FAILED"
	ErrCodeInstantiation = "INSTANTIATION_FAILED"
	ErrCodeHandlerFailed = "HANDLER_FAILED"
	ErrCodeCancelled     = "CANCELLED"
	ErrCodeContextLoad   = "CONTEXT_LOAD_FAILED"
	ErrCodeDenied        = "POLICY_DENIED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

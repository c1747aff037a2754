package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// NotFound indicates an unknown ref or a path missing at a commit
	NotFound ErrorCode = "NOT_FOUND"
	// QueueFull indicates a lane rejected admission
	QueueFull ErrorCode = "QUEUE_FULL"
	// BuildFailure indicates a compile or assemble step failed
	BuildFailure ErrorCode = "BUILD_FAILURE"
	// GitFailure indicates a git subprocess exited non-zero
	GitFailure ErrorCode = "GIT_FAILURE"
	// NoExportablePaths indicates none of the required paths exist at a commit
	NoExportablePaths ErrorCode = "NO_EXPORTABLE_PATHS"
	// InvalidRequest indicates a malformed ref or artifact path
	InvalidRequest ErrorCode = "INVALID_REQUEST"
	// Unavailable indicates the component is shutting down
	Unavailable ErrorCode = "UNAVAILABLE"
	// Unauthorized indicates a missing or wrong admin token
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RetryLater suggests repeating the request after a delay
	RetryLater FixActionType = "retry-later"
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Description string        `json:"description,omitempty"`
}

// GatewayError represents a gateway error with code, message, and suggestions
type GatewayError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error       // Underlying error (not exported to JSON)
}

// New creates a GatewayError with the default fixes for its code.
func New(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Code:           code,
		Message:        message,
		cause:          cause,
		SuggestedFixes: GetSuggestedFixes(code),
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *GatewayError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *GatewayError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *GatewayError) WithDetails(details interface{}) *GatewayError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first GatewayError in err's chain,
// or InternalError when there is none.
func CodeOf(err error) ErrorCode {
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		return gwErr.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	QueueFull: {
		{
			Type:        RetryLater,
			Description: "The build queue is at capacity; repeat the request shortly",
		},
	},
	GitFailure: {
		{
			Type:        RunCommand,
			Command:     "buildgate sync",
			Description: "Refresh the local source cache",
		},
	},
	Unauthorized: {
		{
			Type:        RunCommand,
			Command:     "buildgate token generate",
			Description: "Generate an admin token and configure its hash",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}

package core

import (
	"fmt"
	"strings"
)

// ExecutionError is a categorized failure returned by the automation client.
// Two ExecutionErrors match under errors.Is when their codes are equal.
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: element_not_found, timeout, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context (w3c code, finder, timeout)
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an ExecutionError with the same code.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

func (e *ExecutionError) clone() *ExecutionError {
	c := *e
	return &c
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	c := e.clone()
	c.Message = msg
	return c
}

// WithMessagef is WithMessage with fmt.Sprintf formatting.
func (e *ExecutionError) WithMessagef(format string, args ...interface{}) *ExecutionError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// WithDetails returns a copy of the error with additional details merged in.
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{}, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	c := e.clone()
	c.Details = merged
	return c
}

// Predefined errors. Compare with errors.Is.
var (
	ErrElementNotFound = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "element_not_found",
		Message:  "element not found",
	}
	ErrStaleElement = &ExecutionError{
		Category: ErrCategoryAssertion,
		Code:     "stale_element",
		Message:  "element is no longer attached to the widget tree",
	}

	ErrTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "timeout",
		Message:  "operation timed out",
	}
	ErrWaitTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "wait_timeout",
		Message:  "wait condition timed out",
	}

	ErrServerUnreachable = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "server_unreachable",
		Message:  "could not connect to automation server",
	}
	ErrSessionNotCreated = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "session_not_created",
		Message:  "session not created",
	}
	ErrRequestTimeout = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "request_timeout",
		Message:  "automation server did not respond in time",
	}
	ErrInvalidSession = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "invalid_session",
		Message:  "session does not exist or was deleted",
	}

	ErrCommandFailed = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "command_failed",
		Message:  "command failed",
	}
	ErrUnsupportedCommand = &ExecutionError{
		Category: ErrCategoryApp,
		Code:     "unsupported_command",
		Message:  "command is not supported by the driver",
	}

	ErrInvalidArgument = &ExecutionError{
		Category: ErrCategoryArgument,
		Code:     "invalid_argument",
		Message:  "invalid argument",
	}

	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
	ErrMissingRequired = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "missing_required",
		Message:  "missing required field",
	}
	ErrUnsupportedPlatform = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "unsupported_platform",
		Message:  "unsupported platformName",
	}
)

// w3cErrors maps W3C WebDriver error codes onto predefined errors.
var w3cErrors = map[string]*ExecutionError{
	"no such element":           ErrElementNotFound,
	"stale element reference":   ErrStaleElement,
	"timeout":                   ErrTimeout,
	"script timeout":            ErrTimeout,
	"session not created":       ErrSessionNotCreated,
	"invalid session id":        ErrInvalidSession,
	"invalid argument":          ErrInvalidArgument,
	"unknown command":           ErrUnsupportedCommand,
	"unknown method":            ErrUnsupportedCommand,
	"unsupported operation":     ErrUnsupportedCommand,
	"javascript error":          ErrCommandFailed,
	"unknown error":             ErrCommandFailed,
	"element not interactable":  ErrCommandFailed,
	"element click intercepted": ErrCommandFailed,
	"invalid element state":     ErrCommandFailed,
	"no such window":            ErrInvalidSession,
	"no such context":           ErrCommandFailed,
	"invalid selector":          ErrInvalidArgument,
	"move target out of bounds": ErrInvalidArgument,
	"unable to set cookie":      ErrCommandFailed,
	"unexpected alert open":     ErrCommandFailed,
	"no such alert":             ErrCommandFailed,
	"insecure certificate":      ErrServerUnreachable,
	"unable to capture screen":  ErrCommandFailed,
}

// FromW3C converts a W3C error code and message into an ExecutionError.
// Unknown codes become ErrCommandFailed. The raw code is kept in Details["w3c"].
func FromW3C(code, message string) *ExecutionError {
	base, ok := w3cErrors[strings.ToLower(code)]
	if !ok {
		base = ErrCommandFailed
	}
	msg := base.Message
	if message != "" {
		msg = fmt.Sprintf("%s: %s", code, message)
	}
	return base.WithMessage(msg).WithDetails(map[string]interface{}{"w3c": code})
}

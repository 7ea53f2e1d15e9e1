// Package tools implements the Tool Dispatcher (C4): classification of
// outbound tool calls into handoff / identity-verification / data, routing
// of data and IDV calls to external executors, and a per-session result
// cache for tools declared cacheable.
package tools

import "errors"

// ErrorKind enumerates the reasons a tool call did not succeed.
type ErrorKind string

const (
	ErrKindNetwork ErrorKind = "Network"
	ErrKindTimeout ErrorKind = "Timeout"
	ErrKindExecutor ErrorKind = "ExecutorError"
)

// Error is a structured tool failure. It preserves a causal chain via
// Cause so errors.Is/As keep working across retries, mirroring the
// teacher's toolerrors.ToolError (Message + Cause, Unwrap for the chain).
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// New constructs an Error with the given kind and message.
func New(kind ErrorKind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// NewWithCause constructs an Error wrapping an underlying error.
func NewWithCause(kind ErrorKind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/errors.As over the cause chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// AsError converts an arbitrary error into a *Error, classifying it as
// ExecutorError if it isn't already one.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: ErrKindExecutor, Message: err.Error(), Cause: err}
}

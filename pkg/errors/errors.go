// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors for the SoundScape agents, bus and runtime.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies errors for logging, metrics and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUnknownAddress indicates a message was sent to an address nobody registered.
	CodeUnknownAddress ErrorCode = "UNKNOWN_ADDRESS"

	// CodeDuplicateAddress indicates an address was registered twice on the same bus.
	CodeDuplicateAddress ErrorCode = "DUPLICATE_ADDRESS"

	// CodeMailboxFull indicates a bounded mailbox rejected a message.
	CodeMailboxFull ErrorCode = "MAILBOX_FULL"

	// CodeNoReply indicates a request/response exchange ended without a reply.
	CodeNoReply ErrorCode = "NO_REPLY"

	// CodeCollaboratorFailure indicates an external collaborator returned an error or nothing usable.
	CodeCollaboratorFailure ErrorCode = "COLLABORATOR_FAILURE"

	// CodeAggregationTimeout marks a cycle whose deadline elapsed with replies missing.
	CodeAggregationTimeout ErrorCode = "AGGREGATION_TIMEOUT"

	// CodeContentExtraction indicates the generated text lacked the content marker.
	CodeContentExtraction ErrorCode = "CONTENT_EXTRACTION_FAILURE"

	// CodeStartupFailure indicates an agent startup handler failed.
	CodeStartupFailure ErrorCode = "STARTUP_FAILURE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeContextLost indicates the context was canceled while waiting.
	CodeContextLost ErrorCode = "CONTEXT_LOST"
)

// Error is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]any),
		StatusCode: codeToStatusCode(code),
	}
}

// Newf creates an Error without a cause using a format string.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns err as *Error when one is in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Wrap converts any error into an *Error, keeping typed errors as they are.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err carries the given code anywhere in its chain,
// including causes of typed errors.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		e, ok := As(err)
		if !ok {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// CodeOf returns the code of err, or CodeInternal for untyped errors.
func CodeOf(err error) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// StatusCode returns the HTTP status for err: the typed status when set,
// 500 otherwise.
func StatusCode(err error) int {
	if e, ok := As(err); ok {
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		return codeToStatusCode(e.Code)
	}
	return http.StatusInternalServerError
}

// IsRecoverable reports whether err is typed and flagged recoverable.
func IsRecoverable(err error) bool {
	e, ok := As(err)
	return ok && e.Recoverable
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeUnknownAddress:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeDuplicateAddress:
		return http.StatusConflict
	case CodeMailboxFull:
		return http.StatusTooManyRequests
	case CodeTimeout, CodeNoReply, CodeAggregationTimeout:
		return http.StatusGatewayTimeout
	case CodeCollaboratorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

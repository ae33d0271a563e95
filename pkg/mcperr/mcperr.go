// Package mcperr defines the shared error taxonomy used across the
// protocol, transport, dispatcher, client and aggregator layers.
package mcperr

import "fmt"

// Code is a JSON-RPC-style error code. -32700 and -32600 through -32603
// are the standard JSON-RPC protocol codes; -32000 through -32005 are
// this project's extensions.
type Code int

// Well-known error codes. Values are fixed at the wire level and must be
// reproduced bit-exact by any client or server speaking this protocol.
const (
	ParseError     Code = -32700
	InvalidRequest Code = -32600
	MethodNotFound Code = -32601
	InvalidParams  Code = -32602
	InternalError  Code = -32603

	TransportError    Code = -32000
	ResourceNotFound  Code = -32001
	ToolNotFound      Code = -32002
	AuthFailure       Code = -32003
	Timeout           Code = -32004
	ConnectionFailed  Code = -32005
)

var codeNames = map[Code]string{
	ParseError:       "parse-error",
	InvalidRequest:   "invalid-request",
	MethodNotFound:   "method-not-found",
	InvalidParams:    "invalid-params",
	InternalError:    "internal-error",
	TransportError:   "transport-error",
	ResourceNotFound: "resource-not-found",
	ToolNotFound:     "tool-not-found",
	AuthFailure:      "auth-failure",
	Timeout:          "timeout",
	ConnectionFailed: "connection-failed",
}

// String returns the canonical lower-kebab name for the code, or a
// numeric fallback for an unrecognized value.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is the error type returned across every layer of this module.
// Message strings are not a stable API and must not be parsed by callers;
// only Code should be used for programmatic branching.
type Error struct {
	Code    Code
	Message string
	// Wrapped is the underlying cause, if any, for use with errors.Unwrap.
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Wrapped: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error,
// returning InternalError otherwise. Useful when a handler returns a
// plain error and the dispatcher needs a wire code to report.
func CodeOf(err error) Code {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return InternalError
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

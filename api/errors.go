// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-pipeline.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrDuplicateRegistration = errors.New("descriptor already registered")
	ErrNotRegistered         = errors.New("descriptor not registered")
	ErrDepthExceeded         = errors.New("pipeline depth exceeded")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrNotSupported          = errors.New("operation not supported")
	ErrClosed                = errors.New("resource is closed")
)

// ErrorCode classifies a failure by how far its damage may spread.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	// ErrCodeTransport covers accept/recv/send failures. Scoped to one connection.
	ErrCodeTransport
	// ErrCodeProtocolViolation is a client pipelining past the configured depth.
	ErrCodeProtocolViolation
	// ErrCodeConfiguration is a bind/listen/setup failure. Fatal at startup.
	ErrCodeConfiguration
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeTransport:
		return "transport"
	case ErrCodeProtocolViolation:
		return "protocol_violation"
	case ErrCodeConfiguration:
		return "configuration"
	default:
		return "internal"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal if err carries none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsConfiguration reports whether err is a startup configuration failure.
func IsConfiguration(err error) bool {
	return CodeOf(err) == ErrCodeConfiguration
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
)

// ClientError represents a failure to open a chat stream or reach the server.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by type so wrapped variants with a different
// message still satisfy errors.Is(err, ErrUnauthorized).
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Type != ErrTypeUnknown
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeRequest
	ErrTypeUnreachable
	ErrTypeTimeout
	ErrTypeCancelled
	ErrTypeUnauthorized
	ErrTypeNotFound
	ErrTypeRateLimited
	ErrTypeServer
	ErrTypeStatus
)

// String returns a short name for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeRequest:
		return "request"
	case ErrTypeUnreachable:
		return "unreachable"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeCancelled:
		return "cancelled"
	case ErrTypeUnauthorized:
		return "unauthorized"
	case ErrTypeNotFound:
		return "not_found"
	case ErrTypeRateLimited:
		return "rate_limited"
	case ErrTypeServer:
		return "server"
	case ErrTypeStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrUnreachable  = &ClientError{Type: ErrTypeUnreachable, Message: "server unreachable"}
	ErrTimeout      = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrCancelled    = &ClientError{Type: ErrTypeCancelled, Message: "request cancelled"}
	ErrUnauthorized = &ClientError{Type: ErrTypeUnauthorized, Message: "unauthorized"}
	ErrRateLimited  = &ClientError{Type: ErrTypeRateLimited, Message: "rate limited"}
)

// statusError builds the error for a non-2xx response. The server's message
// becomes the error text so callers can surface it verbatim.
func statusError(code int, status, body string) *ClientError {
	msg := body
	if msg == "" {
		msg = fmt.Sprintf("unexpected status: %s", status)
	}

	t := ErrTypeStatus
	switch {
	case code == 401 || code == 403:
		t = ErrTypeUnauthorized
	case code == 404:
		t = ErrTypeNotFound
	case code == 429:
		t = ErrTypeRateLimited
	case code >= 500:
		t = ErrTypeServer
	}
	return &ClientError{Type: t, Message: msg, StatusCode: code}
}

// IsUnauthorized checks if an error is an authentication failure.
func IsUnauthorized(err error) bool {
	return errorType(err) == ErrTypeUnauthorized
}

// IsUnreachable checks if an error indicates the server could not be reached.
func IsUnreachable(err error) bool {
	return errorType(err) == ErrTypeUnreachable
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errorType(err) == ErrTypeTimeout
}

// IsCancelled checks if the request was abandoned by the caller.
func IsCancelled(err error) bool {
	return errorType(err) == ErrTypeCancelled
}

func errorType(err error) ErrorType {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	return ErrTypeUnknown
}

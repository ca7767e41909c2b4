// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/rigrun-desk/internal/config"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/turn"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates the server rejected the credentials
	ExitAuthError = 4
	// ExitNetworkError indicates the server could not be reached
	ExitNetworkError = 5
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
	// ExitCancelled indicates the user interrupted a turn
	ExitCancelled = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ExitError carries an explicit exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// UsageError reports invalid arguments.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return e.Reason + "\nExample: " + e.Example
	}
	return e.Reason
}

// TurnError reports a turn that did not complete.
type TurnError struct {
	Result turn.Result
}

func (e *TurnError) Error() string {
	if e.Result.Error != "" {
		return fmt.Sprintf("reply %s: %s", e.Result.Status, e.Result.Error)
	}
	return "reply " + e.Result.Status.String()
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// ExitCodeFor maps an error returned by a command to a process exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var invalid config.ValidateErrors
	if errors.As(err, &invalid) || errors.Is(err, config.ErrNoConfig) {
		return ExitConfigError
	}

	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return turnExitCode(turnErr.Result)
	}

	switch {
	case transport.IsUnauthorized(err):
		return ExitAuthError
	case transport.IsUnreachable(err):
		return ExitNetworkError
	case transport.IsTimeout(err):
		return ExitTimeoutError
	case transport.IsCancelled(err):
		return ExitCancelled
	}
	return ExitGeneralError
}

// turnExitCode classifies a turn by its status, using the transport error
// when the stream could not be opened.
func turnExitCode(r turn.Result) int {
	switch r.Status {
	case turn.StatusCancelled:
		if r.Error == turn.ReasonIdleTimeout {
			return ExitTimeoutError
		}
		return ExitCancelled
	case turn.StatusFailed:
		if r.Cause != nil {
			return ExitCodeFor(r.Cause)
		}
	}
	return ExitGeneralError
}

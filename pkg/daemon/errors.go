// Package daemon owns the process lifecycle: single-instance pid
// file, startup and shutdown sequencing, crash recovery, and the
// reconnect policy for account connections.
package daemon

import (
	"errors"
	"fmt"
)

// ErrorCode is the daemon's error taxonomy. Codes surface in JSON
// error envelopes and map to process exit codes.
type ErrorCode string

const (
	CodeGeneral               ErrorCode = "GENERAL"
	CodeAuthRequired          ErrorCode = "AUTH_REQUIRED"
	CodeInvalidArgs           ErrorCode = "INVALID_ARGS"
	CodeNetwork               ErrorCode = "NETWORK"
	CodeRemoteAPI             ErrorCode = "REMOTE_API"
	CodeRateLimited           ErrorCode = "RATE_LIMITED"
	CodeAccountNotFound       ErrorCode = "ACCOUNT_NOT_FOUND"
	CodeNoActiveAccount       ErrorCode = "NO_ACTIVE_ACCOUNT"
	CodeSessionPasswordNeeded ErrorCode = "SESSION_PASSWORD_NEEDED"
	CodeDaemonNotRunning      ErrorCode = "DAEMON_NOT_RUNNING"
	CodeDaemonAlreadyRunning  ErrorCode = "DAEMON_ALREADY_RUNNING"
	CodeDaemonSignalFailed    ErrorCode = "DAEMON_SIGNAL_FAILED"
	CodeDaemonShutdownTimeout ErrorCode = "DAEMON_SHUTDOWN_TIMEOUT"
	CodeDaemonForceKillFailed ErrorCode = "DAEMON_FORCE_KILL_FAILED"
	CodeSQLWriteNotAllowed    ErrorCode = "SQL_WRITE_NOT_ALLOWED"
	CodeSQLSyntaxError        ErrorCode = "SQL_SYNTAX_ERROR"
	CodeSQLTableNotFound      ErrorCode = "SQL_TABLE_NOT_FOUND"
	CodeSQLOperationBlocked   ErrorCode = "SQL_OPERATION_BLOCKED"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitGeneral         = 1
	ExitAuthRequired    = 2
	ExitInvalidArgs     = 3
	ExitNetwork         = 4
	ExitRemoteAPI       = 5
	ExitAccountNotFound = 6
)

// Error is a taxonomy-coded daemon error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Err     error     `json:"-"`
}

// Error returns the formatted error message.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a coded error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a coded error around a cause.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ExitCode maps an error to the process exit code. Nil maps to 0,
// untyped errors to 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var de *Error
	if !errors.As(err, &de) {
		return ExitGeneral
	}
	switch de.Code {
	case CodeAuthRequired, CodeSessionPasswordNeeded:
		return ExitAuthRequired
	case CodeInvalidArgs:
		return ExitInvalidArgs
	case CodeNetwork:
		return ExitNetwork
	case CodeRemoteAPI, CodeRateLimited:
		return ExitRemoteAPI
	case CodeAccountNotFound, CodeNoActiveAccount:
		return ExitAccountNotFound
	default:
		return ExitGeneral
	}
}

// Package errors provides structured error handling for tool invocations.
// It defines typed error values so retry and circuit logic can branch on
// error kind rather than on string matching or generic exception catching.
package errors

import (
	"fmt"
	"time"
)

// Category classifies an error for handling decisions.
type Category string

const (
	CategoryConnection Category = "connection"
	CategoryTimeout    Category = "timeout"
	CategoryCircuit    Category = "circuit"
	CategoryPool       Category = "pool"
	CategoryExecution  Category = "execution"
	CategoryValidation Category = "validation"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where an error occurred.
type Context struct {
	Server    string    `json:"server,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error is the structured error returned by every toolmesh operation.
type Error struct {
	code      int
	message   string
	category  Category
	severity  Severity
	retryable bool
	context   *Context
	cause     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", CodeName(e.code), e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", CodeName(e.code), e.message)
}

// Code returns the stable error code.
func (e *Error) Code() int { return e.code }

// Category returns the error category.
func (e *Error) Category() Category { return e.category }

// Severity returns the error severity.
func (e *Error) Severity() Severity { return e.severity }

// Retryable reports whether the failure is safe to retry.
func (e *Error) Retryable() bool { return e.retryable }

// Context returns the invocation context, which may be nil.
func (e *Error) Context() *Context { return e.context }

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error { return e.cause }

// WithContext returns a copy of the error carrying invocation context.
func (e *Error) WithContext(server, tool string, attempt int) *Error {
	dup := *e
	dup.context = &Context{
		Server:    server,
		Tool:      tool,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	return &dup
}

// NewConnectionError reports a failure to reach or keep a backend connection.
func NewConnectionError(msg string, cause error) *Error {
	return &Error{
		code:      CodeConnectionFailed,
		message:   msg,
		category:  CategoryConnection,
		severity:  SeverityError,
		retryable: true,
		cause:     cause,
	}
}

// NewConnectionLostError reports a connection that dropped mid-call.
func NewConnectionLostError(cause error) *Error {
	return &Error{
		code:      CodeConnectionLost,
		message:   "connection lost during call",
		category:  CategoryConnection,
		severity:  SeverityError,
		retryable: true,
		cause:     cause,
	}
}

// NewConnectionRefusedError reports a backend that refused the connection.
func NewConnectionRefusedError(cause error) *Error {
	return &Error{
		code:      CodeConnectionRefused,
		message:   "connection refused by backend",
		category:  CategoryConnection,
		severity:  SeverityError,
		retryable: true,
		cause:     cause,
	}
}

// NewTimeoutError reports a tool call that exceeded its deadline.
func NewTimeoutError(msg string, cause error) *Error {
	return &Error{
		code:      CodeCallTimeout,
		message:   msg,
		category:  CategoryTimeout,
		severity:  SeverityWarning,
		retryable: true,
		cause:     cause,
	}
}

// NewCircuitOpenError reports a call rejected by an open circuit breaker.
// It is never retried; callers should back off or fail over.
func NewCircuitOpenError(server string) *Error {
	return &Error{
		code:      CodeCircuitOpen,
		message:   fmt.Sprintf("circuit breaker open for server %q", server),
		category:  CategoryCircuit,
		severity:  SeverityWarning,
		retryable: false,
	}
}

// NewPoolExhaustedError reports that no connection became available within
// the acquisition wait bound.
func NewPoolExhaustedError(server string) *Error {
	return &Error{
		code:      CodePoolExhausted,
		message:   fmt.Sprintf("connection pool exhausted for server %q", server),
		category:  CategoryPool,
		severity:  SeverityWarning,
		retryable: false,
	}
}

// NewPoolShutdownError reports an acquisition against a shut-down pool.
func NewPoolShutdownError() *Error {
	return &Error{
		code:     CodePoolShutdown,
		message:  "connection pool is shut down",
		category: CategoryPool,
		severity: SeverityError,
	}
}

// NewAcquireTimeoutError reports a pool acquisition abandoned because the
// caller's context ended while waiting for capacity.
func NewAcquireTimeoutError(cause error) *Error {
	return &Error{
		code:     CodeAcquireTimeout,
		message:  "connection acquisition cancelled",
		category: CategoryTimeout,
		severity: SeverityWarning,
		cause:    cause,
	}
}

// NewServerUnknownError reports an operation against an unregistered server.
func NewServerUnknownError(server string) *Error {
	return &Error{
		code:      CodeServerUnknown,
		message:   fmt.Sprintf("server %q is not registered", server),
		category:  CategoryValidation,
		severity:  SeverityError,
		retryable: false,
	}
}

// NewEstablishError reports a connector failure while dialing a backend.
func NewEstablishError(server string, cause error) *Error {
	return &Error{
		code:      CodeEstablishFailure,
		message:   fmt.Sprintf("failed to establish connection to %q", server),
		category:  CategoryConnection,
		severity:  SeverityError,
		retryable: true,
		cause:     cause,
	}
}

// NewToolExecutionError reports an application-level failure from the
// backend. transient controls whether the client may retry it.
func NewToolExecutionError(msg string, transient bool, cause error) *Error {
	code := CodeToolFailed
	if transient {
		code = CodeToolTransient
	}
	return &Error{
		code:      code,
		message:   msg,
		category:  CategoryExecution,
		severity:  SeverityError,
		retryable: transient,
		cause:     cause,
	}
}

// NewInvalidArgumentError reports caller misuse.
func NewInvalidArgumentError(msg string) *Error {
	return &Error{
		code:     CodeInvalidArgument,
		message:  msg,
		category: CategoryValidation,
		severity: SeverityError,
	}
}

// IsRetryable reports whether err is a toolmesh error marked retryable.
// Unknown error types default to retryable, matching the conservative
// treatment of unclassified transport failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.retryable
	}
	return true
}

// IsCategory reports whether err is a toolmesh error of the given category.
func IsCategory(err error, category Category) bool {
	if e, ok := err.(*Error); ok {
		return e.category == category
	}
	return false
}

// CodeOf returns the code of a toolmesh error, or 0 for foreign errors.
func CodeOf(err error) int {
	if e, ok := err.(*Error); ok {
		return e.code
	}
	return 0
}

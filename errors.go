package oxy

import (
	"fmt"
	"time"
)

// ErrConfiguration reports a registry misconfiguration: an unknown
// callee, a duplicate registration, or a missing required field.
type ErrConfiguration struct {
	Component string
	Message   string
}

func (e *ErrConfiguration) Error() string {
	if e.Component == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %s", e.Component, e.Message)
}

// ErrPermission reports an ACL failure: the caller is not allowed to
// invoke the callee.
type ErrPermission struct {
	Caller string
	Callee string
}

func (e *ErrPermission) Error() string {
	return fmt.Sprintf("permission denied: %s may not call %s", e.Caller, e.Callee)
}

// ErrSemaphoreTimeout reports that admission control waited longer than
// the configured limit for a component permit.
type ErrSemaphoreTimeout struct {
	Component string
	Waited    time.Duration
}

func (e *ErrSemaphoreTimeout) Error() string {
	return fmt.Sprintf("semaphore timeout: %s after %s", e.Component, e.Waited)
}

// ErrExecutionTimeout reports that a component exceeded its allotted
// execution time.
type ErrExecutionTimeout struct {
	Component string
	Limit     time.Duration
}

func (e *ErrExecutionTimeout) Error() string {
	return fmt.Sprintf("execution timeout: %s after %s", e.Component, e.Limit)
}

// ErrTransport reports a connection or stream failure. Transport errors
// are the only retryable kind, and only at the transport adapter.
// Status carries the HTTP status code when one was received; zero
// means the connection itself failed.
type ErrTransport struct {
	Endpoint string
	Status   int
	Attempts int
	Message  string
}

func (e *ErrTransport) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("transport: %s after %d attempts: %s", e.Endpoint, e.Attempts, e.Message)
	}
	return fmt.Sprintf("transport: %s: %s", e.Endpoint, e.Message)
}

// ErrToolInvocation reports that a registered function returned an
// error or panicked.
type ErrToolInvocation struct {
	Tool    string
	Message string
}

func (e *ErrToolInvocation) Error() string {
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

// ErrParse reports a malformed JSON or event payload. Parse errors are
// non-fatal: stream readers skip the offending payload.
type ErrParse struct {
	Input   string
	Message string
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("parse: %s (input %q)", e.Message, truncate(e.Input, 80))
}

// truncate shortens s to at most n characters for log and error output.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

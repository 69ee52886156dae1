package harness

import "fmt"

// CommandInvocationError reports a failed spawn, or a background launcher
// that exited unsuccessfully. Fatal to the caller of Start.
type CommandInvocationError struct {
	Cmd string
	Err error
}

func (e *CommandInvocationError) Error() string {
	return fmt.Sprintf("harness: invoking command %q: %v", e.Cmd, e.Err)
}

func (e *CommandInvocationError) Unwrap() error {
	return e.Err
}

// ServerNotStartedError reports that the server process or container died
// before readiness was confirmed.
type ServerNotStartedError struct {
	Reason string
}

func (e *ServerNotStartedError) Error() string {
	return "harness: server not started: " + e.Reason
}

// FrameworkRuntimeError is the degraded-but-handled outcome: the escalation
// had to force-kill the server, or readiness timed out and the controller
// already cleaned up. Callers that treat forced kills as a test-infra bug
// can check for it.
type FrameworkRuntimeError struct {
	Reason string
}

func (e *FrameworkRuntimeError) Error() string {
	return "harness: " + e.Reason
}

// UnsupportedOperationError marks a control method that the controller
// variant does not implement, such as any lifecycle method on an external
// server or Restart on a plain process.
type UnsupportedOperationError struct {
	Op string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("harness: operation %q is not supported by this server variant", e.Op)
}

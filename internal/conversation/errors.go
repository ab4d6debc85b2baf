package conversation

import (
	"errors"
	"fmt"

	"github.com/nugget/gitbot/internal/assistant"
)

// ErrNoFunction is returned when a run requires action but carries no
// function tool calls to answer.
var ErrNoFunction = errors.New("conversation: run requires action but has no function calls")

// AlreadyRunningError means the thread has a run that has not reached
// a terminal state. The turn is skipped without posting.
type AlreadyRunningError struct {
	ThreadID string
	RunID    string
	Status   assistant.RunStatus
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("thread %s already has run %s (%s)", e.ThreadID, e.RunID, e.Status)
}

// AppendConflictError means the backend refused the user message
// because a run was active. The run has been cancelled; CancelErr is
// set when that cancel failed too.
type AppendConflictError struct {
	ThreadID  string
	RunID     string
	Err       error
	CancelErr error
}

func (e *AppendConflictError) Error() string {
	if e.CancelErr != nil {
		return fmt.Sprintf("append to thread %s blocked by run %s (cancel failed: %v): %v", e.ThreadID, e.RunID, e.CancelErr, e.Err)
	}
	return fmt.Sprintf("append to thread %s blocked by run %s, run cancelled: %v", e.ThreadID, e.RunID, e.Err)
}

func (e *AppendConflictError) Unwrap() error { return e.Err }

// RunTerminalError means the run ended without completing.
type RunTerminalError struct {
	RunID     string
	Status    assistant.RunStatus
	LastError string
}

func (e *RunTerminalError) Error() string {
	if e.LastError != "" {
		return fmt.Sprintf("run %s %s: %s", e.RunID, e.Status, e.LastError)
	}
	return fmt.Sprintf("run %s %s", e.RunID, e.Status)
}

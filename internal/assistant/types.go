// Package assistant talks to the OpenAI Assistants API: it resolves the
// bot's persona, manages threads and runs, and reads replies back.
package assistant

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the backend reports that an assistant,
// thread or run does not exist.
var ErrNotFound = errors.New("assistant: not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunIncomplete     RunStatus = "incomplete"
)

// Active reports whether a run in this state still owns its thread.
// Unknown states count as active so a new backend state never lets
// two runs overlap.
func (s RunStatus) Active() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete:
		return false
	}
	return true
}

// Persona is the configured assistant.
type Persona struct {
	ID    string
	Name  string
	Model string
}

// PersonaSpec describes an assistant to create.
type PersonaSpec struct {
	Name            string
	Instructions    string
	Model           string
	Functions       []FunctionSpec
	CodeInterpreter bool
}

// FunctionSpec is a callable function advertised to the assistant.
// Parameters is a JSON Schema object.
type FunctionSpec struct {
	Name        string
	Description string
	Parameters  any
}

// SeedMessage is a prior chat message copied into a new thread.
type SeedMessage struct {
	Role    string
	Content string
}

// Run is a snapshot of one assistant run.
type Run struct {
	ID        string
	ThreadID  string
	Status    RunStatus
	ToolCalls []ToolCall // pending calls when Status is requires_action
	LastError string
}

// ToolCall is one function invocation requested by a run.
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

// ToolOutput answers a ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Content types found in thread messages.
const (
	ContentText      = "text"
	ContentImageFile = "image_file"
)

// Message is a thread message.
type Message struct {
	ID      string
	Role    string
	Content []Content
}

// Content is one item of a message body.
type Content struct {
	Type        string
	Text        string // set for ContentText
	ImageFileID string // set for ContentImageFile
}

// ActiveRunError is returned by AppendMessage when the thread already
// has a run in progress.
type ActiveRunError struct {
	RunID string
	Err   error
}

func (e *ActiveRunError) Error() string {
	return fmt.Sprintf("run %s is active: %v", e.RunID, e.Err)
}

func (e *ActiveRunError) Unwrap() error { return e.Err }

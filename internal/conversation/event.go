// Package conversation turns one Slack mention into one assistant turn:
// it binds the chat thread to an assistant thread, drives the run to a
// terminal state while executing requested tools, and posts the reply.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/slack-go/slack"

	"github.com/nugget/gitbot/internal/assistant"
	"github.com/nugget/gitbot/internal/chat"
)

// Event is an inbound mention.
type Event struct {
	Text            string `json:"text"`
	ThreadBroadcast bool   `json:"threadBroadcast"`
	Channel         string `json:"channel"`
	TS              string `json:"ts"`
	ThreadTS        string `json:"threadTs,omitempty"`
}

// Key returns the conversation key: the thread root when the mention
// is a reply, otherwise the mention itself.
func (e Event) Key() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// InThread reports whether the mention was posted as a thread reply.
func (e Event) InThread() bool {
	return e.ThreadTS != ""
}

// Validate checks the fields every turn needs.
func (e Event) Validate() error {
	if e.Channel == "" {
		return errors.New("event: channel is required")
	}
	if e.TS == "" {
		return errors.New("event: ts is required")
	}
	return nil
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	// OutcomeReplied means the assistant's reply was posted.
	OutcomeReplied Outcome = "replied"
	// OutcomeNoReply means the run completed without any reply content.
	OutcomeNoReply Outcome = "no_reply"
	// OutcomeAlreadyRunning means another turn owns the thread; nothing
	// was posted.
	OutcomeAlreadyRunning Outcome = "already_running"
	// OutcomeFailed means the turn failed and the apology was posted
	// when possible.
	OutcomeFailed Outcome = "failed"
)

// Chat is the Slack side of a turn.
type Chat interface {
	PostMessage(ctx context.Context, p chat.Post) (string, error)
	ThreadReplies(ctx context.Context, channel, threadTS, latest string) ([]slack.Message, error)
	ChannelHistory(ctx context.Context, channel string, limit int) ([]slack.Message, error)
}

// Backend is the assistant thread and run API.
type Backend interface {
	CreateThread(ctx context.Context, seed []assistant.SeedMessage) (string, error)
	AppendMessage(ctx context.Context, threadID, text string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (assistant.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (assistant.Run, error)
	ListRuns(ctx context.Context, threadID string) ([]assistant.Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []assistant.ToolOutput) error
	ListMessages(ctx context.Context, threadID string) ([]assistant.Message, error)
}

// ToolRunner executes a named tool with raw JSON arguments.
type ToolRunner interface {
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// PersonaResolver returns the assistant every run is started with.
type PersonaResolver interface {
	Resolve(ctx context.Context) (assistant.Persona, error)
}

// Registry maps conversation keys to assistant thread ids.
type Registry interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Create(ctx context.Context, key, threadID string, ttl time.Duration) error
}

// Package remote defines the conversation backend collaborator: assistants,
// threads, runs, and the tool-call handshake. The concrete OpenAI client
// lives next to it; the orchestration layer depends only on the interface so
// tests can substitute a fake.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrActiveRun marks the remote conflict raised when a thread already has a
// non-terminal run. The driver cancels stale runs and re-surfaces the error.
var ErrActiveRun = errors.New("remote: thread has an active run")

type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// Terminal reports whether the run has stopped progressing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// ToolDefinition is one function tool exposed to the assistant. Parameters
// is a JSON-schema object; nil means the tool takes no arguments.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a pending invocation the run is waiting on.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput answers one ToolCall, keyed by its id.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

type Run struct {
	ID               string
	ThreadID         string
	Status           RunStatus
	PendingToolCalls []ToolCall
	LastError        string
}

type Message struct {
	ID   string
	Role string
	Text string
}

type Client interface {
	CreateAssistant(ctx context.Context, name, model, instructions string, tools []ToolDefinition) (string, error)
	UpdateAssistant(ctx context.Context, assistantID, instructions string) error
	CreateThread(ctx context.Context) (string, error)
	PostMessage(ctx context.Context, threadID, role, content string) error
	StartRun(ctx context.Context, threadID, assistantID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	ListRuns(ctx context.Context, threadID string) ([]Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
}

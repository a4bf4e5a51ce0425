package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nudge/app/core/orchestrator/user"
	"nudge/app/core/remote"
	"nudge/app/pkg/logger"
)

var (
	// ErrTurnTimeout is returned when the remote run stays non-terminal past
	// the polling bound. It is never silently treated as completion.
	ErrTurnTimeout = errors.New("assistant: run polling timed out")
	// ErrEmptyMessage rejects turns with no message text.
	ErrEmptyMessage = errors.New("assistant: message text is required")
)

// RunFailedError reports a run that reached a terminal failure state.
type RunFailedError struct {
	Status  remote.RunStatus
	Message string
}

func (e *RunFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("assistant: run %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("assistant: run %s", e.Status)
}

// Driver owns one conversational turn end to end: session bootstrap, message
// append, run polling, tool dispatch, and final reply resolution. Turns for
// the same user are serialized with a per-user mutex; the remote API's
// active-run conflict is a recovery path, not the arbiter.
type Driver struct {
	remote     remote.Client
	users      *user.Store
	dispatcher *Dispatcher

	assistantName   string
	model           string
	pollInterval    time.Duration
	maxPollAttempts int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

type DriverOptions struct {
	AssistantName   string
	Model           string
	PollInterval    time.Duration
	MaxPollAttempts int
}

func NewDriver(client remote.Client, users *user.Store, dispatcher *Dispatcher, opts DriverOptions) *Driver {
	if opts.AssistantName == "" {
		opts.AssistantName = "Nudge"
	}
	if opts.Model == "" {
		opts.Model = "gpt-4o"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxPollAttempts <= 0 {
		opts.MaxPollAttempts = 120
	}
	return &Driver{
		remote:          client,
		users:           users,
		dispatcher:      dispatcher,
		assistantName:   opts.AssistantName,
		model:           opts.Model,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
		locks:           make(map[int64]*sync.Mutex),
	}
}

// RunTurn submits one user message and drives the remote run to completion,
// returning the assistant's reply text.
func (d *Driver) RunTurn(ctx context.Context, userID int64, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	lock := d.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	turnID := uuid.NewString()

	u, err := d.ensureSession(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := d.remote.PostMessage(ctx, u.ThreadID, "user", message); err != nil {
		return "", d.recoverActiveRun(ctx, u.ThreadID, err)
	}

	run, err := d.remote.StartRun(ctx, u.ThreadID, u.AssistantID)
	if err != nil {
		return "", d.recoverActiveRun(ctx, u.ThreadID, err)
	}
	logger.Info("Turn %s: run %s started for user %d", turnID, run.ID, userID)

	for attempt := 0; attempt < d.maxPollAttempts; attempt++ {
		switch run.Status {
		case remote.RunStatusRequiresAction:
			outputs := d.dispatcher.Execute(ctx, userID, run.PendingToolCalls)
			if err := d.remote.SubmitToolOutputs(ctx, u.ThreadID, run.ID, outputs); err != nil {
				return "", err
			}
		case remote.RunStatusCompleted:
			return d.latestAssistantText(ctx, u.ThreadID)
		case remote.RunStatusFailed, remote.RunStatusCancelled, remote.RunStatusExpired:
			return "", &RunFailedError{Status: run.Status, Message: run.LastError}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d.pollInterval):
		}

		run, err = d.remote.GetRun(ctx, u.ThreadID, run.ID)
		if err != nil {
			return "", err
		}
	}

	logger.Error("Turn %s: run %s for user %d exceeded %d poll attempts", turnID, run.ID, userID, d.maxPollAttempts)
	return "", fmt.Errorf("%w: run %s still %s after %d attempts", ErrTurnTimeout, run.ID, run.Status, d.maxPollAttempts)
}

// ensureSession makes sure the user carries a usable (assistant, thread)
// pair: both are created together on first contact, and a missing thread is
// replaced on an existing assistant.
func (d *Driver) ensureSession(ctx context.Context, userID int64) (user.User, error) {
	u, err := d.users.Get(ctx, userID)
	if err != nil {
		return user.User{}, err
	}

	if u.AssistantID == "" {
		instructions, err := d.compileInstructions(ctx, u)
		if err != nil {
			return user.User{}, err
		}
		assistantID, err := d.remote.CreateAssistant(ctx, d.assistantNameFor(u), d.model, instructions, ToolDefinitions())
		if err != nil {
			return user.User{}, err
		}
		threadID, err := d.remote.CreateThread(ctx)
		if err != nil {
			return user.User{}, err
		}
		if err := d.users.SetSession(ctx, userID, assistantID, threadID); err != nil {
			return user.User{}, err
		}
		u.AssistantID = assistantID
		u.ThreadID = threadID
		logger.Info("Created session for user %d: assistant %s, thread %s", userID, assistantID, threadID)
		return u, nil
	}

	if u.ThreadID == "" {
		threadID, err := d.remote.CreateThread(ctx)
		if err != nil {
			return user.User{}, err
		}
		if err := d.users.SetThread(ctx, userID, threadID); err != nil {
			return user.User{}, err
		}
		u.ThreadID = threadID
		logger.Info("Created new thread %s for user %d", threadID, userID)
	}
	return u, nil
}

// RecompileInstructions re-renders the user's instructions and pushes them to
// the remote assistant identity. Called after stage changes and preference
// edits; a no-op for users without a session yet.
func (d *Driver) RecompileInstructions(ctx context.Context, u user.User) error {
	if u.AssistantID == "" {
		return nil
	}
	instructions, err := d.compileInstructions(ctx, u)
	if err != nil {
		return err
	}
	return d.remote.UpdateAssistant(ctx, u.AssistantID, instructions)
}

func (d *Driver) compileInstructions(ctx context.Context, u user.User) (string, error) {
	cfg, err := d.users.GetVoiceConfig(ctx, u.ID)
	if err != nil {
		return "", err
	}
	return RenderInstructions(cfg, u.Stage), nil
}

func (d *Driver) assistantNameFor(u user.User) string {
	name := strings.TrimSpace(u.FirstName)
	if name == "" {
		return d.assistantName
	}
	return fmt.Sprintf("%s's %s", name, d.assistantName)
}

// recoverActiveRun handles the remote "active run" conflict: cancel every
// non-terminal run on the thread so the next turn can proceed, then
// propagate the original error for the caller to decide on a retry.
func (d *Driver) recoverActiveRun(ctx context.Context, threadID string, cause error) error {
	if !errors.Is(cause, remote.ErrActiveRun) {
		return cause
	}

	runs, err := d.remote.ListRuns(ctx, threadID)
	if err != nil {
		logger.Error("Failed to list runs on thread %s: %v", threadID, err)
		return cause
	}
	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		if err := d.remote.CancelRun(ctx, threadID, run.ID); err != nil {
			logger.Error("Failed to cancel run %s on thread %s: %v", run.ID, threadID, err)
			continue
		}
		logger.Info("Cancelled stale run %s on thread %s", run.ID, threadID)
	}
	return cause
}

func (d *Driver) latestAssistantText(ctx context.Context, threadID string) (string, error) {
	messages, err := d.remote.ListMessages(ctx, threadID)
	if err != nil {
		return "", err
	}
	// messages arrive newest-first
	for _, msg := range messages {
		if msg.Role == "assistant" {
			return msg.Text, nil
		}
	}
	return "", errors.New("assistant: completed run produced no assistant message")
}

func (d *Driver) userLock(userID int64) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	lock, ok := d.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[userID] = lock
	}
	return lock
}

package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
	"nudge/app/core/orchestrator/user"
	"nudge/app/core/remote"
	"nudge/app/core/ttm"
	"nudge/app/pkg/logger"
)

// StageChangeHook is invoked after update_user_ttm_stage persists a new
// stage, so the compiled assistant instructions can be re-rendered and
// pushed to the remote identity.
type StageChangeHook func(ctx context.Context, u user.User) error

type toolHandler func(ctx context.Context, u user.User, args []byte) (interface{}, error)

// Dispatcher executes the assistant's pending tool calls against the task
// store and notification ledger. Each call is decoded into its typed
// argument struct, validated, executed, and answered in its own output slot;
// one malformed call never aborts its siblings.
type Dispatcher struct {
	tasks         *task.Store
	notifications *notification.Ledger
	users         *user.Store
	onStageChange StageChangeHook
	handlers      map[string]toolHandler
}

func NewDispatcher(tasks *task.Store, notifications *notification.Ledger, users *user.Store, onStageChange StageChangeHook) *Dispatcher {
	d := &Dispatcher{
		tasks:         tasks,
		notifications: notifications,
		users:         users,
		onStageChange: onStageChange,
	}
	d.handlers = map[string]toolHandler{
		ToolAddTask:             d.addTask,
		ToolAddDecomposedTask:   d.addDecomposedTask,
		ToolGetTasks:            d.getTasks,
		ToolCheckDueDateTasks:   d.checkDueDateTasks,
		ToolCreateNotifications: d.createNotifications,
		ToolUpdateUserTTMStage:  d.updateUserTTMStage,
		ToolGetCurrentDateTime:  d.getCurrentDateTime,
	}
	return d
}

// Execute runs every pending call and returns one output per call, keyed by
// the call's id.
func (d *Dispatcher) Execute(ctx context.Context, userID int64, calls []remote.ToolCall) []remote.ToolOutput {
	outputs := make([]remote.ToolOutput, 0, len(calls))

	u, err := d.users.Get(ctx, userID)
	if err != nil {
		for _, call := range calls {
			outputs = append(outputs, errorOutput(call.ID, fmt.Errorf("load user: %w", err)))
		}
		return outputs
	}

	for _, call := range calls {
		handler, ok := d.handlers[call.Name]
		if !ok {
			outputs = append(outputs, errorOutput(call.ID, fmt.Errorf("unknown tool: %s", call.Name)))
			continue
		}
		result, err := handler(ctx, u, []byte(call.Arguments))
		if err != nil {
			logger.Error("Tool %s failed for user %d: %v", call.Name, userID, err)
			outputs = append(outputs, errorOutput(call.ID, err))
			continue
		}
		outputs = append(outputs, successOutput(call.ID, result))
	}
	return outputs
}

type addTaskArgs struct {
	Task        string `json:"task"`
	Description string `json:"description"`
	DueDate     string `json:"due_date"`
}

func (d *Dispatcher) addTask(ctx context.Context, u user.User, args []byte) (interface{}, error) {
	var parsed addTaskArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("invalid add_task arguments: %w", err)
	}
	if strings.TrimSpace(parsed.Task) == "" {
		return nil, errors.New("add_task: task is required")
	}

	dueAt, err := parseDueDate(parsed.DueDate, u.Location())
	if err != nil {
		return nil, fmt.Errorf("add_task: %w", err)
	}

	created, err := d.tasks.Create(ctx, u.ID, parsed.Task, parsed.Description, dueAt)
	if err != nil {
		return nil, err
	}
	return struct {
		Task taskView `json:"task"`
	}{Task: newTaskView(created, u.Location())}, nil
}

type addDecomposedTaskArgs struct {
	MainTask string   `json:"main_task"`
	Subtasks []string `json:"subtasks"`
}

func (d *Dispatcher) addDecomposedTask(ctx context.Context, u user.User, args []byte) (interface{}, error) {
	var parsed addDecomposedTaskArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("invalid add_decomposed_task arguments: %w", err)
	}
	if strings.TrimSpace(parsed.MainTask) == "" {
		return nil, errors.New("add_decomposed_task: main_task is required")
	}
	if len(parsed.Subtasks) == 0 {
		return nil, errors.New("add_decomposed_task: subtasks must not be empty")
	}

	created, err := d.tasks.CreateDecomposed(ctx, u.ID, parsed.MainTask, parsed.Subtasks)
	if err != nil {
		return nil, err
	}
	return struct {
		MainTask taskView      `json:"main_task"`
		Subtasks []subtaskView `json:"subtasks"`
	}{
		MainTask: newTaskView(created, u.Location()),
		Subtasks: newSubtaskViews(created.Subtasks, u.Location()),
	}, nil
}

type getTasksArgs struct {
	IncludeCompleted bool `json:"include_completed"`
}

func (d *Dispatcher) getTasks(ctx context.Context, u user.User, args []byte) (interface{}, error) {
	var parsed getTasksArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("invalid get_tasks arguments: %w", err)
		}
	}

	tasks, err := d.tasks.List(ctx, u.ID, parsed.IncludeCompleted)
	if err != nil {
		return nil, err
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, newTaskView(t, u.Location()))
	}
	return struct {
		Tasks []taskView `json:"tasks"`
	}{Tasks: views}, nil
}

func (d *Dispatcher) checkDueDateTasks(ctx context.Context, u user.User, _ []byte) (interface{}, error) {
	tasks, err := d.tasks.ListIncomplete(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	views := make([]dueTaskView, 0, len(tasks))
	for _, t := range tasks {
		history, err := d.notifications.ListForTask(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, dueTaskView{
			taskView:        newTaskView(t, u.Location()),
			YouHaveReminded: len(history),
			ReminderHistory: newNotificationViews(history, u.Location()),
		})
	}
	return struct {
		Tasks []dueTaskView `json:"tasks"`
	}{Tasks: views}, nil
}

type createNotificationsArgs struct {
	TaskIDs []int64 `json:"task_ids"`
}

func (d *Dispatcher) createNotifications(ctx context.Context, u user.User, args []byte) (interface{}, error) {
	var parsed createNotificationsArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("invalid create_notifications arguments: %w", err)
	}

	created := make([]createdNotificationView, 0, len(parsed.TaskIDs))
	for _, taskID := range parsed.TaskIDs {
		n, err := d.notifications.Append(ctx, u.ID, taskID)
		if errors.Is(err, notification.ErrTaskNotFound) {
			// unknown or foreign ids are skipped, partial success is expected
			continue
		}
		if err != nil {
			return nil, err
		}
		created = append(created, createdNotificationView{
			TaskID:        n.MainTaskID,
			ReminderCount: n.ReminderCount,
		})
	}
	return struct {
		CreatedNotifications []createdNotificationView `json:"created_notifications"`
	}{CreatedNotifications: created}, nil
}

type updateUserTTMStageArgs struct {
	TTMStage string `json:"ttm_stage"`
}

func (d *Dispatcher) updateUserTTMStage(ctx context.Context, u user.User, args []byte) (interface{}, error) {
	var parsed updateUserTTMStageArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Errorf("invalid update_user_ttm_stage arguments: %w", err)
	}
	stage, err := ttm.Parse(parsed.TTMStage)
	if err != nil {
		return nil, err
	}
	if err := d.users.SetStage(ctx, u.ID, stage); err != nil {
		return nil, err
	}

	u.Stage = stage
	if d.onStageChange != nil {
		// the stage is already persisted; a failed instruction push is
		// retried on the next stage change or session creation
		if err := d.onStageChange(ctx, u); err != nil {
			logger.Error("Failed to recompile instructions for user %d: %v", u.ID, err)
		}
	}
	return struct {
		TTMStage string `json:"ttm_stage"`
	}{TTMStage: stage.String()}, nil
}

func (d *Dispatcher) getCurrentDateTime(_ context.Context, u user.User, _ []byte) (interface{}, error) {
	now := time.Now().In(u.Location())
	return struct {
		CurrentDateTime string `json:"current_date_time"`
		TimeZone        string `json:"time_zone"`
	}{
		CurrentDateTime: now.Format("Monday, 2006-01-02 15:04:05"),
		TimeZone:        u.Location().String(),
	}, nil
}

// due-date layouts accepted from the model, most specific first
var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDueDate interprets a naive timestamp in the user's location and
// returns unix seconds; layouts carrying an explicit offset are taken as-is.
func parseDueDate(raw string, loc *time.Location) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	for _, layout := range dueDateLayouts {
		if layout == time.RFC3339 {
			if parsed, err := time.Parse(layout, raw); err == nil {
				return parsed.Unix(), nil
			}
			continue
		}
		if parsed, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return parsed.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized due_date %q", raw)
}

func successOutput(callID string, result interface{}) remote.ToolOutput {
	envelope := map[string]interface{}{"status": "success"}
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return errorOutput(callID, fmt.Errorf("encode result: %w", err))
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(data, &fields); err != nil {
			return errorOutput(callID, fmt.Errorf("encode result: %w", err))
		}
		for key, value := range fields {
			envelope[key] = value
		}
	}
	data, _ := json.Marshal(envelope)
	return remote.ToolOutput{ToolCallID: callID, Output: string(data)}
}

func errorOutput(callID string, err error) remote.ToolOutput {
	data, _ := json.Marshal(map[string]interface{}{
		"status": "error",
		"error":  err.Error(),
	})
	return remote.ToolOutput{ToolCallID: callID, Output: string(data)}
}

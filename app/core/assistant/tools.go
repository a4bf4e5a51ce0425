package assistant

import (
	"encoding/json"

	"nudge/app/core/remote"
)

// Tool names form the dispatch contract between the remote assistant and the
// local dispatcher. Adding a tool means adding a name here, a schema below,
// and a handler in the dispatcher table.
const (
	ToolAddTask             = "add_task"
	ToolAddDecomposedTask   = "add_decomposed_task"
	ToolGetTasks            = "get_tasks"
	ToolCheckDueDateTasks   = "check_due_date_tasks"
	ToolCreateNotifications = "create_notifications"
	ToolUpdateUserTTMStage  = "update_user_ttm_stage"
	ToolGetCurrentDateTime  = "get_current_date_time"
)

// ToolDefinitions returns the function-tool schema registered on every
// assistant identity.
func ToolDefinitions() []remote.ToolDefinition {
	return []remote.ToolDefinition{
		{
			Name:        ToolAddTask,
			Description: "Add a task to the user's todo list",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task": {"type": "string", "description": "Task the user asked to add"},
					"description": {"type": "string", "description": "Description of the task"},
					"due_date": {"type": "string", "description": "Date until the task should be done, in the user's local time"}
				},
				"required": ["task"]
			}`),
		},
		{
			Name:        ToolAddDecomposedTask,
			Description: "Add a decomposed task with its subtasks to the todo list",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"main_task": {"type": "string", "description": "The original task that was decomposed"},
					"subtasks": {"type": "array", "items": {"type": "string"}, "description": "List of decomposed subtasks, in order"}
				},
				"required": ["main_task", "subtasks"]
			}`),
		},
		{
			Name:        ToolGetTasks,
			Description: "Fetch the user's main tasks and their subtasks",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"include_completed": {"type": "boolean", "description": "Whether to include completed tasks"}
				},
				"required": ["include_completed"]
			}`),
		},
		{
			Name:        ToolCheckDueDateTasks,
			Description: "Fetch incomplete tasks with their deadlines and prior reminder counts",
		},
		{
			Name:        ToolCreateNotifications,
			Description: "Create reminder notifications for the user for the selected tasks",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_ids": {"type": "array", "items": {"type": "number"}, "description": "Task IDs for which notifications should be created"}
				},
				"required": ["task_ids"]
			}`),
		},
		{
			Name:        ToolUpdateUserTTMStage,
			Description: "Move the user to a different stage of the transtheoretical model of behavior change",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"ttm_stage": {"type": "string", "enum": ["Precontemplation", "Contemplation", "Preparation", "Action", "Maintenance"], "description": "The user's new TTM stage"}
				},
				"required": ["ttm_stage"]
			}`),
		},
		{
			Name:        ToolGetCurrentDateTime,
			Description: "Get the current date and time in the user's time zone",
		},
	}
}

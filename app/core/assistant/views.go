package assistant

import (
	"time"

	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
)

// Views are the serialized shapes handed back to the remote assistant and
// the HTTP layer. Timestamps render in the user's local time zone.

type taskView struct {
	ID          int64         `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	DueDate     string        `json:"due_date,omitempty"`
	IsCompleted bool          `json:"is_completed"`
	CreatedAt   string        `json:"created_at"`
	Subtasks    []subtaskView `json:"subtasks"`
}

type subtaskView struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
	DueDate     string `json:"due_date,omitempty"`
}

type dueTaskView struct {
	taskView
	YouHaveReminded int                `json:"you_have_reminded_count"`
	ReminderHistory []notificationView `json:"notifications"`
}

type notificationView struct {
	ID            int64  `json:"id"`
	TaskTitle     string `json:"task_title"`
	ReminderCount int    `json:"reminder_count"`
	CreatedAt     string `json:"created_at"`
	IsRead        bool   `json:"is_read"`
}

type createdNotificationView struct {
	TaskID        int64 `json:"task_id"`
	ReminderCount int   `json:"reminder_count"`
}

func newTaskView(t task.MainTask, loc *time.Location) taskView {
	return taskView{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		DueDate:     formatUnix(t.DueAt, loc),
		IsCompleted: t.IsCompleted,
		CreatedAt:   formatUnix(t.CreatedAt, loc),
		Subtasks:    newSubtaskViews(t.Subtasks, loc),
	}
}

func newSubtaskViews(subs []task.Subtask, loc *time.Location) []subtaskView {
	views := make([]subtaskView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, subtaskView{
			ID:          sub.ID,
			Title:       sub.Title,
			IsCompleted: sub.IsCompleted,
			DueDate:     formatUnix(sub.DueAt, loc),
		})
	}
	return views
}

func newNotificationViews(items []notification.Notification, loc *time.Location) []notificationView {
	views := make([]notificationView, 0, len(items))
	for _, n := range items {
		views = append(views, notificationView{
			ID:            n.ID,
			TaskTitle:     n.TaskTitle,
			ReminderCount: n.ReminderCount,
			CreatedAt:     formatUnix(n.CreatedAt, loc),
			IsRead:        n.IsRead,
		})
	}
	return views
}

func formatUnix(ts int64, loc *time.Location) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).In(loc).Format("2006-01-02 15:04:05")
}

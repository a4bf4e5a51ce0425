package assistant

import (
	"time"

	"nudge/app/core/orchestrator/task"
)

// ReminderPolicy is the deterministic reminder rule used by the automatic
// sweep. The numbers are configuration, not constants: the remote reasoning
// step is free to remind outside them through create_notifications, which the
// dispatcher does not gate.
type ReminderPolicy struct {
	MaxPerTask int
	DueWindow  time.Duration
}

func DefaultReminderPolicy() ReminderPolicy {
	return ReminderPolicy{
		MaxPerTask: 4,
		DueWindow:  48 * time.Hour,
	}
}

// ShouldRemind reports whether one more reminder is appropriate for a task:
// the task must be open, due within the forward-looking window, and still
// under the per-task cap.
func (p ReminderPolicy) ShouldRemind(t task.MainTask, priorCount int, now time.Time) bool {
	if t.IsCompleted || t.DueAt == 0 {
		return false
	}
	if priorCount >= p.MaxPerTask {
		return false
	}
	due := time.Unix(t.DueAt, 0)
	if due.Before(now) {
		return false
	}
	return !due.After(now.Add(p.DueWindow))
}

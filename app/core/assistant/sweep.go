package assistant

import (
	"context"
	"fmt"
	"time"

	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
	"nudge/app/core/orchestrator/user"
	"nudge/app/pkg/logger"
)

// Sweep is the deterministic reminder path that runs without any remote
// reasoning: every interval it walks all users and appends a notification
// for each open task the policy says is due for one more nudge.
type Sweep struct {
	tasks         *task.Store
	notifications *notification.Ledger
	users         *user.Store
	policy        ReminderPolicy
}

func NewSweep(tasks *task.Store, notifications *notification.Ledger, users *user.Store, policy ReminderPolicy) *Sweep {
	return &Sweep{
		tasks:         tasks,
		notifications: notifications,
		users:         users,
		policy:        policy,
	}
}

// Run performs one pass over all users. A failure for one user is logged and
// does not stop the pass; the first error is reported at the end.
func (s *Sweep) Run(ctx context.Context) error {
	users, err := s.users.List(ctx)
	if err != nil {
		return fmt.Errorf("sweep: list users: %w", err)
	}

	now := time.Now()
	var firstErr error
	total := 0
	for _, u := range users {
		created, err := s.sweepUser(ctx, u.ID, now)
		if err != nil {
			logger.Error("Reminder sweep failed for user %d: %v", u.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += created
	}
	if total > 0 {
		logger.Info("Reminder sweep created %d notifications", total)
	}
	return firstErr
}

func (s *Sweep) sweepUser(ctx context.Context, userID int64, now time.Time) (int, error) {
	tasks, err := s.tasks.ListIncomplete(ctx, userID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, t := range tasks {
		prior, err := s.notifications.CountForTask(ctx, t.ID)
		if err != nil {
			return created, err
		}
		if !s.policy.ShouldRemind(t, prior, now) {
			continue
		}
		if _, err := s.notifications.Append(ctx, userID, t.ID); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

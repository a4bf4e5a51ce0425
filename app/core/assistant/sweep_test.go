package assistant

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nudge/app/core/orchestrator/db"
	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
	"nudge/app/core/orchestrator/user"
)

func newTestSweep(t *testing.T) (*Sweep, *task.Store, *notification.Ledger, int64) {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	tasks := task.NewStore(database)
	ledger := notification.NewLedger(database)
	users := user.NewStore(database)

	u, err := users.Create(context.Background(), "sweep@example.com", "Sam", "Singh")
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	sweep := NewSweep(tasks, ledger, users, ReminderPolicy{MaxPerTask: 2, DueWindow: 48 * time.Hour})
	return sweep, tasks, ledger, u.ID
}

func TestSweepRemindsOnlyDueTasks(t *testing.T) {
	sweep, tasks, ledger, userID := newTestSweep(t)
	ctx := context.Background()

	dueSoon, err := tasks.Create(ctx, userID, "Due soon", "", time.Now().Add(24*time.Hour).Unix())
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	farOff, err := tasks.Create(ctx, userID, "Far off", "", time.Now().Add(30*24*time.Hour).Unix())
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	noDeadline, err := tasks.Create(ctx, userID, "Someday", "", 0)
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	if err := sweep.Run(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	for _, tc := range []struct {
		taskID int64
		want   int
	}{
		{dueSoon.ID, 1},
		{farOff.ID, 0},
		{noDeadline.ID, 0},
	} {
		count, err := ledger.CountForTask(ctx, tc.taskID)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != tc.want {
			t.Fatalf("task %d: expected %d reminders, got %d", tc.taskID, tc.want, count)
		}
	}
}

func TestSweepHonorsReminderCap(t *testing.T) {
	sweep, tasks, ledger, userID := newTestSweep(t)
	ctx := context.Background()

	created, err := tasks.Create(ctx, userID, "Capped", "", time.Now().Add(12*time.Hour).Unix())
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	for i := 0; i < 4; i++ {
		if err := sweep.Run(ctx); err != nil {
			t.Fatalf("sweep %d failed: %v", i, err)
		}
	}

	count, err := ledger.CountForTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected cap of 2 reminders, got %d", count)
	}
}

func TestSweepSkipsCompletedTasks(t *testing.T) {
	sweep, tasks, ledger, userID := newTestSweep(t)
	ctx := context.Background()

	created, err := tasks.Create(ctx, userID, "Done already", "", time.Now().Add(12*time.Hour).Unix())
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	if err := tasks.SetCompleted(ctx, userID, created.ID, true); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if err := sweep.Run(ctx); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	count, err := ledger.CountForTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("completed task should not be reminded, got %d", count)
	}
}

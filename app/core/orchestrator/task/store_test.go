package task

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nudge/app/core/orchestrator/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	due := time.Now().Add(24 * time.Hour).Unix()
	created, err := store.Create(ctx, 1, "Buy groceries", "milk and eggs", due)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected a generated task id")
	}

	got, err := store.Get(ctx, 1, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "Buy groceries" || got.Description != "milk and eggs" {
		t.Fatalf("unexpected task fields: %+v", got)
	}
	if got.DueAt != due {
		t.Fatalf("expected due %d, got %d", due, got.DueAt)
	}
	if got.IsCompleted {
		t.Fatal("new task must start incomplete")
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Create(context.Background(), 1, "   ", "", 0); err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, 1, "Private", "", 0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.Get(ctx, 2, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign user, got %v", err)
	}
}

func TestCreateDecomposedPreservesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateDecomposed(ctx, 1, "Plan trip", []string{"Book flight", "Book hotel"})
	if err != nil {
		t.Fatalf("create decomposed failed: %v", err)
	}
	if len(created.Subtasks) != 2 {
		t.Fatalf("expected 2 subtasks, got %d", len(created.Subtasks))
	}

	got, err := store.Get(ctx, 1, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Title != "Plan trip" {
		t.Fatalf("unexpected title: %s", got.Title)
	}
	if got.Subtasks[0].Title != "Book flight" || got.Subtasks[1].Title != "Book hotel" {
		t.Fatalf("subtask order lost: %+v", got.Subtasks)
	}
	for _, sub := range got.Subtasks {
		if sub.IsCompleted {
			t.Fatalf("subtask %q must start incomplete", sub.Title)
		}
	}
}

func TestCreateDecomposedRejectsEmptySubtask(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateDecomposed(ctx, 1, "Plan trip", []string{"Book flight", "  "}); err == nil {
		t.Fatal("expected error for empty subtask title")
	}

	// the whole insert must have rolled back
	tasks, err := store.List(ctx, 1, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks after rollback, got %d", len(tasks))
	}
}

func TestListNewestFirstAndCompletionFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, 1, "first", "", 0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := store.Create(ctx, 1, "second", "", 0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := store.SetCompleted(ctx, 1, first.ID, true); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	all, err := store.List(ctx, 1, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}
	if all[0].ID != second.ID {
		t.Fatalf("expected newest first, got id %d", all[0].ID)
	}

	open, err := store.List(ctx, 1, false)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != second.ID {
		t.Fatalf("expected only the open task, got %+v", open)
	}
}

func TestCompleteCascadesToSubtasks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateDecomposed(ctx, 1, "Plan trip", []string{"Book flight", "Book hotel"})
	if err != nil {
		t.Fatalf("create decomposed failed: %v", err)
	}
	if err := store.SetCompleted(ctx, 1, created.ID, true); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err := store.Get(ctx, 1, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.IsCompleted {
		t.Fatal("expected main task completed")
	}
	for _, sub := range got.Subtasks {
		if !sub.IsCompleted {
			t.Fatalf("expected subtask %q force-completed", sub.Title)
		}
	}
}

func TestCompletingAllSubtasksDoesNotCompleteParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateDecomposed(ctx, 1, "Plan trip", []string{"Book flight", "Book hotel"})
	if err != nil {
		t.Fatalf("create decomposed failed: %v", err)
	}
	for _, sub := range created.Subtasks {
		if err := store.SetSubtaskCompleted(ctx, 1, created.ID, sub.ID, true); err != nil {
			t.Fatalf("complete subtask failed: %v", err)
		}
	}

	got, err := store.Get(ctx, 1, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.IsCompleted {
		t.Fatal("parent must not auto-complete from subtasks")
	}
	for _, sub := range got.Subtasks {
		if !sub.IsCompleted {
			t.Fatalf("expected subtask %q completed", sub.Title)
		}
	}
}

func TestSetSubtaskCompletedWrongParent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateDecomposed(ctx, 1, "Plan trip", []string{"Book flight"})
	if err != nil {
		t.Fatalf("create decomposed failed: %v", err)
	}
	other, err := store.Create(ctx, 1, "Unrelated", "", 0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sub := created.Subtasks[0]
	if err := store.SetSubtaskCompleted(ctx, 1, other.ID, sub.ID, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := store.Get(ctx, 1, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Subtasks[0].IsCompleted {
		t.Fatal("subtask must stay open when addressed through the wrong parent")
	}
}

func TestSetCompletedUnknownTask(t *testing.T) {
	store := newTestStore(t)
	if err := store.SetCompleted(context.Background(), 1, 999, true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyUpdatesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, 1, "old title", "old desc", 0)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	title := "new title"
	due := time.Now().Add(time.Hour).Unix()
	updated, err := store.Apply(ctx, 1, created.ID, Update{Title: &title, DueAt: &due})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if updated.Title != "new title" || updated.DueAt != due {
		t.Fatalf("unexpected updated task: %+v", updated)
	}
	if updated.Description != "old desc" {
		t.Fatalf("untouched field changed: %q", updated.Description)
	}
}

func TestSortByDuePutsUndatedLast(t *testing.T) {
	now := time.Now().Unix()
	tasks := []MainTask{
		{ID: 1, DueAt: 0},
		{ID: 2, DueAt: now + 100},
		{ID: 3, DueAt: now + 10},
	}
	SortByDue(tasks)
	if tasks[0].ID != 3 || tasks[1].ID != 2 || tasks[2].ID != 1 {
		t.Fatalf("unexpected order: %+v", tasks)
	}
}

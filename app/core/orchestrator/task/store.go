package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"nudge/app/core/orchestrator/db"
)

// ErrNotFound is returned when a task id does not exist or is owned by a
// different user. Callers treat ownership violations and missing rows the
// same way so task ids cannot be probed across users.
var ErrNotFound = errors.New("task: not found")

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts one main task. dueAt == 0 stores a NULL deadline.
func (s *Store) Create(ctx context.Context, userID int64, title, description string, dueAt int64) (MainTask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return MainTask{}, fmt.Errorf("task: title is required")
	}
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO main_tasks (user_id, title, description, due_at, is_completed, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`,
		userID, title, description, nullableUnix(dueAt), now, now)
	if err != nil {
		return MainTask{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return MainTask{}, err
	}
	return MainTask{
		ID:          id,
		UserID:      userID,
		Title:       title,
		Description: description,
		DueAt:       dueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		Subtasks:    []Subtask{},
	}, nil
}

// CreateDecomposed inserts one main task and its subtasks atomically,
// preserving the given order. Every subtask title must be non-empty.
func (s *Store) CreateDecomposed(ctx context.Context, userID int64, title string, subtaskTitles []string) (MainTask, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return MainTask{}, fmt.Errorf("task: title is required")
	}
	trimmed := make([]string, 0, len(subtaskTitles))
	for _, sub := range subtaskTitles {
		sub = strings.TrimSpace(sub)
		if sub == "" {
			return MainTask{}, fmt.Errorf("task: subtask title is required")
		}
		trimmed = append(trimmed, sub)
	}

	now := time.Now().Unix()
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return MainTask{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO main_tasks (user_id, title, description, due_at, is_completed, created_at, updated_at) VALUES (?, ?, '', NULL, 0, ?, ?)`,
		userID, title, now, now)
	if err != nil {
		return MainTask{}, err
	}
	taskID, err := res.LastInsertId()
	if err != nil {
		return MainTask{}, err
	}

	created := MainTask{
		ID:        taskID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Subtasks:  make([]Subtask, 0, len(trimmed)),
	}
	for position, sub := range trimmed {
		subRes, err := tx.ExecContext(ctx,
			`INSERT INTO subtasks (main_task_id, title, is_completed, due_at, position, created_at, updated_at) VALUES (?, ?, 0, NULL, ?, ?, ?)`,
			taskID, sub, position, now, now)
		if err != nil {
			return MainTask{}, err
		}
		subID, err := subRes.LastInsertId()
		if err != nil {
			return MainTask{}, err
		}
		created.Subtasks = append(created.Subtasks, Subtask{
			ID:         subID,
			MainTaskID: taskID,
			Title:      sub,
			Position:   position,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := tx.Commit(); err != nil {
		return MainTask{}, err
	}
	return created, nil
}

// List returns the user's main tasks newest-first, each with its subtasks in
// creation order. Completed tasks are excluded unless includeCompleted is set.
func (s *Store) List(ctx context.Context, userID int64, includeCompleted bool) ([]MainTask, error) {
	query := `SELECT id, user_id, title, description, COALESCE(due_at, 0), is_completed, created_at, updated_at FROM main_tasks WHERE user_id = ?`
	if !includeCompleted {
		query += ` AND is_completed = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Conn().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]MainTask, 0, 16)
	for rows.Next() {
		var t MainTask
		if err := rows.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.DueAt, &t.IsCompleted, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		subs, err := s.listSubtasks(ctx, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].Subtasks = subs
	}
	return tasks, nil
}

// ListIncomplete returns the user's open main tasks, soonest deadline first;
// tasks without a deadline sort last.
func (s *Store) ListIncomplete(ctx context.Context, userID int64) ([]MainTask, error) {
	tasks, err := s.List(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	SortByDue(tasks)
	return tasks, nil
}

// Get returns the task only if it is owned by userID.
func (s *Store) Get(ctx context.Context, userID, taskID int64) (MainTask, error) {
	var t MainTask
	err := s.db.Conn().QueryRowContext(ctx,
		`SELECT id, user_id, title, description, COALESCE(due_at, 0), is_completed, created_at, updated_at FROM main_tasks WHERE id = ? AND user_id = ?`,
		taskID, userID).Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.DueAt, &t.IsCompleted, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return MainTask{}, ErrNotFound
	}
	if err != nil {
		return MainTask{}, err
	}
	subs, err := s.listSubtasks(ctx, t.ID)
	if err != nil {
		return MainTask{}, err
	}
	t.Subtasks = subs
	return t, nil
}

// SetCompleted toggles a main task's completion flag. Marking a task complete
// cascades to all of its subtasks in the same transaction; reopening a task
// leaves subtask flags as they are.
func (s *Store) SetCompleted(ctx context.Context, userID, taskID int64, completed bool) error {
	now := time.Now().Unix()
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE main_tasks SET is_completed = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		boolToInt(completed), now, taskID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if completed {
		if _, err := tx.ExecContext(ctx,
			`UPDATE subtasks SET is_completed = 1, updated_at = ? WHERE main_task_id = ?`,
			now, taskID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SetSubtaskCompleted toggles one subtask of the given parent task, checking
// ownership through the parent. The parent's completion flag is never
// derived from subtasks.
func (s *Store) SetSubtaskCompleted(ctx context.Context, userID, taskID, subtaskID int64, completed bool) error {
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `
UPDATE subtasks SET is_completed = ?, updated_at = ?
WHERE id = ? AND main_task_id = ?
AND main_task_id IN (SELECT id FROM main_tasks WHERE user_id = ?)`,
		boolToInt(completed), now, subtaskID, taskID, userID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Apply edits the given fields of an owned task and returns the result.
func (s *Store) Apply(ctx context.Context, userID, taskID int64, update Update) (MainTask, error) {
	if update.IsCompleted != nil {
		if err := s.SetCompleted(ctx, userID, taskID, *update.IsCompleted); err != nil {
			return MainTask{}, err
		}
	}

	sets := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return MainTask{}, fmt.Errorf("task: title is required")
		}
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *update.Description)
	}
	if update.DueAt != nil {
		sets = append(sets, "due_at = ?")
		args = append(args, nullableUnix(*update.DueAt))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().Unix(), taskID, userID)
		query := fmt.Sprintf(`UPDATE main_tasks SET %s WHERE id = ? AND user_id = ?`, strings.Join(sets, ", "))
		res, err := s.db.Conn().ExecContext(ctx, query, args...)
		if err != nil {
			return MainTask{}, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return MainTask{}, err
		}
		if affected == 0 {
			return MainTask{}, ErrNotFound
		}
	}
	return s.Get(ctx, userID, taskID)
}

func (s *Store) listSubtasks(ctx context.Context, taskID int64) ([]Subtask, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, main_task_id, title, is_completed, COALESCE(due_at, 0), position, created_at, updated_at FROM subtasks WHERE main_task_id = ? ORDER BY position ASC, id ASC`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]Subtask, 0, 4)
	for rows.Next() {
		var sub Subtask
		if err := rows.Scan(&sub.ID, &sub.MainTaskID, &sub.Title, &sub.IsCompleted, &sub.DueAt, &sub.Position, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SortByDue orders tasks by ascending due time so the most urgent comes
// first. Tasks without a deadline keep their relative order at the end.
func SortByDue(tasks []MainTask) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.DueAt == 0 {
			return false
		}
		if b.DueAt == 0 {
			return true
		}
		return a.DueAt < b.DueAt
	})
}

func nullableUnix(ts int64) interface{} {
	if ts == 0 {
		return nil
	}
	return ts
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

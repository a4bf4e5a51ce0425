// Package notification keeps the append-only reminder ledger. Each row
// records that the user was nudged about a task at a specific ordinal count;
// only the read flag is ever mutated after insert.
package notification

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"nudge/app/core/orchestrator/db"
)

var (
	ErrTaskNotFound = errors.New("notification: task not found")
	ErrNotFound     = errors.New("notification: not found")
)

type Notification struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	MainTaskID    int64  `json:"main_task_id"`
	TaskTitle     string `json:"task_title,omitempty"`
	ReminderCount int    `json:"reminder_count"`
	IsRead        bool   `json:"is_read"`
	CreatedAt     int64  `json:"created_at"`
}

type Ledger struct {
	db *db.DB
}

func NewLedger(database *db.DB) *Ledger {
	return &Ledger{db: database}
}

// Append records one reminder for an owned task. The ownership check, the
// prior-count read, and the insert run in a single transaction so concurrent
// appends for the same task never observe the same prior count.
func (l *Ledger) Append(ctx context.Context, userID, taskID int64) (Notification, error) {
	now := time.Now().Unix()
	tx, err := l.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return Notification{}, err
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx,
		`SELECT title FROM main_tasks WHERE id = ? AND user_id = ?`, taskID, userID).Scan(&title)
	if err == sql.ErrNoRows {
		return Notification{}, ErrTaskNotFound
	}
	if err != nil {
		return Notification{}, err
	}

	var prior int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE main_task_id = ?`, taskID).Scan(&prior); err != nil {
		return Notification{}, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO notifications (user_id, main_task_id, reminder_count, is_read, created_at) VALUES (?, ?, ?, 0, ?)`,
		userID, taskID, prior+1, now)
	if err != nil {
		return Notification{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Notification{}, err
	}

	if err := tx.Commit(); err != nil {
		return Notification{}, err
	}
	return Notification{
		ID:            id,
		UserID:        userID,
		MainTaskID:    taskID,
		TaskTitle:     title,
		ReminderCount: prior + 1,
		CreatedAt:     now,
	}, nil
}

func (l *Ledger) CountForTask(ctx context.Context, taskID int64) (int, error) {
	var count int
	err := l.db.Conn().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE main_task_id = ?`, taskID).Scan(&count)
	return count, err
}

// ListForTask returns a task's reminder history oldest-first.
func (l *Ledger) ListForTask(ctx context.Context, taskID int64) ([]Notification, error) {
	rows, err := l.db.Conn().QueryContext(ctx, `
SELECT n.id, n.user_id, n.main_task_id, t.title, n.reminder_count, n.is_read, n.created_at
FROM notifications n JOIN main_tasks t ON t.id = n.main_task_id
WHERE n.main_task_id = ?
ORDER BY n.created_at ASC, n.id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

// ListForUser returns the user's notification feed newest-first.
func (l *Ledger) ListForUser(ctx context.Context, userID int64) ([]Notification, error) {
	rows, err := l.db.Conn().QueryContext(ctx, `
SELECT n.id, n.user_id, n.main_task_id, t.title, n.reminder_count, n.is_read, n.created_at
FROM notifications n JOIN main_tasks t ON t.id = n.main_task_id
WHERE n.user_id = ?
ORDER BY n.created_at DESC, n.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

func (l *Ledger) MarkRead(ctx context.Context, userID, notificationID int64) error {
	res, err := l.db.Conn().ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, notificationID, userID)
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

func scanNotifications(rows *sql.Rows) ([]Notification, error) {
	defer rows.Close()
	items := make([]Notification, 0, 8)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.MainTaskID, &n.TaskTitle, &n.ReminderCount, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

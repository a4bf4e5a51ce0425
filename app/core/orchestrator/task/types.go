package task

// MainTask is a user-owned todo item. DueAt and the timestamps are unix
// seconds; DueAt == 0 means no deadline was set.
type MainTask struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueAt       int64     `json:"due_at,omitempty"`
	IsCompleted bool      `json:"is_completed"`
	CreatedAt   int64     `json:"created_at"`
	UpdatedAt   int64     `json:"updated_at"`
	Subtasks    []Subtask `json:"subtasks"`
}

// Subtask belongs to exactly one MainTask. Completing the parent forces all
// subtasks complete; completing every subtask does not complete the parent.
type Subtask struct {
	ID          int64  `json:"id"`
	MainTaskID  int64  `json:"main_task_id"`
	Title       string `json:"title"`
	IsCompleted bool   `json:"is_completed"`
	DueAt       int64  `json:"due_at,omitempty"`
	Position    int    `json:"position"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Update carries optional field edits for a main task. Nil fields are left
// untouched; a DueAt of 0 clears the deadline.
type Update struct {
	Title       *string
	Description *string
	DueAt       *int64
	IsCompleted *bool
}

package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"nudge/app/core/assistant"
	"nudge/app/core/orchestrator/db"
	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
	"nudge/app/core/orchestrator/user"
	"nudge/app/core/remote"
)

// scriptedRemote completes every run immediately with a fixed reply.
type scriptedRemote struct {
	reply string
}

func (s *scriptedRemote) CreateAssistant(ctx context.Context, name, model, instructions string, tools []remote.ToolDefinition) (string, error) {
	return "asst_test", nil
}

func (s *scriptedRemote) UpdateAssistant(ctx context.Context, assistantID, instructions string) error {
	return nil
}

func (s *scriptedRemote) CreateThread(ctx context.Context) (string, error) {
	return "thread_test", nil
}

func (s *scriptedRemote) PostMessage(ctx context.Context, threadID, role, content string) error {
	return nil
}

func (s *scriptedRemote) StartRun(ctx context.Context, threadID, assistantID string) (remote.Run, error) {
	return remote.Run{ID: "run_test", ThreadID: threadID, Status: remote.RunStatusCompleted}, nil
}

func (s *scriptedRemote) GetRun(ctx context.Context, threadID, runID string) (remote.Run, error) {
	return remote.Run{ID: runID, ThreadID: threadID, Status: remote.RunStatusCompleted}, nil
}

func (s *scriptedRemote) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []remote.ToolOutput) error {
	return nil
}

func (s *scriptedRemote) ListMessages(ctx context.Context, threadID string) ([]remote.Message, error) {
	return []remote.Message{{ID: "msg_1", Role: "assistant", Text: s.reply}}, nil
}

func (s *scriptedRemote) ListRuns(ctx context.Context, threadID string) ([]remote.Run, error) {
	return nil, nil
}

func (s *scriptedRemote) CancelRun(ctx context.Context, threadID, runID string) error {
	return nil
}

type serverFixture struct {
	server *Server
	mux    *httptest.Server
	tasks  *task.Store
	ledger *notification.Ledger
	users  *user.Store
	userID int64
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	database, err := db.NewSQLiteDB(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	users := user.NewStore(database)
	tasks := task.NewStore(database)
	ledger := notification.NewLedger(database)
	dispatcher := assistant.NewDispatcher(tasks, ledger, users, nil)
	driver := assistant.NewDriver(&scriptedRemote{reply: "Got it."}, users, dispatcher, assistant.DriverOptions{
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	})

	srv := NewServer(Options{
		Users:         users,
		Tasks:         tasks,
		Notifications: ledger,
		Driver:        driver,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/users", srv.handleUsers)
	mux.HandleFunc("/api/chat", srv.handleChat)
	mux.HandleFunc("/api/tasks", srv.handleTasks)
	mux.HandleFunc("/api/tasks/", srv.handleTaskActions)
	mux.HandleFunc("/api/notifications", srv.handleNotifications)
	mux.HandleFunc("/api/notifications/", srv.handleNotificationActions)
	mux.HandleFunc("/api/me/stage", srv.handleStage)
	mux.HandleFunc("/api/me/timezone", srv.handleTimeZone)
	mux.HandleFunc("/api/me/voice", srv.handleVoiceConfig)
	mux.HandleFunc("/health", srv.handleHealth)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	u, err := users.Create(context.Background(), "api@example.com", "Ana", "Armas")
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}

	return &serverFixture{server: srv, mux: ts, tasks: tasks, ledger: ledger, users: users, userID: u.ID}
}

func (f *serverFixture) request(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, f.mux.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request failed: %v", err)
	}
	req.Header.Set("X-User-ID", strconv.FormatInt(f.userID, 10))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	return resp, string(data)
}

func TestRegisterUser(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/users", `{"email":"New@Example.com","first_name":"Nia"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "email").String() != "new@example.com" {
		t.Fatalf("expected normalized email, got %s", body)
	}
	if gjson.Get(body, "ttm_stage").String() != "Precontemplation" {
		t.Fatalf("expected default stage, got %s", body)
	}

	resp, body = f.request(t, http.MethodPost, "/api/users", `{"email":"new@example.com"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for repeat registration, got %d: %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "first_name").String() != "Nia" {
		t.Fatalf("expected the existing account back, got %s", body)
	}
}

func TestChatReturnsAssistantReply(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodPost, "/api/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "reply").String() != "Got it." {
		t.Fatalf("unexpected reply: %s", body)
	}
}

func TestChatRequiresAuthHeader(t *testing.T) {
	f := newServerFixture(t)

	req, _ := http.NewRequest(http.MethodPost, f.mux.URL+"/api/chat", strings.NewReader(`{"message":"hi"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestListAndCompleteTasks(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	created, err := f.tasks.Create(ctx, f.userID, "Write report", "", 0)
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	resp, body := f.request(t, http.MethodGet, "/api/tasks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if len(gjson.Get(body, "tasks").Array()) != 1 {
		t.Fatalf("expected one task, got %s", body)
	}

	resp, body = f.request(t, http.MethodPost, fmt.Sprintf("/api/tasks/%d/complete", created.ID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = f.request(t, http.MethodGet, "/api/tasks", "")
	if resp.StatusCode != http.StatusOK || len(gjson.Get(body, "tasks").Array()) != 0 {
		t.Fatalf("completed task should drop from default listing: %s", body)
	}

	resp, _ = f.request(t, http.MethodPost, "/api/tasks/424242/complete", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", resp.StatusCode)
	}
}

func TestUpdateTaskFields(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	created, err := f.tasks.Create(ctx, f.userID, "Old title", "", 0)
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}

	due := time.Now().Add(48 * time.Hour).Unix()
	resp, body := f.request(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID),
		fmt.Sprintf(`{"title":"New title","due_at":%d}`, due))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if gjson.Get(body, "title").String() != "New title" {
		t.Fatalf("title not updated: %s", body)
	}
	if gjson.Get(body, "due_at").Int() != due {
		t.Fatalf("due date not updated: %s", body)
	}

	resp, _ = f.request(t, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", created.ID), `{"title":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", resp.StatusCode)
	}
}

func TestCompleteSubtask(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	created, err := f.tasks.CreateDecomposed(ctx, f.userID, "Move house", []string{"Pack boxes", "Book movers"})
	if err != nil {
		t.Fatalf("create decomposed failed: %v", err)
	}
	sub := created.Subtasks[0]

	resp, body := f.request(t, http.MethodPost,
		fmt.Sprintf("/api/tasks/%d/subtasks/%d/complete", created.ID, sub.ID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	got, err := f.tasks.Get(ctx, f.userID, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Subtasks[0].IsCompleted || got.IsCompleted {
		t.Fatalf("expected subtask done and parent open: %+v", got)
	}
}

func TestCompleteSubtaskWrongParent(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	created, err := f.tasks.CreateDecomposed(ctx, f.userID, "Move house", []string{"Pack boxes"})
	if err != nil {
		t.Fatalf("create decomposed failed: %v", err)
	}
	other, err := f.tasks.Create(ctx, f.userID, "Unrelated", "", 0)
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	sub := created.Subtasks[0]

	resp, body := f.request(t, http.MethodPost,
		fmt.Sprintf("/api/tasks/%d/subtasks/%d/complete", other.ID, sub.ID), "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, body)
	}

	got, err := f.tasks.Get(ctx, f.userID, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Subtasks[0].IsCompleted {
		t.Fatalf("subtask must stay open: %+v", got)
	}
}

func TestNotificationFeedAndMarkRead(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	created, err := f.tasks.Create(ctx, f.userID, "Pay rent", "", time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("create task failed: %v", err)
	}
	n, err := f.ledger.Append(ctx, f.userID, created.ID)
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	resp, body := f.request(t, http.MethodGet, "/api/notifications", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	feed := gjson.Get(body, "notifications").Array()
	if len(feed) != 1 || feed[0].Get("task_title").String() != "Pay rent" {
		t.Fatalf("unexpected feed: %s", body)
	}

	resp, body = f.request(t, http.MethodPost, fmt.Sprintf("/api/notifications/%d/read", n.ID), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	_, body = f.request(t, http.MethodGet, "/api/notifications", "")
	if !gjson.Get(body, "notifications.0.is_read").Bool() {
		t.Fatalf("expected notification marked read: %s", body)
	}
}

func TestStageRoundTrip(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/api/me/stage", "")
	if resp.StatusCode != http.StatusOK || gjson.Get(body, "ttm_stage").String() != "Precontemplation" {
		t.Fatalf("unexpected initial stage: %d %s", resp.StatusCode, body)
	}
	if len(gjson.Get(body, "stages").Array()) != 5 {
		t.Fatalf("expected five stages listed: %s", body)
	}

	resp, body = f.request(t, http.MethodPut, "/api/me/stage", `{"ttm_stage":"Preparation"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	resp, body = f.request(t, http.MethodPut, "/api/me/stage", `{"ttm_stage":"Procrastination"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d: %s", resp.StatusCode, body)
	}

	_, body = f.request(t, http.MethodGet, "/api/me/stage", "")
	if gjson.Get(body, "ttm_stage").String() != "Preparation" {
		t.Fatalf("stage should survive the rejected update: %s", body)
	}
}

func TestTimeZoneValidation(t *testing.T) {
	f := newServerFixture(t)

	resp, _ := f.request(t, http.MethodPut, "/api/me/timezone", `{"time_zone":"Europe/Helsinki"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp, _ = f.request(t, http.MethodPut, "/api/me/timezone", `{"time_zone":"Mars/Olympus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus zone, got %d", resp.StatusCode)
	}
}

func TestVoiceConfigRoundTrip(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodPut, "/api/me/voice",
		`{"voice_name":"Coach Kai","persona_tone":"playful","stability":0.4,"similarity_boost":0.7}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}

	_, body = f.request(t, http.MethodGet, "/api/me/voice", "")
	if gjson.Get(body, "voice_name").String() != "Coach Kai" {
		t.Fatalf("unexpected voice config: %s", body)
	}
	if gjson.Get(body, "stability").Float() != 0.4 {
		t.Fatalf("unexpected stability: %s", body)
	}

	u, err := f.users.Get(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("get user failed: %v", err)
	}
	if !u.VUIConfigured {
		t.Fatalf("expected VUI flag set after voice config update")
	}
}

func TestHealth(t *testing.T) {
	f := newServerFixture(t)

	resp, body := f.request(t, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || gjson.Get(body, "status").String() != "ok" {
		t.Fatalf("unexpected health response: %d %s", resp.StatusCode, body)
	}
}

// Package http exposes the REST surface: conversational turns (text and
// voice), task and notification queries, and per-user preference updates.
// Authentication is out of scope; callers identify themselves with the
// X-User-ID header.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nudge/app/core/assistant"
	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
	"nudge/app/core/orchestrator/user"
	"nudge/app/core/remote"
	"nudge/app/core/scheduler"
	"nudge/app/core/speech"
	"nudge/app/core/ttm"
	"nudge/app/pkg/logger"
)

const maxAudioUploadBytes = 25 << 20

type Server struct {
	port            int
	server          *http.Server
	shutdownTimeout time.Duration

	users         *user.Store
	tasks         *task.Store
	notifications *notification.Ledger
	driver        *assistant.Driver
	transcriber   *speech.Transcriber
	synthesizer   *speech.Synthesizer
	sched         *scheduler.Scheduler

	startedAt time.Time
}

type Options struct {
	Port          int
	Users         *user.Store
	Tasks         *task.Store
	Notifications *notification.Ledger
	Driver        *assistant.Driver
	Transcriber   *speech.Transcriber
	Synthesizer   *speech.Synthesizer
	Scheduler     *scheduler.Scheduler
}

func NewServer(opts Options) *Server {
	return &Server{
		port:            opts.Port,
		shutdownTimeout: 5 * time.Second,
		users:           opts.Users,
		tasks:           opts.Tasks,
		notifications:   opts.Notifications,
		driver:          opts.Driver,
		transcriber:     opts.Transcriber,
		synthesizer:     opts.Synthesizer,
		sched:           opts.Scheduler,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/users", s.handleUsers)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/voice", s.handleVoiceChat)
	mux.HandleFunc("/api/tasks", s.handleTasks)
	mux.HandleFunc("/api/tasks/", s.handleTaskActions)
	mux.HandleFunc("/api/notifications", s.handleNotifications)
	mux.HandleFunc("/api/notifications/", s.handleNotificationActions)
	mux.HandleFunc("/api/me/stage", s.handleStage)
	mux.HandleFunc("/api/me/timezone", s.handleTimeZone)
	mux.HandleFunc("/api/me/voice", s.handleVoiceConfig)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error: %v", err)
		}
	}()

	logger.Info("HTTP listening on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type registerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type userResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	TTMStage  string `json:"ttm_stage"`
	TimeZone  string `json:"time_zone,omitempty"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	created, err := s.users.Create(r.Context(), req.Email, req.FirstName, req.LastName)
	if err != nil {
		// repeat registrations return the existing account
		if existing, lookupErr := s.users.GetByEmail(r.Context(), req.Email); lookupErr == nil {
			writeJSON(w, http.StatusOK, newUserResponse(existing))
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(created))
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	reply, err := s.driver.RunTurn(r.Context(), userID, req.Message)
	if err != nil {
		writeTurnError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

type voiceChatResponse struct {
	Transcript string `json:"transcript"`
	Reply      string `json:"reply"`
	Audio      string `json:"audio,omitempty"`
}

// handleVoiceChat runs the full voice pipeline: transcribe the uploaded
// clip, run a conversational turn on the text, then synthesize the reply
// with the user's voice settings. Synthesis failures degrade to text only.
func (s *Server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.transcriber == nil {
		http.Error(w, "voice input unavailable", http.StatusServiceUnavailable)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		http.Error(w, "expected multipart audio upload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "audio file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	transcript, err := s.transcriber.Transcribe(r.Context(), file, header.Filename)
	if err != nil {
		if errors.Is(err, speech.ErrEmptyTranscript) {
			http.Error(w, "could not understand the recording", http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	reply, err := s.driver.RunTurn(r.Context(), userID, transcript)
	if err != nil {
		writeTurnError(w, err)
		return
	}

	resp := voiceChatResponse{Transcript: transcript, Reply: reply}
	if s.synthesizer != nil {
		cfg, err := s.users.GetVoiceConfig(r.Context(), userID)
		if err == nil {
			audio, synthErr := s.synthesizer.Synthesize(r.Context(), reply, cfg)
			if synthErr != nil {
				logger.Error("Voice synthesis failed for user %d: %v", userID, synthErr)
			} else {
				resp.Audio = base64.StdEncoding.EncodeToString(audio)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	includeCompleted := r.URL.Query().Get("include_completed") == "true"
	tasks, err := s.tasks.List(r.Context(), userID, includeCompleted)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// handleTaskActions covers PATCH /api/tasks/{id},
// POST /api/tasks/{id}/complete and POST /api/tasks/{id}/subtasks/{sid}/complete.
func (s *Server) handleTaskActions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tasks/"), "/"), "/")
	taskID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodPatch {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.updateTask(w, r, userID, taskID)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var completeErr error
	switch {
	case len(parts) == 2 && parts[1] == "complete":
		completeErr = s.tasks.SetCompleted(r.Context(), userID, taskID, true)
	case len(parts) == 4 && parts[1] == "subtasks" && parts[3] == "complete":
		subtaskID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		completeErr = s.tasks.SetSubtaskCompleted(r.Context(), userID, taskID, subtaskID, true)
	default:
		http.NotFound(w, r)
		return
	}

	if errors.Is(completeErr, task.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if completeErr != nil {
		http.Error(w, completeErr.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type taskUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueAt       *int64  `json:"due_at"`
	IsCompleted *bool   `json:"is_completed"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request, userID, taskID int64) {
	var req taskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	updated, err := s.tasks.Apply(r.Context(), userID, taskID, task.Update{
		Title:       req.Title,
		Description: req.Description,
		DueAt:       req.DueAt,
		IsCompleted: req.IsCompleted,
	})
	if errors.Is(err, task.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	items, err := s.notifications.ListForUser(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": items})
}

// handleNotificationActions covers POST /api/notifications/{id}/read.
func (s *Server) handleNotificationActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/notifications/"), "/"), "/")
	if len(parts) != 2 || parts[1] != "read" {
		http.NotFound(w, r)
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.notifications.MarkRead(r.Context(), userID, id); err != nil {
		if errors.Is(err, notification.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type stageResponse struct {
	TTMStage string   `json:"ttm_stage"`
	Stages   []string `json:"stages,omitempty"`
}

func stageNames() []string {
	stages := ttm.All()
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, stage.String())
	}
	return names
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, err := s.users.Get(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, stageResponse{TTMStage: u.Stage.String(), Stages: stageNames()})
	case http.MethodPut:
		var req stageResponse
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		stage, err := ttm.Parse(req.TTMStage)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.users.SetStage(r.Context(), userID, stage); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.recompileInstructions(r.Context(), userID)
		writeJSON(w, http.StatusOK, stageResponse{TTMStage: stage.String()})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type timeZoneRequest struct {
	TimeZone string `json:"time_zone"`
}

func (s *Server) handleTimeZone(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req timeZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := s.users.SetTimeZone(r.Context(), userID, req.TimeZone); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"time_zone": req.TimeZone})
}

func (s *Server) handleVoiceConfig(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := s.users.GetVoiceConfig(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg user.VoiceConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		cfg.UserID = userID
		if err := s.users.UpsertVoiceConfig(r.Context(), cfg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := s.users.SetVUIConfigured(r.Context(), userID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.recompileInstructions(r.Context(), userID)
		writeJSON(w, http.StatusOK, cfg)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type healthResponse struct {
	Status    string                `json:"status"`
	UptimeSec int64                 `json:"uptime_sec"`
	Jobs      []scheduler.JobStatus `json:"jobs,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.sched != nil {
		resp.Jobs = s.sched.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// recompileInstructions pushes refreshed instructions after a preference
// change. Push failures are logged; the persisted change already took.
func (s *Server) recompileInstructions(ctx context.Context, userID int64) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		logger.Error("Failed to reload user %d: %v", userID, err)
		return
	}
	if err := s.driver.RecompileInstructions(ctx, u); err != nil {
		logger.Error("Failed to recompile instructions for user %d: %v", userID, err)
	}
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		http.Error(w, "X-User-ID header is required", http.StatusUnauthorized)
		return 0, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		http.Error(w, "invalid X-User-ID", http.StatusUnauthorized)
		return 0, false
	}
	if _, err := s.users.Get(r.Context(), userID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return 0, false
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return 0, false
	}
	return userID, true
}

func newUserResponse(u user.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		TTMStage:  u.Stage.String(),
		TimeZone:  u.TimeZone,
	}
}

func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, assistant.ErrTurnTimeout):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, remote.ErrActiveRun):
		http.Error(w, "a previous turn is still running, try again", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

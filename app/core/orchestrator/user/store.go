// Package user persists assistant users: identity, behavior-change stage,
// timezone, the remote session pair (assistant id + thread id), and the
// voice/persona preferences consumed by the instruction compiler and TTS.
package user

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"nudge/app/core/orchestrator/db"
	"nudge/app/core/ttm"
)

var ErrNotFound = errors.New("user: not found")

type User struct {
	ID            int64
	Email         string
	FirstName     string
	LastName      string
	Stage         ttm.Stage
	TimeZone      string
	AssistantID   string
	ThreadID      string
	VUIConfigured bool
	CreatedAt     int64
	UpdatedAt     int64
}

// Location resolves the user's IANA timezone, defaulting to UTC when unset
// or invalid.
func (u User) Location() *time.Location {
	if strings.TrimSpace(u.TimeZone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// VoiceConfig holds the persona knobs rendered into assistant instructions
// and the ElevenLabs voice settings used for speech synthesis. Empty string
// fields fall back to defaults at render time.
type VoiceConfig struct {
	UserID            int64   `json:"user_id"`
	VoiceID           string  `json:"voice_id,omitempty"`
	VoiceName         string  `json:"voice_name,omitempty"`
	PersonaTone       string  `json:"persona_tone,omitempty"`
	PersonaTraits     string  `json:"persona_traits,omitempty"`
	FormalityLevel    string  `json:"formality_level,omitempty"`
	InteractionStyle  string  `json:"interaction_style,omitempty"`
	ResponseLength    string  `json:"response_length,omitempty"`
	ReminderFrequency string  `json:"reminder_frequency,omitempty"`
	ReminderTone      string  `json:"reminder_tone,omitempty"`
	ProgressReporting string  `json:"progress_reporting,omitempty"`
	Stability         float64 `json:"stability"`
	SimilarityBoost   float64 `json:"similarity_boost"`
	Style             float64 `json:"style"`
	UseSpeakerBoost   bool    `json:"use_speaker_boost"`
}

func DefaultVoiceConfig(userID int64) VoiceConfig {
	return VoiceConfig{
		UserID:          userID,
		Stability:       0.5,
		SimilarityBoost: 0.8,
		UseSpeakerBoost: true,
	}
}

type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

func (s *Store) Create(ctx context.Context, email, firstName, lastName string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, errors.New("user: email is required")
	}
	now := time.Now().Unix()
	res, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO users (email, first_name, last_name, ttm_stage, time_zone, vui_configured, created_at, updated_at)
VALUES (?, ?, ?, ?, '', 0, ?, ?)`,
		email, firstName, lastName, ttm.DefaultStage.String(), now, now)
	if err != nil {
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{
		ID:        id,
		Email:     email,
		FirstName: firstName,
		LastName:  lastName,
		Stage:     ttm.DefaultStage,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *Store) Get(ctx context.Context, userID int64) (User, error) {
	return s.scanUser(s.db.Conn().QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, ttm_stage, time_zone, COALESCE(assistant_id, ''), COALESCE(thread_id, ''), vui_configured, created_at, updated_at FROM users WHERE id = ?`,
		userID))
}

func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.Conn().QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, ttm_stage, time_zone, COALESCE(assistant_id, ''), COALESCE(thread_id, ''), vui_configured, created_at, updated_at FROM users WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, email, first_name, last_name, ttm_stage, time_zone, COALESCE(assistant_id, ''), COALESCE(thread_id, ''), vui_configured, created_at, updated_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0, 8)
	for rows.Next() {
		var (
			u         User
			stageName string
			vui       int
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &stageName, &u.TimeZone, &u.AssistantID, &u.ThreadID, &vui, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Stage = ttm.ParseOrDefault(stageName)
		u.VUIConfigured = vui != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetStage persists a validated stage. The caller is responsible for
// recompiling the assistant instructions afterwards.
func (s *Store) SetStage(ctx context.Context, userID int64, stage ttm.Stage) error {
	if !stage.Valid() {
		return errors.New("user: invalid ttm stage")
	}
	return s.execOwned(ctx,
		`UPDATE users SET ttm_stage = ?, updated_at = ? WHERE id = ?`,
		stage.String(), time.Now().Unix(), userID)
}

func (s *Store) SetTimeZone(ctx context.Context, userID int64, tz string) error {
	if strings.TrimSpace(tz) != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.New("user: invalid time zone")
		}
	}
	return s.execOwned(ctx,
		`UPDATE users SET time_zone = ?, updated_at = ? WHERE id = ?`,
		strings.TrimSpace(tz), time.Now().Unix(), userID)
}

// SetSession stores the remote session pair. Both ids are set together so the
// thread is never persisted without the assistant it belongs to.
func (s *Store) SetSession(ctx context.Context, userID int64, assistantID, threadID string) error {
	if strings.TrimSpace(assistantID) == "" || strings.TrimSpace(threadID) == "" {
		return errors.New("user: assistant id and thread id are both required")
	}
	return s.execOwned(ctx,
		`UPDATE users SET assistant_id = ?, thread_id = ?, updated_at = ? WHERE id = ?`,
		assistantID, threadID, time.Now().Unix(), userID)
}

// SetThread replaces only the thread id of an existing session.
func (s *Store) SetThread(ctx context.Context, userID int64, threadID string) error {
	if strings.TrimSpace(threadID) == "" {
		return errors.New("user: thread id is required")
	}
	return s.execOwned(ctx,
		`UPDATE users SET thread_id = ?, updated_at = ? WHERE id = ? AND assistant_id IS NOT NULL AND assistant_id != ''`,
		threadID, time.Now().Unix(), userID)
}

func (s *Store) ClearThread(ctx context.Context, userID int64) error {
	return s.execOwned(ctx,
		`UPDATE users SET thread_id = NULL, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), userID)
}

func (s *Store) SetVUIConfigured(ctx context.Context, userID int64) error {
	return s.execOwned(ctx,
		`UPDATE users SET vui_configured = 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), userID)
}

// GetVoiceConfig returns the user's stored preferences, or defaults when the
// user has not configured a voice yet.
func (s *Store) GetVoiceConfig(ctx context.Context, userID int64) (VoiceConfig, error) {
	var (
		cfg   VoiceConfig
		boost int
	)
	err := s.db.Conn().QueryRowContext(ctx, `
SELECT user_id, voice_id, voice_name, persona_tone, persona_traits, formality_level, interaction_style,
       response_length, reminder_frequency, reminder_tone, progress_reporting,
       stability, similarity_boost, style, use_speaker_boost
FROM voice_configs WHERE user_id = ?`, userID).Scan(
		&cfg.UserID, &cfg.VoiceID, &cfg.VoiceName, &cfg.PersonaTone, &cfg.PersonaTraits,
		&cfg.FormalityLevel, &cfg.InteractionStyle, &cfg.ResponseLength, &cfg.ReminderFrequency,
		&cfg.ReminderTone, &cfg.ProgressReporting, &cfg.Stability, &cfg.SimilarityBoost,
		&cfg.Style, &boost)
	if err == sql.ErrNoRows {
		return DefaultVoiceConfig(userID), nil
	}
	if err != nil {
		return VoiceConfig{}, err
	}
	cfg.UseSpeakerBoost = boost != 0
	return cfg, nil
}

func (s *Store) UpsertVoiceConfig(ctx context.Context, cfg VoiceConfig) error {
	boost := 0
	if cfg.UseSpeakerBoost {
		boost = 1
	}
	_, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO voice_configs (user_id, voice_id, voice_name, persona_tone, persona_traits, formality_level,
	interaction_style, response_length, reminder_frequency, reminder_tone, progress_reporting,
	stability, similarity_boost, style, use_speaker_boost, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	voice_id = excluded.voice_id,
	voice_name = excluded.voice_name,
	persona_tone = excluded.persona_tone,
	persona_traits = excluded.persona_traits,
	formality_level = excluded.formality_level,
	interaction_style = excluded.interaction_style,
	response_length = excluded.response_length,
	reminder_frequency = excluded.reminder_frequency,
	reminder_tone = excluded.reminder_tone,
	progress_reporting = excluded.progress_reporting,
	stability = excluded.stability,
	similarity_boost = excluded.similarity_boost,
	style = excluded.style,
	use_speaker_boost = excluded.use_speaker_boost,
	updated_at = excluded.updated_at`,
		cfg.UserID, cfg.VoiceID, cfg.VoiceName, cfg.PersonaTone, cfg.PersonaTraits,
		cfg.FormalityLevel, cfg.InteractionStyle, cfg.ResponseLength, cfg.ReminderFrequency,
		cfg.ReminderTone, cfg.ProgressReporting, cfg.Stability, cfg.SimilarityBoost,
		cfg.Style, boost, time.Now().Unix())
	return err
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var (
		u         User
		stageName string
		vui       int
	)
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &stageName, &u.TimeZone, &u.AssistantID, &u.ThreadID, &vui, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Stage = ttm.ParseOrDefault(stageName)
	u.VUIConfigured = vui != 0
	return u, nil
}

func (s *Store) execOwned(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.Conn().ExecContext(ctx, query, args...)
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

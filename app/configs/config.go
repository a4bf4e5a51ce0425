package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Assistant AssistantConfig `json:"assistant"`
	Reminder  ReminderConfig  `json:"reminder"`
	Speech    SpeechConfig    `json:"speech"`
	Storage   StorageConfig   `json:"storage"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

type AssistantConfig struct {
	Name            string `json:"name"`
	Model           string `json:"model"`
	PollIntervalMS  int    `json:"poll_interval_ms"`
	MaxPollAttempts int    `json:"max_poll_attempts"`
}

type ReminderConfig struct {
	MaxPerTask       int `json:"max_per_task"`
	DueWindowDays    int `json:"due_window_days"`
	SweepIntervalMin int `json:"sweep_interval_min"`
}

type SpeechConfig struct {
	TranscribeModel string  `json:"transcribe_model"`
	VoiceModel      string  `json:"voice_model"`
	DefaultVoiceID  string  `json:"default_voice_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
	LogDir  string `json:"log_dir"`
}

type Manager struct {
	path string
	mu   sync.RWMutex
	cfg  Config
}

func DefaultPath() string {
	return filepath.Join("config", "config.json")
}

func NewManager(path string) (*Manager, error) {
	cfg := defaultConfig()
	mgr := &Manager{
		path: path,
		cfg:  cfg,
	}
	if err := mgr.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	if err := mgr.save(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Update(apply func(*Config)) (Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	apply(&m.cfg)
	applyDefaults(&m.cfg)
	if err := m.saveLocked(); err != nil {
		return Config{}, err
	}
	return m.cfg, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return err
	}
	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return err
	}
	m.cfg = fileCfg
	applyDefaults(&m.cfg)
	return nil
}

func (m *Manager) save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0644)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Assistant: AssistantConfig{
			Name:            "Nudge",
			Model:           "gpt-4o",
			PollIntervalMS:  500,
			MaxPollAttempts: 120,
		},
		Reminder: ReminderConfig{
			MaxPerTask:       4,
			DueWindowDays:    2,
			SweepIntervalMin: 30,
		},
		Speech: SpeechConfig{
			TranscribeModel: "whisper-1",
			VoiceModel:      "eleven_multilingual_v2",
			DefaultVoiceID:  "Xb7hH8MSUJpSbSDYk0k2",
			Stability:       0.5,
			SimilarityBoost: 0.8,
		},
		Storage: StorageConfig{
			DataDir: "output/db",
			LogDir:  "output/logs",
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if strings.TrimSpace(cfg.Assistant.Name) == "" {
		cfg.Assistant.Name = "Nudge"
	}
	if strings.TrimSpace(cfg.Assistant.Model) == "" {
		cfg.Assistant.Model = "gpt-4o"
	}
	if cfg.Assistant.PollIntervalMS <= 0 {
		cfg.Assistant.PollIntervalMS = 500
	}
	if cfg.Assistant.MaxPollAttempts <= 0 {
		cfg.Assistant.MaxPollAttempts = 120
	}
	if cfg.Reminder.MaxPerTask <= 0 {
		cfg.Reminder.MaxPerTask = 4
	}
	if cfg.Reminder.DueWindowDays <= 0 {
		cfg.Reminder.DueWindowDays = 2
	}
	if cfg.Reminder.SweepIntervalMin <= 0 {
		cfg.Reminder.SweepIntervalMin = 30
	}
	if strings.TrimSpace(cfg.Speech.TranscribeModel) == "" {
		cfg.Speech.TranscribeModel = "whisper-1"
	}
	if strings.TrimSpace(cfg.Speech.VoiceModel) == "" {
		cfg.Speech.VoiceModel = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.Speech.DefaultVoiceID) == "" {
		cfg.Speech.DefaultVoiceID = "Xb7hH8MSUJpSbSDYk0k2"
	}
	if cfg.Speech.Stability <= 0 || cfg.Speech.Stability > 1 {
		cfg.Speech.Stability = 0.5
	}
	if cfg.Speech.SimilarityBoost <= 0 || cfg.Speech.SimilarityBoost > 1 {
		cfg.Speech.SimilarityBoost = 0.8
	}
	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		cfg.Storage.DataDir = "output/db"
	}
	if strings.TrimSpace(cfg.Storage.LogDir) == "" {
		cfg.Storage.LogDir = "output/logs"
	}
}

package config

import (
	"path/filepath"
	"testing"
)

func TestApplyDefaultsSetsAssistantDefaults(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Assistant.Model != "gpt-4o" {
		t.Fatalf("unexpected model: %s", cfg.Assistant.Model)
	}
	if cfg.Assistant.PollIntervalMS != 500 {
		t.Fatalf("unexpected poll interval: %d", cfg.Assistant.PollIntervalMS)
	}
	if cfg.Assistant.MaxPollAttempts != 120 {
		t.Fatalf("unexpected max poll attempts: %d", cfg.Assistant.MaxPollAttempts)
	}
}

func TestApplyDefaultsSetsReminderDefaults(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Reminder.MaxPerTask != 4 {
		t.Fatalf("unexpected reminder cap: %d", cfg.Reminder.MaxPerTask)
	}
	if cfg.Reminder.DueWindowDays != 2 {
		t.Fatalf("unexpected due window: %d", cfg.Reminder.DueWindowDays)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Reminder: ReminderConfig{
			MaxPerTask:    9,
			DueWindowDays: 7,
		},
	}

	applyDefaults(&cfg)

	if cfg.Reminder.MaxPerTask != 9 {
		t.Fatalf("expected explicit cap to survive, got %d", cfg.Reminder.MaxPerTask)
	}
	if cfg.Reminder.DueWindowDays != 7 {
		t.Fatalf("expected explicit window to survive, got %d", cfg.Reminder.DueWindowDays)
	}
}

func TestApplyDefaultsSanitizesVoiceSettings(t *testing.T) {
	cfg := Config{
		Speech: SpeechConfig{
			Stability:       1.7,
			SimilarityBoost: -0.2,
		},
	}

	applyDefaults(&cfg)

	if cfg.Speech.Stability != 0.5 {
		t.Fatalf("expected stability to be reset, got %f", cfg.Speech.Stability)
	}
	if cfg.Speech.SimilarityBoost != 0.8 {
		t.Fatalf("expected similarity boost to be reset, got %f", cfg.Speech.SimilarityBoost)
	}
}

func TestManagerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if _, err := mgr.Update(func(c *Config) {
		c.Assistant.Model = "gpt-4o-mini"
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got := reloaded.Get().Assistant.Model; got != "gpt-4o-mini" {
		t.Fatalf("expected persisted model, got %s", got)
	}
	if got := reloaded.Get().Reminder.MaxPerTask; got != 4 {
		t.Fatalf("expected defaulted reminder cap, got %d", got)
	}
}

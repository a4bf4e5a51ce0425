package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	config "nudge/app/configs"
	"nudge/app/core/assistant"
	"nudge/app/core/interaction/cli"
	"nudge/app/core/interaction/http"
	"nudge/app/core/orchestrator/db"
	"nudge/app/core/orchestrator/notification"
	"nudge/app/core/orchestrator/task"
	"nudge/app/core/orchestrator/user"
	"nudge/app/core/remote"
	"nudge/app/core/scheduler"
	"nudge/app/core/speech"
	"nudge/app/pkg/logger"
)

func main() {
	// .env carries the API keys; a missing file is fine in deployments that
	// set real environment variables
	_ = godotenv.Load()

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := cfgManager.Get()

	if err := logger.Init(cfg.Storage.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Nudge starting...")

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		logger.Error("OPENAI_API_KEY is not set")
		os.Exit(1)
	}
	elevenLabsKey := os.Getenv("ELEVENLABS_API_KEY")

	database, err := db.NewSQLiteDB(filepath.Join(cfg.Storage.DataDir, "db"))
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	users := user.NewStore(database)
	tasks := task.NewStore(database)
	notifications := notification.NewLedger(database)

	client := remote.NewOpenAIClient(openaiKey)

	var driver *assistant.Driver
	dispatcher := assistant.NewDispatcher(tasks, notifications, users,
		func(ctx context.Context, u user.User) error {
			return driver.RecompileInstructions(ctx, u)
		})
	driver = assistant.NewDriver(client, users, dispatcher, assistant.DriverOptions{
		AssistantName:   cfg.Assistant.Name,
		Model:           cfg.Assistant.Model,
		PollInterval:    time.Duration(cfg.Assistant.PollIntervalMS) * time.Millisecond,
		MaxPollAttempts: cfg.Assistant.MaxPollAttempts,
	})

	transcriber := speech.NewTranscriber(openaiKey, cfg.Speech.TranscribeModel)
	var synthesizer *speech.Synthesizer
	if elevenLabsKey != "" {
		synthesizer = speech.NewSynthesizer(elevenLabsKey, cfg.Speech.VoiceModel, cfg.Speech.DefaultVoiceID)
	} else {
		logger.Info("ELEVENLABS_API_KEY not set, voice replies disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := assistant.NewSweep(tasks, notifications, users, assistant.ReminderPolicy{
		MaxPerTask: cfg.Reminder.MaxPerTask,
		DueWindow:  time.Duration(cfg.Reminder.DueWindowDays) * 24 * time.Hour,
	})

	jobScheduler := scheduler.New()
	err = jobScheduler.Register(scheduler.JobSpec{
		Name:       "reminder-sweep",
		Interval:   time.Duration(cfg.Reminder.SweepIntervalMin) * time.Minute,
		Timeout:    time.Minute,
		RunOnStart: true,
		Run:        sweep.Run,
	})
	if err != nil {
		logger.Error("Failed to register reminder sweep: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	server := http.NewServer(http.Options{
		Port:          cfg.Server.Port,
		Users:         users,
		Tasks:         tasks,
		Notifications: notifications,
		Driver:        driver,
		Transcriber:   transcriber,
		Synthesizer:   synthesizer,
		Scheduler:     jobScheduler,
	})

	go func() {
		if err := server.Start(ctx); err != nil {
			logger.Error("HTTP server crashed: %v", err)
			os.Exit(1)
		}
	}()

	// NUDGE_CLI_USER turns on a local chat loop for that user id
	if raw := os.Getenv("NUDGE_CLI_USER"); raw != "" {
		cliUserID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Error("Invalid NUDGE_CLI_USER: %v", err)
			os.Exit(1)
		}
		go func() {
			if err := cli.NewChat(driver, cliUserID).Start(ctx); err != nil {
				logger.Error("CLI loop error: %v", err)
			}
		}()
	}

	logger.Info("Nudge is ready to serve.")
	fmt.Printf("- Chat API:   http://localhost:%d/api/chat (POST)\n", cfg.Server.Port)
	fmt.Printf("- Voice API:  http://localhost:%d/api/chat/voice (POST)\n", cfg.Server.Port)
	fmt.Printf("- Health:     http://localhost:%d/health\n", cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Shutting down...", sig)
	cancel()
}

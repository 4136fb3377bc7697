package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stupiduntilnot/tally/internal/approval"
	"github.com/stupiduntilnot/tally/internal/backup"
	cmdpkg "github.com/stupiduntilnot/tally/internal/commander"
	"github.com/stupiduntilnot/tally/internal/config"
	"github.com/stupiduntilnot/tally/internal/control"
	"github.com/stupiduntilnot/tally/internal/db"
	"github.com/stupiduntilnot/tally/internal/dispatch"
	"github.com/stupiduntilnot/tally/internal/dummy"
	"github.com/stupiduntilnot/tally/internal/poller"
	"github.com/stupiduntilnot/tally/internal/report"
	"github.com/stupiduntilnot/tally/internal/telegram"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("TALLY_CONFIG"), "YAML config file path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[tallybot] %v", err)
	}

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("[tallybot] %v", err)
	}
	defer database.Close()

	if err := db.InitSchema(database); err != nil {
		log.Fatalf("[tallybot] failed to init schema: %v", err)
	}

	rootEventID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"role":      "tallybot",
		"pid":       os.Getpid(),
		"commander": cfg.Commander,
	})
	if err != nil {
		log.Printf("[tallybot] failed to log process.started: %v", err)
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		log.Fatalf("[tallybot] failed to init commander: %v", err)
	}

	enabled := cfg.Telegram.CommandsEnabled && cfg.Telegram.ChatID != 0
	correlator := approval.NewCorrelator(commander, cfg.Telegram.ChatID, enabled)
	store := &db.Store{DB: database}
	reports := &report.Builder{Store: store}
	backups := &backup.Service{DB: database, Commander: commander, Dir: cfg.BackupDir}

	dispatcher := &dispatch.Dispatcher{
		Commander:     commander,
		Store:         store,
		Reports:       reports,
		Backups:       backups,
		Approvals:     correlator,
		DB:            database,
		ParentEventID: &rootEventID,
		Enabled:       enabled,
		ChatID:        cfg.Telegram.ChatID,
		AllowedUsers:  cfg.Telegram.AllowedUsers(),
		ProfileName:   cfg.ProfileName,
	}
	dispatcher.Init()

	loop := &poller.Poller{
		Commander:     commander,
		Handler:       dispatcher,
		PollTimeout:   cfg.Telegram.PollTimeoutSeconds,
		RetryDelay:    time.Duration(cfg.RetryDelaySeconds) * time.Second,
		Circuit:       control.NewCircuitBreaker(5, 30*time.Second),
		DB:            database,
		ParentEventID: &rootEventID,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf(
		"tallybot running commander=%s chat_id=%d enabled=%t poll_timeout=%ds",
		cfg.Commander, cfg.Telegram.ChatID, enabled, cfg.Telegram.PollTimeoutSeconds,
	)

	loop.Run(ctx)
	log.Printf("[tallybot] shutdown complete")
}

func newCommander(cfg *config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		requestTimeout := time.Duration(cfg.Telegram.PollTimeoutSeconds+20) * time.Second
		return telegram.NewClient(cfg.Telegram.APIBase(), requestTimeout), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyPollScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

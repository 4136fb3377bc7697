// tallyctl performs local admin operations against the ledger database.
// Destructive operations are confirmed through the chat channel when the
// bot integration is configured. The tool runs its own poll loop to
// receive the operator's answer, so stop the tallybot daemon first: the
// Bot API allows only one getUpdates consumer per token.
package main

import (
	"context"
	"errors"
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
	"github.com/stupiduntilnot/tally/internal/db"
	"github.com/stupiduntilnot/tally/internal/dispatch"
	"github.com/stupiduntilnot/tally/internal/dummy"
	"github.com/stupiduntilnot/tally/internal/ops"
	"github.com/stupiduntilnot/tally/internal/poller"
	"github.com/stupiduntilnot/tally/internal/report"
	"github.com/stupiduntilnot/tally/internal/telegram"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: tallyctl [-config path] <command>

Commands:
  delete-profile <name>    remove a business profile and its transactions
  delete-category <name>   remove an unused category
`)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("TALLY_CONFIG"), "YAML config file path")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[tallyctl] %v", err)
	}

	database, err := db.OpenDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("[tallyctl] %v", err)
	}
	defer database.Close()

	if err := db.InitSchema(database); err != nil {
		log.Fatalf("[tallyctl] failed to init schema: %v", err)
	}

	rootEventID, err := db.LogEvent(database, nil, db.EventProcessStarted, map[string]any{
		"role":    "tallyctl",
		"pid":     os.Getpid(),
		"command": flag.Arg(0),
	})
	if err != nil {
		log.Printf("[tallyctl] failed to log process.started: %v", err)
	}

	commander, err := newCommander(&cfg)
	if err != nil {
		log.Fatalf("[tallyctl] failed to init commander: %v", err)
	}

	enabled := cfg.Telegram.CommandsEnabled && cfg.Telegram.ChatID != 0
	correlator := approval.NewCorrelator(commander, cfg.Telegram.ChatID, enabled)
	store := &db.Store{DB: database}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only the /approve and /reject answers matter here, but routing the
	// full command table keeps the chat responsive while tallyctl waits.
	if enabled {
		dispatcher := &dispatch.Dispatcher{
			Commander:     commander,
			Store:         store,
			Reports:       &report.Builder{Store: store},
			Backups:       &backup.Service{DB: database, Commander: commander, Dir: cfg.BackupDir},
			Approvals:     correlator,
			DB:            database,
			ParentEventID: &rootEventID,
			Enabled:       true,
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
			DB:            database,
			ParentEventID: &rootEventID,
		}
		go loop.Run(ctx)
	}

	guarded := &ops.Guarded{
		Store:         store,
		Approvals:     correlator,
		Timeout:       time.Duration(cfg.ApprovalTimeoutMinutes) * time.Minute,
		DB:            database,
		ParentEventID: &rootEventID,
	}

	if err := run(ctx, guarded, store, flag.Args()); err != nil {
		switch {
		case errors.Is(err, ops.ErrRejected):
			log.Fatalf("[tallyctl] operator rejected the action")
		case errors.Is(err, ops.ErrTimedOut):
			log.Fatalf("[tallyctl] no confirmation arrived in time")
		default:
			log.Fatalf("[tallyctl] %v", err)
		}
	}
	log.Printf("[tallyctl] done")
}

func run(ctx context.Context, guarded *ops.Guarded, store *db.Store, args []string) error {
	switch args[0] {
	case "delete-profile":
		if len(args) != 2 {
			return fmt.Errorf("usage: tallyctl delete-profile <name>")
		}
		profile, err := store.ProfileByName(args[1])
		if err != nil {
			return err
		}
		return guarded.DeleteBusinessProfile(ctx, profile.ID)
	case "delete-category":
		if len(args) != 2 {
			return fmt.Errorf("usage: tallyctl delete-category <name>")
		}
		category, err := store.CategoryByName(args[1])
		if err != nil {
			return err
		}
		return guarded.DeleteCategory(ctx, category.ID)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
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

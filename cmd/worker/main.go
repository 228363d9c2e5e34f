// Worker deletes expired sessions on CLEANUP_SCHEDULE. Run it when CLEANUP_IN_PROCESS=false
// on the servers, or pass -once to run a single sweep and exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"helpdesk-auth/backend/internal/config"
	"helpdesk-auth/backend/internal/db"
	"helpdesk-auth/backend/internal/logging"
	"helpdesk-auth/backend/internal/session/janitor"
	sessionrepo "helpdesk-auth/backend/internal/session/repository"
)

func main() {
	once := flag.Bool("once", false, "run one cleanup pass and exit")
	flag.Parse()
	if err := run(*once); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	j, err := janitor.New(sessionrepo.NewPostgresRepository(pool), cfg.CleanupSchedule, janitor.DefaultTimeout, logger)
	if err != nil {
		return err
	}
	if once {
		n, err := j.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.WithField("deleted", n).Info("expired sessions removed")
		return nil
	}

	logger.WithField("schedule", cfg.CleanupSchedule).Info("worker: started")
	j.Start()
	<-ctx.Done()
	logger.Info("worker: shutting down")
	return j.Stop(context.Background())
}

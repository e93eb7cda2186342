// worker removes expired rows from the Postgres server-side session store. Run it alongside the
// server when SESSION_STORE=postgres; the in-memory store sweeps itself.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loginguard/internal/config"
	"loginguard/internal/db"
	"loginguard/internal/logging"
	"loginguard/internal/sessionstore"
)

const (
	sweepInterval = time.Minute
	sweepTimeout  = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.LogLevel)
	if cfg.DatabaseURL == "" {
		log.Error("worker: DATABASE_URL is required")
		os.Exit(1)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("worker: db", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	sessions := sessionstore.NewPostgres(conn)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker: sweeping expired sessions", "interval", sweepInterval)
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		n, err := sessions.DeleteExpired(sweepCtx)
		cancel()
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("worker: sweep failed", "error", err)
		case n > 0:
			log.Info("worker: removed expired sessions", "count", n)
		}

		select {
		case <-ctx.Done():
			log.Info("worker: stopped")
			return
		case <-t.C:
		}
	}
}

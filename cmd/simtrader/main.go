package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"simtrader/internal/api"
	"simtrader/internal/backtest"
	"simtrader/internal/config"
	"simtrader/internal/ingest"
	"simtrader/internal/logging"
	"simtrader/internal/paper"
	"simtrader/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup(logging.Options{})
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logFile := logging.Setup(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logFile.Close()

	log.Info().
		Str("port", cfg.HTTPPort).
		Str("environment", cfg.Environment).
		Str("account_id", cfg.AccountID).
		Msg("starting simtrader service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Initialize database
	repo, err := store.NewRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer repo.Close()

	if err := repo.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("connected to PostgreSQL")

	if err := store.RunMigrations(ctx, repo.Pool()); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations complete")

	// NATS is optional: without it orders arrive only over HTTP and fills
	// are not published.
	var nc *nats.Conn
	var publisher paper.FillPublisher
	if cfg.NATSURLs != "" {
		nc, err = ingest.ConnectNATS(cfg.NATSURLs, cfg.NATSCredsFile, cfg.NATSCreds)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()

		p, err := ingest.NewPublisher(ctx, nc)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create fill publisher")
		}
		publisher = p
	} else {
		log.Warn().Msg("NATS_URLS not set, order intake over NATS disabled")
	}

	account, err := paper.New(ctx, paper.Options{
		AccountID:    cfg.AccountID,
		InitialCash:  cfg.InitialCash,
		Costs:        cfg.Costs,
		QuoteTimeout: cfg.QuoteTimeout,
		Sink:         paper.NewRecorder(repo, publisher),
	}, repo, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start paper account")
	}

	accountDone := make(chan struct{})
	go func() {
		defer close(accountDone)
		account.Run(ctx, cfg.MarkInterval, cfg.SnapshotInterval)
	}()

	if nc != nil {
		consumer := ingest.NewConsumer(nc, account)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("NATS consumer error")
			}
		}()
	}

	// Start HTTP server
	runner := backtest.NewRunner(repo, backtest.DefaultOptions())
	srv := api.NewServer(account, repo, runner, nc)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info().Msg("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Stop intake and marks, let the account save its final snapshot, then
	// drain pending events into the store.
	cancel()
	<-accountDone
	account.Close()

	log.Info().Msg("shutdown complete")
}

// Command indexer runs the producer process: it backfills program
// history until the stored target is reached, then tails live program
// logs, enqueueing every discovered signature into the transaction bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/sync/errgroup"

	"github.com/dlnlabs/dln-indexer/internal/analytics"
	"github.com/dlnlabs/dln-indexer/internal/bus"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/config"
	"github.com/dlnlabs/dln-indexer/internal/coordinator"
	"github.com/dlnlabs/dln-indexer/internal/health"
	"github.com/dlnlabs/dln-indexer/internal/indexer"
	"github.com/dlnlabs/dln-indexer/internal/logging"
	"github.com/dlnlabs/dln-indexer/internal/store"
)

func main() {
	log := logging.Component("indexer")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, err := store.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	broker, err := bus.Connect(bus.Config{
		URL:        cfg.AMQPURL,
		QueueName:  cfg.QueueName,
		RetryDelay: cfg.RetryDelay,
		MaxRetries: cfg.MaxRetries,
		Prefetch:   cfg.PrefetchCount,
	}, log)
	if err != nil {
		kv.Close()
		log.Fatal().Err(err).Msg("failed to connect to broker")
	}

	writer, err := analytics.Open(ctx, analytics.Options{
		Addr:     cfg.ClickHouseAddr,
		Database: cfg.ClickHouseDatabase,
		Username: cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
		Table:    cfg.TransactionsTable,
	}, log)
	if err != nil {
		broker.Close()
		kv.Close()
		log.Fatal().Err(err).Msg("failed to connect to clickhouse")
	}

	chainClient := chain.NewClient(cfg.RPCEndpoint)

	backfill := indexer.NewBackfill(chainClient, broker, kv, indexer.BackfillConfig{
		ProgramID:          cfg.ProgramID,
		TargetTransactions: cfg.TargetTransactions,
		BatchSize:          cfg.BatchSize,
	}, log)

	realtime := indexer.NewRealtime(
		chain.NewSubscriber(cfg.WSEndpoint),
		chainClient,
		broker,
		kv,
		indexer.RealtimeConfig{ProgramID: cfg.ProgramID, SeenTTL: cfg.SeenTTL},
		log,
	)

	healthServer := health.NewServer(cfg.HealthPort, health.Metrics{
		Mode:               "init",
		ProgramID:          cfg.ProgramID,
		BatchSize:          cfg.BatchSize,
		Concurrency:        cfg.PrefetchCount,
		RetryAttempts:      cfg.MaxRetries,
		TargetTransactions: cfg.TargetTransactions,
	}, log)
	healthServer.Start()
	healthServer.SetReady(true)

	coord := coordinator.New(backfill, realtime, kv, writer, coordinator.Config{
		ProgramID:          cfg.ProgramID,
		TargetTransactions: cfg.TargetTransactions,
	}, log)
	coord.OnModeChange = func(mode coordinator.Mode) {
		healthServer.SetMode(string(mode))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return coord.Run(gctx)
	})

	err = g.Wait()

	// Shutdown order: producers are already stopped by context; then
	// health server, broker, store, analytics connection.
	healthServer.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if herr := healthServer.Shutdown(shutdownCtx); herr != nil {
		log.Warn().Err(herr).Msg("health server shutdown failed")
	}
	if berr := broker.Close(); berr != nil {
		log.Warn().Err(berr).Msg("broker close failed")
	}
	if serr := kv.Close(); serr != nil {
		log.Warn().Err(serr).Msg("store close failed")
	}
	if werr := writer.Close(); werr != nil {
		log.Warn().Err(werr).Msg("clickhouse close failed")
	}

	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("indexer exited with error")
		os.Exit(1)
	}
	log.Info().Msg("indexer stopped")
}

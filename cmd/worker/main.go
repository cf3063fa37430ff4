// Command worker runs the enrichment consumer: it pulls ingest messages
// from the transaction bus, fetches and parses each transaction, prices
// the token flows, and writes analytics rows to ClickHouse.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/dlnlabs/dln-indexer/internal/analytics"
	"github.com/dlnlabs/dln-indexer/internal/bus"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/config"
	"github.com/dlnlabs/dln-indexer/internal/dln"
	"github.com/dlnlabs/dln-indexer/internal/health"
	"github.com/dlnlabs/dln-indexer/internal/logging"
	"github.com/dlnlabs/dln-indexer/internal/oracle"
	"github.com/dlnlabs/dln-indexer/internal/store"
	"github.com/dlnlabs/dln-indexer/internal/worker"
)

func main() {
	log := logging.Component("worker")

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

	prices := oracle.New(oracle.Config{
		Endpoint:    cfg.OracleEndpoint,
		APIKey:      cfg.OracleAPIKey,
		Timeout:     cfg.OracleTimeout,
		PriceTTL:    cfg.PriceTTL,
		MinInterval: cfg.OracleMinInterval,
	}, kv, logging.Component("oracle"))

	w := worker.New(
		chain.NewClient(cfg.RPCEndpoint),
		dln.NewParser([]string{cfg.ProgramID}, logging.Component("parser")),
		prices,
		writer,
		kv,
		log,
	)

	healthServer := health.NewServer(cfg.HealthPort, health.Metrics{
		Mode:               "worker",
		ProgramID:          cfg.ProgramID,
		BatchSize:          cfg.BatchSize,
		Concurrency:        cfg.PrefetchCount,
		RetryAttempts:      cfg.MaxRetries,
		TargetTransactions: cfg.TargetTransactions,
	}, log)
	healthServer.Start()
	healthServer.SetReady(true)

	err = broker.Consume(ctx, w.Handle)

	healthServer.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if herr := healthServer.Shutdown(shutdownCtx); herr != nil {
		log.Warn().Err(herr).Msg("health server shutdown failed")
	}
	prices.Close()
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
		log.Error().Err(err).Msg("worker exited with error")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}

// Package worker consumes ingest messages from the bus and enriches
// them into analytics rows: fetch, parse, price, insert, count.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dlnlabs/dln-indexer/internal/analytics"
	"github.com/dlnlabs/dln-indexer/internal/bus"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/dln"
	"github.com/dlnlabs/dln-indexer/internal/metrics"
	"github.com/dlnlabs/dln-indexer/internal/resilience"
	"github.com/dlnlabs/dln-indexer/internal/store"
)

// maxLogSamples caps the log lines attached when a transaction is
// skipped, for observability without log flooding.
const maxLogSamples = 20

// PriceSource resolves USD prices by mint.
type PriceSource interface {
	GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error)
}

// Counter is the slice of the idempotency store the worker writes.
type Counter interface {
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
}

// Worker enriches one ingest message at a time. Instances compete on
// the shared queue; idempotency comes from the analytics table's
// primary-key dedup, not from coordination.
type Worker struct {
	chain  chain.Client
	parser *dln.Parser
	prices PriceSource
	writer analytics.Writer
	store  Counter
	log    zerolog.Logger

	fetchRetry resilience.Policy
}

// New wires a worker.
func New(chainClient chain.Client, parser *dln.Parser, prices PriceSource, writer analytics.Writer, counter Counter, log zerolog.Logger) *Worker {
	return &Worker{
		chain:  chainClient,
		parser: parser,
		prices: prices,
		writer: writer,
		store:  counter,
		log:    log,
		fetchRetry: resilience.Policy{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     3 * time.Second,
		},
	}
}

// Handle implements bus.Handler. Returning (true, nil) acks; returning
// false routes the message through the retry queue.
func (w *Worker) Handle(ctx context.Context, msg *bus.IngestMessage, meta bus.Meta) (bool, error) {
	log := w.log.With().
		Str("signature", msg.Signature).
		Str("source", string(msg.Source)).
		Int("attempt", meta.Attempt).
		Logger()

	tx, err := w.fetchTransaction(ctx, msg.Signature)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			// Only give up once the broker has also retried enough; a
			// confirmed-but-unindexed transaction may appear shortly.
			if meta.Attempt >= 2 {
				log.Warn().Msg("transaction not found after retries, dropping")
				metrics.MessagesConsumed.WithLabelValues("dropped").Inc()
				return true, nil
			}
			metrics.MessagesConsumed.WithLabelValues("retry").Inc()
			return false, nil
		}
		if IsPermanent(err) {
			log.Error().Err(err).Msg("permanent fetch failure, dropping")
			metrics.ProcessingErrors.WithLabelValues("permanent").Inc()
			return true, nil
		}
		metrics.ProcessingErrors.WithLabelValues("transient").Inc()
		return false, fmt.Errorf("fetch %s: %w", msg.Signature, err)
	}

	events := w.parser.Parse(tx)
	if len(events) == 0 {
		samples := tx.LogMessages
		if len(samples) > maxLogSamples {
			samples = samples[:maxLogSamples]
		}
		log.Info().Strs("logs", samples).Msg("no DLN event in transaction, skipping")
		metrics.MessagesConsumed.WithLabelValues("skipped").Inc()
		return true, nil
	}
	event := events[0]

	status := analytics.StatusSuccess
	if tx.Failed {
		status = analytics.StatusFailed
	}

	mints := collectMints(tx)
	transfers := detailedTransfers(tx)

	prices, err := w.prices.GetPrices(ctx, mints)
	if err != nil {
		// Degrade to zero USD rather than stall ingestion.
		log.Warn().Err(err).Msg("price lookup failed, continuing with zero USD")
		if prices == nil {
			prices = map[string]decimal.Decimal{}
		}
	}

	rows := BuildRows(tx, event, msg.ProgramID, status, transfers, prices)

	if err := w.writer.Insert(ctx, rows); err != nil {
		if IsPermanent(err) {
			log.Error().Err(err).Msg("permanent insert failure, dropping")
			metrics.ProcessingErrors.WithLabelValues("permanent").Inc()
			return true, nil
		}
		metrics.ProcessingErrors.WithLabelValues("transient").Inc()
		return false, fmt.Errorf("insert %s: %w", msg.Signature, err)
	}

	if _, err := w.store.IncrBy(ctx, store.ProcessedCountKey(msg.ProgramID), int64(len(rows))); err != nil {
		// The rows are durable; a counter miss only delays the backfill
		// stop signal.
		log.Warn().Err(err).Msg("failed to increment processed counter")
	}

	metrics.MessagesConsumed.WithLabelValues("ack").Inc()
	metrics.RowsInserted.Add(float64(len(rows)))

	log.Info().
		Str("event_type", string(event.Type)).
		Str("order_id", event.OrderID).
		Int("rows", len(rows)).
		Str("status", status).
		Msg("transaction enriched")

	return true, nil
}

func (w *Worker) fetchTransaction(ctx context.Context, signature string) (*chain.Transaction, error) {
	var tx *chain.Transaction
	policy := w.fetchRetry
	policy.OnRetry = resilience.LogRetries(w.log, "fetch transaction")

	err := resilience.Do(ctx, policy, func() error {
		var ferr error
		tx, ferr = w.chain.Transaction(ctx, signature)
		return ferr
	})
	return tx, err
}

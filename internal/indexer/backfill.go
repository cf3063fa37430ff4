// Package indexer contains the two signature producers: the historical
// backfiller and the realtime log subscriber.
package indexer

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dlnlabs/dln-indexer/internal/bus"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/metrics"
	"github.com/dlnlabs/dln-indexer/internal/resilience"
	"github.com/dlnlabs/dln-indexer/internal/store"
)

// CounterReader reads the durable processed counter; it is the
// authoritative backfill stop signal because it reflects analytics
// rows, not publishes.
type CounterReader interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// BackfillConfig tunes the historical walk.
type BackfillConfig struct {
	ProgramID          string
	TargetTransactions int64
	BatchSize          int
	// UntilSignature optionally bounds the walk on the far side, for
	// gap fills.
	UntilSignature string
	QuietSleep     time.Duration
	ErrorSleep     time.Duration
}

// BackfillReport summarizes a finished run.
type BackfillReport struct {
	Batches   int
	Published int64
	Failed    int64
	Elapsed   time.Duration
	// PerSecond is the publish throughput over the run.
	PerSecond float64
}

// Backfill walks program signatures backwards from the tip, enqueuing
// each into the bus, until the processed counter reaches the target, a
// page comes back empty, or the until signature is reached.
type Backfill struct {
	chain   chain.Client
	bus     bus.Publisher
	counter CounterReader
	cfg     BackfillConfig
	log     zerolog.Logger

	publishRetry resilience.Policy
}

// NewBackfill wires a backfill producer.
func NewBackfill(chainClient chain.Client, publisher bus.Publisher, counter CounterReader, cfg BackfillConfig, log zerolog.Logger) *Backfill {
	if cfg.QuietSleep == 0 {
		cfg.QuietSleep = 100 * time.Millisecond
	}
	if cfg.ErrorSleep == 0 {
		cfg.ErrorSleep = 5 * time.Second
	}
	return &Backfill{
		chain:   chainClient,
		bus:     publisher,
		counter: counter,
		cfg:     cfg,
		log:     log,
		publishRetry: resilience.Policy{
			MaxAttempts:  4,
			InitialDelay: 1 * time.Second,
			Multiplier:   2.0,
			MaxDelay:     4 * time.Second,
			OnRetry:      resilience.LogRetries(log, "backfill publish"),
		},
	}
}

// Run executes the walk to termination or context cancellation.
func (b *Backfill) Run(ctx context.Context) (*BackfillReport, error) {
	start := time.Now()
	report := &BackfillReport{}
	before := ""

	b.log.Info().
		Str("program_id", b.cfg.ProgramID).
		Int64("target", b.cfg.TargetTransactions).
		Int("batch_size", b.cfg.BatchSize).
		Msg("backfill started")

	for {
		if err := ctx.Err(); err != nil {
			return b.finish(report, start, "cancelled"), err
		}

		processed, err := b.processedCount(ctx)
		if err != nil {
			b.log.Warn().Err(err).Msg("failed to read processed counter")
		} else if processed >= b.cfg.TargetTransactions {
			return b.finish(report, start, "target reached"), nil
		} else {
			b.logProgress(report, start, processed)
		}

		page, err := b.chain.SignaturesForAddress(ctx, b.cfg.ProgramID, before, b.cfg.UntilSignature, b.cfg.BatchSize)
		if err != nil {
			b.log.Warn().Err(err).Str("before", before).Msg("signature page fetch failed, retrying cursor")
			if !sleepCtx(ctx, b.cfg.ErrorSleep) {
				return b.finish(report, start, "cancelled"), ctx.Err()
			}
			continue
		}
		if len(page) == 0 {
			return b.finish(report, start, "history exhausted"), nil
		}

		report.Batches++
		sawUntil := false
		for _, info := range page {
			if b.cfg.UntilSignature != "" && info.Signature == b.cfg.UntilSignature {
				sawUntil = true
				break
			}
			if b.publishOne(ctx, info) {
				report.Published++
			} else {
				report.Failed++
			}
		}
		if sawUntil {
			return b.finish(report, start, "until signature reached"), nil
		}

		before = page[len(page)-1].Signature
		if !sleepCtx(ctx, b.cfg.QuietSleep) {
			return b.finish(report, start, "cancelled"), ctx.Err()
		}
	}
}

// publishOne retries locally (1/2/4 s); exhaustion counts the signature
// as failed and the walk continues.
func (b *Backfill) publishOne(ctx context.Context, info chain.SignatureInfo) bool {
	msg := &bus.IngestMessage{
		Signature:  info.Signature,
		Slot:       info.Slot,
		Source:     bus.SourceHistory,
		ProgramID:  b.cfg.ProgramID,
		EnqueuedAt: time.Now().UTC(),
		Priority:   bus.PriorityNormal,
	}
	if info.BlockTime != nil {
		msg.BlockTime = info.BlockTime.Unix()
	}

	err := resilience.Do(ctx, b.publishRetry, func() error {
		ok, perr := b.bus.Publish(ctx, bus.RoutingKeyIngest, msg)
		if perr != nil {
			return perr
		}
		if !ok {
			return fmt.Errorf("broker rejected publish for %s", info.Signature)
		}
		return nil
	})
	if err != nil {
		b.log.Error().Err(err).Str("signature", info.Signature).Msg("publish failed after retries")
		return false
	}
	metrics.MessagesPublished.WithLabelValues(string(bus.SourceHistory)).Inc()
	return true
}

func (b *Backfill) processedCount(ctx context.Context) (int64, error) {
	val, ok, err := b.counter.Get(ctx, store.ProcessedCountKey(b.cfg.ProgramID))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

func (b *Backfill) logProgress(report *BackfillReport, start time.Time, processed int64) {
	if report.Batches == 0 || report.Batches%10 != 0 {
		return
	}
	elapsed := time.Since(start)
	rate := float64(report.Published) / elapsed.Seconds()

	remaining := b.cfg.TargetTransactions - processed
	var eta time.Duration
	if rate > 0 && remaining > 0 {
		eta = time.Duration(float64(remaining)/rate) * time.Second
	}

	b.log.Info().
		Int("batches", report.Batches).
		Int64("published", report.Published).
		Int64("processed", processed).
		Float64("per_second", rate).
		Dur("eta", eta).
		Msg("backfill progress")
}

func (b *Backfill) finish(report *BackfillReport, start time.Time, reason string) *BackfillReport {
	report.Elapsed = time.Since(start)
	if report.Elapsed > 0 {
		report.PerSecond = float64(report.Published) / report.Elapsed.Seconds()
	}
	b.log.Info().
		Str("reason", reason).
		Int("batches", report.Batches).
		Int64("published", report.Published).
		Int64("failed", report.Failed).
		Dur("elapsed", report.Elapsed).
		Float64("per_second", report.PerSecond).
		Msg("backfill finished")
	return report
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

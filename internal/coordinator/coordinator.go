// Package coordinator decides at startup whether the producer process
// backfills history or tails live logs, and sequences the transition
// between the two.
package coordinator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dlnlabs/dln-indexer/internal/indexer"
	"github.com/dlnlabs/dln-indexer/internal/store"
)

// Mode is the producer operating mode.
type Mode string

const (
	ModeBackfill Mode = "backfill"
	ModeRealtime Mode = "realtime"
)

// BackfillRunner runs the historical walk to termination.
type BackfillRunner interface {
	Run(ctx context.Context) (*indexer.BackfillReport, error)
}

// RealtimeRunner tails live logs until the context ends.
type RealtimeRunner interface {
	Run(ctx context.Context) error
}

// CountFallback answers "how many signatures are stored" when the
// Redis counter is absent.
type CountFallback interface {
	CountDistinctSignatures(ctx context.Context, programID string) (int64, error)
}

// KV is the slice of the idempotency store the coordinator reads.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
}

// Config identifies the program and the backfill target.
type Config struct {
	ProgramID          string
	TargetTransactions int64
}

// Coordinator owns the producer mode state machine:
// Init → CheckCount → {Backfill → Realtime | Realtime} → Shutdown.
// Backfill and realtime never run concurrently.
type Coordinator struct {
	backfill BackfillRunner
	realtime RealtimeRunner
	kv       KV
	fallback CountFallback
	cfg      Config
	log      zerolog.Logger

	// OnModeChange, when set, is notified before each mode starts; the
	// health surface uses it to report the current mode.
	OnModeChange func(Mode)
}

// New wires a coordinator.
func New(backfill BackfillRunner, realtime RealtimeRunner, kv KV, fallback CountFallback, cfg Config, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		backfill: backfill,
		realtime: realtime,
		kv:       kv,
		fallback: fallback,
		cfg:      cfg,
		log:      log,
	}
}

// Run executes the state machine until the context ends.
func (c *Coordinator) Run(ctx context.Context) error {
	count, err := c.storedCount(ctx)
	if err != nil {
		return fmt.Errorf("check stored count: %w", err)
	}

	c.log.Info().
		Int64("stored", count).
		Int64("target", c.cfg.TargetTransactions).
		Msg("startup count check")

	if count < c.cfg.TargetTransactions {
		c.setMode(ModeBackfill)
		if _, err := c.backfill.Run(ctx); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	c.setMode(ModeRealtime)
	if err := c.realtime.Run(ctx); err != nil {
		return fmt.Errorf("realtime: %w", err)
	}
	return nil
}

// storedCount reads the Redis processed counter first and falls back to
// a distinct-signature count from the analytics store.
func (c *Coordinator) storedCount(ctx context.Context) (int64, error) {
	val, ok, err := c.kv.Get(ctx, store.ProcessedCountKey(c.cfg.ProgramID))
	if err != nil {
		c.log.Warn().Err(err).Msg("counter read failed, falling back to analytics store")
	} else if ok {
		count, perr := strconv.ParseInt(val, 10, 64)
		if perr == nil {
			return count, nil
		}
		c.log.Warn().Str("value", val).Msg("unparseable counter, falling back to analytics store")
	}

	return c.fallback.CountDistinctSignatures(ctx, c.cfg.ProgramID)
}

func (c *Coordinator) setMode(mode Mode) {
	c.log.Info().Str("mode", string(mode)).Msg("entering mode")
	if c.OnModeChange != nil {
		c.OnModeChange(mode)
	}
}

package indexer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dlnlabs/dln-indexer/internal/bus"
	"github.com/dlnlabs/dln-indexer/internal/chain"
	"github.com/dlnlabs/dln-indexer/internal/metrics"
	"github.com/dlnlabs/dln-indexer/internal/store"
)

// RealtimeConfig tunes the live tail.
type RealtimeConfig struct {
	ProgramID string
	SeenTTL   time.Duration
}

// Realtime subscribes to live program logs, deduplicates against the
// short-TTL seen set, and enqueues each fresh signature. It owns the
// seen markers and the per-program watermark.
type Realtime struct {
	subscriber chain.Subscriber
	chain      chain.Client
	bus        bus.Publisher
	store      store.Store
	cfg        RealtimeConfig
	log        zerolog.Logger

	lastSlot uint64
}

// NewRealtime wires a realtime producer.
func NewRealtime(subscriber chain.Subscriber, chainClient chain.Client, publisher bus.Publisher, kv store.Store, cfg RealtimeConfig, log zerolog.Logger) *Realtime {
	if cfg.SeenTTL == 0 {
		cfg.SeenTTL = 7 * 24 * time.Hour
	}
	return &Realtime{
		subscriber: subscriber,
		chain:      chainClient,
		bus:        publisher,
		store:      kv,
		cfg:        cfg,
		log:        log,
	}
}

// Run tails the subscription until the context ends. When the provider
// does not support log subscriptions, Run logs a warning and returns
// nil so the system degrades to backfill-only.
func (r *Realtime) Run(ctx context.Context) error {
	r.loadWatermark(ctx)

	sub, err := r.subscriber.SubscribeLogs(ctx, r.cfg.ProgramID)
	if err != nil {
		if chain.IsSubscriptionUnsupported(err) {
			r.log.Warn().Err(err).Msg("log subscription unsupported by provider, realtime disabled")
			return nil
		}
		return err
	}
	defer sub.Close()

	r.log.Info().
		Str("program_id", r.cfg.ProgramID).
		Uint64("last_slot", r.lastSlot).
		Msg("realtime indexer started")

	for {
		notification, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.handle(ctx, notification)
	}
}

func (r *Realtime) handle(ctx context.Context, n *chain.LogNotification) {
	log := r.log.With().Str("signature", n.Signature).Uint64("slot", n.Slot).Logger()

	seen, err := r.store.Exists(ctx, store.SeenKey(n.Signature))
	if err != nil {
		log.Warn().Err(err).Msg("seen-set lookup failed")
	}
	if seen {
		log.Debug().Msg("duplicate notification suppressed")
		return
	}

	blockTime := r.blockTime(ctx, n.Slot, log)

	msg := &bus.IngestMessage{
		Signature:  n.Signature,
		Slot:       n.Slot,
		BlockTime:  blockTime,
		Source:     bus.SourceRealtime,
		ProgramID:  r.cfg.ProgramID,
		EnqueuedAt: time.Now().UTC(),
		Priority:   bus.PriorityHigh,
	}

	ok, err := r.bus.Publish(ctx, bus.RoutingKeyIngest, msg)
	if err != nil || !ok {
		// Realtime drops on publish failure; the backfill can recover
		// the signature later.
		log.Warn().Err(err).Msg("realtime publish failed, dropping notification")
		return
	}
	metrics.MessagesPublished.WithLabelValues(string(bus.SourceRealtime)).Inc()

	if err := r.store.SetEX(ctx, store.SeenKey(n.Signature), "1", r.cfg.SeenTTL); err != nil {
		log.Warn().Err(err).Msg("failed to mark signature seen")
	}
	r.advanceWatermark(ctx, n.Slot, log)
}

// blockTime is best effort: on failure the current wall clock stands in.
func (r *Realtime) blockTime(ctx context.Context, slot uint64, log zerolog.Logger) int64 {
	t, err := r.chain.BlockTime(ctx, slot)
	if err != nil {
		log.Warn().Err(err).Msg("block time unavailable, substituting wall clock")
		return time.Now().Unix()
	}
	return t.Unix()
}

func (r *Realtime) loadWatermark(ctx context.Context) {
	val, ok, err := r.store.Get(ctx, store.LastSlotKey(r.cfg.ProgramID))
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to load last slot")
		return
	}
	if !ok {
		return
	}
	if slot, perr := strconv.ParseUint(val, 10, 64); perr == nil {
		r.lastSlot = slot
	}
}

// advanceWatermark persists the slot only when it exceeds the stored
// value, keeping the watermark monotonic.
func (r *Realtime) advanceWatermark(ctx context.Context, slot uint64, log zerolog.Logger) {
	if slot <= r.lastSlot {
		return
	}
	r.lastSlot = slot
	if err := r.store.Set(ctx, store.LastSlotKey(r.cfg.ProgramID), strconv.FormatUint(slot, 10)); err != nil {
		log.Warn().Err(err).Msg("failed to persist last slot")
	}
}

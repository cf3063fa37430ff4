package oracle

import (
	"context"
	"time"
)

// gate serializes upstream calls: a single dispatcher drains a FIFO
// queue, and consecutive executions are spaced by at least minInterval.
// Only one request is ever in flight.
type gate struct {
	calls       chan *gateCall
	minInterval time.Duration
}

type gateCall struct {
	fn   func()
	done chan struct{}
}

func newGate(minInterval time.Duration, queueDepth int) *gate {
	g := &gate{
		calls:       make(chan *gateCall, queueDepth),
		minInterval: minInterval,
	}
	go g.loop()
	return g
}

func (g *gate) loop() {
	var lastStart time.Time
	for call := range g.calls {
		if wait := g.minInterval - time.Since(lastStart); wait > 0 && !lastStart.IsZero() {
			time.Sleep(wait)
		}
		lastStart = time.Now()
		call.fn()
		close(call.done)
	}
}

// Do enqueues fn and blocks until it has run or the context ends. A
// context cancellation while queued abandons the slot; once fn starts
// it runs to completion.
func (g *gate) Do(ctx context.Context, fn func()) error {
	call := &gateCall{fn: fn, done: make(chan struct{})}
	select {
	case g.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-call.done:
		return nil
	case <-ctx.Done():
		// The dispatcher will still run the call; the caller stops waiting.
		return ctx.Err()
	}
}

func (g *gate) Close() {
	close(g.calls)
}

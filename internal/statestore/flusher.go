package statestore

import (
	"context"
	"time"

	"cbtrader/internal/core"
)

// Flusher periodically persists a live in-memory PersistentState, so the
// orchestrator can mutate state's maps directly within a cycle and trust
// it reaches durable storage within persist_interval_seconds without
// blocking on a Save call every cycle. Any mutation to the backing store
// outside this path is overwritten on the next tick.
type Flusher struct {
	store    core.StateStore
	state    *core.PersistentState
	interval time.Duration
	logger   core.ILogger
	stop     chan struct{}
	done     chan struct{}
}

// NewFlusher builds a flusher over state, ticking at interval.
func NewFlusher(store core.StateStore, state *core.PersistentState, interval time.Duration, logger core.ILogger) *Flusher {
	return &Flusher{
		store:    store,
		state:    state,
		interval: interval,
		logger:   logger.WithField("component", "state_flusher"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the flush loop in its own goroutine. ctx cancellation
// also stops the loop.
func (f *Flusher) Start(ctx context.Context) {
	go f.loop(ctx)
}

// Run implements bootstrap.Runner, so the flusher can be handed to
// App.Run alongside the orchestrator and share its lifecycle: it blocks
// until ctx is canceled, then waits for the final tick's Save to finish.
func (f *Flusher) Run(ctx context.Context) error {
	f.loop(ctx)
	return nil
}

func (f *Flusher) loop(ctx context.Context) {
	defer close(f.done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			if err := f.store.Save(ctx, f.state); err != nil {
				f.logger.Error("periodic state flush failed", "error", err.Error())
			}
		}
	}
}

// Stop signals the loop to exit and waits for it to finish, so a final
// explicit Save by the caller can't race an in-flight tick.
func (f *Flusher) Stop() {
	close(f.stop)
	<-f.done
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/logger"
)

const (
	// stateQueryTimeout bounds the live-state query for a single key so one
	// wedged client cannot stall the whole pass.
	stateQueryTimeout = 15 * time.Second
	// maxConcurrentSweeps caps parallel teardowns during one pass.
	maxConcurrentSweeps = 10
)

// Sweeper is the periodic reconciliation pass. Event- and timeout-driven
// eviction are the primary paths; the sweeper exists for sessions whose
// external client wedged silently or whose in-memory state diverged from
// reality. Every registered key gets its live client state re-queried, and
// anything that is not Connected and not inside its pairing grace window is
// handed to the teardown coordinator.
type Sweeper struct {
	registry *Registry
	teardown *Teardown
	interval time.Duration
	// initGrace shields sessions still initializing from eviction; they have
	// no pairing deadline yet.
	initGrace time.Duration
	log       logger.Logger
}

// NewSweeper creates a sweeper running every interval. initGrace is how long
// an Initializing session may exist before the sweeper treats it as wedged.
func NewSweeper(registry *Registry, teardown *Teardown, interval, initGrace time.Duration, log logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		registry:  registry,
		teardown:  teardown,
		interval:  interval,
		initGrace: initGrace,
		log:       log,
	}
}

// Run executes sweep passes until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. Individual query failures count as
// "not connected" and never abort the pass for other keys; sessions are
// independent and torn down in parallel.
func (s *Sweeper) Sweep(ctx context.Context) {
	snaps := s.registry.Snapshots()
	if len(snaps) == 0 {
		return
	}
	s.log.Debug("sweep pass starting", "sessions", len(snaps))

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxConcurrentSweeps)

	for _, snap := range snaps {
		if !s.shouldEvict(ctx, snap) {
			continue
		}
		wg.Add(1)
		go func(key Key) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			s.log.Info("sweep evicting stale session", "key", key)
			s.teardown.Destroy(ctx, key, EventTeardown)
		}(snap.Key)
	}
	wg.Wait()
}

// shouldEvict decides whether one session has gone stale.
func (s *Sweeper) shouldEvict(ctx context.Context, snap Snapshot) bool {
	now := time.Now()

	// Unpaired sessions inside their grace windows belong to the pairing
	// timeout, not the sweeper.
	switch snap.State {
	case StateAwaitingPairing:
		if now.Before(snap.PairingDeadline) {
			return false
		}
	case StateInitializing:
		if now.Sub(snap.CreatedAt) < s.initGrace {
			return false
		}
	}

	if snap.Client == nil {
		// Initializing past its grace with no client attached: wedged create.
		return true
	}

	queryCtx, cancel := context.WithTimeout(ctx, stateQueryTimeout)
	defer cancel()

	live, err := snap.Client.State(queryCtx)
	if err != nil {
		// A client that cannot answer is treated as not connected.
		s.log.Warn("live state query failed", "key", snap.Key, "error", err)
		return true
	}
	return live != automation.StateConnected
}

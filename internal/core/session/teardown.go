package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/aki/wamux/internal/core/logger"
	"github.com/aki/wamux/internal/credstore"
)

// clientDestroyTimeout bounds how long teardown waits for the automation
// client to shut down before moving on to the remaining steps.
const clientDestroyTimeout = 10 * time.Second

// Teardown is the single idempotent procedure that retires a session. Every
// eviction path converges here: explicit disconnects, pairing-timeout
// expiry, auth failures, client-create failures and the sweeper.
//
// Each step is independently best effort: a failing step is logged and the
// sequence continues, so a wedged browser process can never leave credential
// or registry state behind.
type Teardown struct {
	registry *Registry
	timeouts *TimeoutScheduler
	creds    *credstore.Store
	grace    time.Duration
	log      logger.Logger

	mu       sync.Mutex
	inflight map[Key]chan struct{}
}

// NewTeardown creates the coordinator. grace is the fixed wait after
// releasing resources, giving the external process time to drop file locks
// before a same-key recreate is attempted.
func NewTeardown(registry *Registry, timeouts *TimeoutScheduler, creds *credstore.Store, grace time.Duration, log logger.Logger) *Teardown {
	if log == nil {
		log = logger.Nop()
	}
	return &Teardown{
		registry: registry,
		timeouts: timeouts,
		creds:    creds,
		grace:    grace,
		log:      log,
		inflight: make(map[Key]chan struct{}),
	}
}

// Destroy retires the session for key. Safe to call repeatedly and
// concurrently: a call that finds a teardown already in flight waits for it
// instead of double-releasing, and a call for an unknown key still clears
// any persistent leftovers. Destroy never reports an error to its caller.
func (t *Teardown) Destroy(ctx context.Context, key Key, cause Event) {
	t.mu.Lock()
	if ch, ok := t.inflight[key]; ok {
		t.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return
	}
	ch := make(chan struct{})
	t.inflight[key] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.inflight, key)
		t.mu.Unlock()
		close(ch)
	}()

	log := t.log.With("key", key, "cause", cause)
	log.Info("tearing down session")

	// Step 1: disarm the pairing deadline so it cannot fire mid-teardown.
	t.timeouts.Cancel(key)

	snap, err := t.registry.Get(key)
	if err != nil {
		// No handle: still sweep persistent leftovers so a retried create
		// starts clean.
		if err := t.creds.Delete(ctx, key); err != nil {
			log.Warn("failed to delete credential entry", "error", err)
		}
		return
	}

	// Step 2: shut down the external client process.
	if snap.Client != nil {
		destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clientDestroyTimeout)
		if err := snap.Client.Destroy(destroyCtx); err != nil {
			log.Warn("failed to destroy automation client", "error", err)
		}
		cancel()
	}

	// Step 3: delete the credential entry.
	if err := t.creds.Delete(ctx, key); err != nil {
		log.Warn("failed to delete credential entry", "error", err)
	}

	// Step 4: remove the ephemeral work dir.
	if snap.WorkDir != "" {
		if err := os.RemoveAll(snap.WorkDir); err != nil {
			log.Warn("failed to remove work dir", "dir", snap.WorkDir, "error", err)
		}
	}

	// Step 5: retire the handle and free the key. Only after this may a new
	// create for the same key succeed. The cause event may be invalid from
	// the state teardown found the session in; the generic teardown event is
	// valid from every live state.
	if _, err := t.registry.Transition(key, cause, nil); err != nil && cause != EventTeardown {
		_, _ = t.registry.Transition(key, EventTeardown, nil)
	}
	t.registry.Remove(key)

	// Step 6: grace wait for the dead process to release file locks.
	if t.grace > 0 {
		select {
		case <-time.After(t.grace):
		case <-ctx.Done():
		}
	}

	log.Info("session torn down")
}

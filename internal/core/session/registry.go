package session

import (
	"sync"
	"time"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/logger"
)

// Registry is the single source of truth for which sessions exist and in
// what state. The handle map never escapes; every mutation happens under the
// registry mutex, and external calls are never made while holding it.
type Registry struct {
	mu      sync.RWMutex
	handles map[Key]*handle
	log     logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		handles: make(map[Key]*handle),
		log:     log,
	}
}

// Create registers a fresh Initializing handle for key. A live handle for
// the same key fails with ErrSessionExists: at most one non-destroyed handle
// may exist per key.
func (r *Registry) Create(key Key, workDir string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[key]; ok {
		return Snapshot{}, ErrSessionExists{Key: key}
	}

	h := &handle{
		key:       key,
		state:     StateInitializing,
		createdAt: time.Now(),
		workDir:   workDir,
	}
	r.handles[key] = h

	r.log.Info("session registered", "key", key, "state", h.state)
	return h.snapshot(), nil
}

// Get returns a snapshot of the handle for key.
func (r *Registry) Get(key Key) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[key]
	if !ok {
		return Snapshot{}, ErrSessionNotFound{Key: key}
	}
	return h.snapshot(), nil
}

// SetClient attaches the automation client to an existing handle. Done as a
// separate step because the client is created outside the registry lock.
func (r *Registry) SetClient(key Key, client automation.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok {
		return ErrSessionNotFound{Key: key}
	}
	h.client = client
	return nil
}

// Transition applies ev to the handle for key. mutate, when non-nil, runs
// under the registry lock after the state change so that artifact, deadline
// and identity updates are atomic with it. Events not valid from the current
// state are rejected with a log entry and leave the handle untouched.
func (r *Registry) Transition(key Key, ev Event, mutate func(s *Snapshot)) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok {
		r.log.Debug("event for unknown session discarded", "key", key, "event", ev)
		return Snapshot{}, ErrSessionNotFound{Key: key}
	}

	to, ok := nextState(h.state, ev)
	if !ok {
		r.log.Warn("invalid transition discarded",
			"key", key,
			"state", h.state,
			"event", ev)
		return Snapshot{}, ErrInvalidTransition{Key: key, From: h.state, Event: ev}
	}

	from := h.state
	h.state = to

	// The pairing artifact exists only while AwaitingPairing.
	if from == StateAwaitingPairing && to != StateAwaitingPairing {
		h.pairingArtifact = ""
		h.pairingDeadline = time.Time{}
	}

	if mutate != nil {
		snap := h.snapshot()
		mutate(&snap)
		h.pairingArtifact = snap.PairingArtifact
		h.pairingDeadline = snap.PairingDeadline
		h.connectedIdentity = snap.ConnectedIdentity
	}

	r.log.Info("session state changed",
		"key", key,
		"from", from,
		"to", to,
		"event", ev)

	return h.snapshot(), nil
}

// RefreshArtifact replaces the pairing artifact of a session already in
// AwaitingPairing (the client regenerates codes periodically). The pairing
// deadline is deliberately left alone: refreshing a code never extends the
// eviction window.
func (r *Registry) RefreshArtifact(key Key, artifact string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[key]
	if !ok {
		return ErrSessionNotFound{Key: key}
	}
	if h.state != StateAwaitingPairing {
		return ErrInvalidTransition{Key: key, From: h.state, Event: EventPairingArtifact}
	}
	h.pairingArtifact = artifact
	return nil
}

// Remove deletes the handle for key, freeing the key for reuse. Only the
// teardown coordinator calls this, as its final registry step.
func (r *Registry) Remove(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[key]; ok {
		delete(r.handles, key)
		r.log.Info("session removed", "key", key)
	}
}

// Exists reports whether key has a live handle.
func (r *Registry) Exists(key Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handles[key]
	return ok
}

// ConnectedCount returns a point-in-time count of Connected sessions.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, h := range r.handles {
		if h.state == StateConnected {
			n++
		}
	}
	return n
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Snapshots returns a point-in-time copy of every handle.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(r.handles))
	for _, h := range r.handles {
		snaps = append(snaps, h.snapshot())
	}
	return snaps
}

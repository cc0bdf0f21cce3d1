package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/config"
	"github.com/aki/wamux/internal/core/logger"
	"github.com/aki/wamux/internal/credstore"
)

// workDirPrefix names the per-session browser profile directories under the
// work root, so stale ones can be recognized and purged on startup.
const workDirPrefix = "wamux-profile-"

// EventSink receives normalized message and connection events for
// forwarding. Failures are logged by the manager and never propagate back
// to the session that produced the event.
type EventSink interface {
	NotifyMessage(ctx context.Context, key string, msg automation.Message) error
	NotifyConnected(ctx context.Context, key, identity string) error
}

// nopSink drops everything; used when no sink is configured.
type nopSink struct{}

func (nopSink) NotifyMessage(context.Context, string, automation.Message) error { return nil }
func (nopSink) NotifyConnected(context.Context, string, string) error           { return nil }

// Manager owns the session lifecycle: it admits, creates, paces and retires
// sessions, and consumes each session's event stream. HTTP handlers, timer
// callbacks and the sweeper all converge on the registry through it.
type Manager struct {
	registry  *Registry
	admission *Admission
	timeouts  *TimeoutScheduler
	teardown  *Teardown
	sweeper   *Sweeper
	factory   automation.Factory
	creds     *credstore.Store
	sink      EventSink
	log       logger.Logger

	workRoot       string
	pairingTimeout time.Duration
	startTimeout   time.Duration
}

// ManagerOption is a function that configures a Manager
type ManagerOption func(*Manager)

// WithLogger sets the logger for the Manager
func WithLogger(log logger.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithSink sets the event sink for the Manager
func WithSink(sink EventSink) ManagerOption {
	return func(m *Manager) {
		m.sink = sink
	}
}

// NewManager creates a session manager wired per cfg.
func NewManager(cfg *config.Config, factory automation.Factory, creds *credstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		factory:        factory,
		creds:          creds,
		sink:           nopSink{},
		log:            logger.Nop(),
		workRoot:       cfg.WorkRoot,
		pairingTimeout: cfg.PairingTimeout,
		startTimeout:   cfg.RunnerStartTimeout,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.registry = NewRegistry(m.log)
	m.admission = NewAdmission(m.registry, cfg.MaxSessions)
	m.timeouts = NewTimeoutScheduler(m.onPairingExpired, m.log)
	m.teardown = NewTeardown(m.registry, m.timeouts, creds, cfg.TeardownGrace, m.log)
	m.sweeper = NewSweeper(m.registry, m.teardown, cfg.SweepInterval, cfg.RunnerStartTimeout, m.log)

	return m
}

// InitResult is the outcome of a start-session request.
type InitResult struct {
	Key              Key
	AlreadyConnected bool
	Identity         string
	PairingArtifact  string
}

// Init starts (or restarts) pairing for key. An already connected session
// short-circuits; any other existing handle is destroyed and recreated so
// every pairing attempt starts from clean state.
func (m *Manager) Init(ctx context.Context, key Key) (*InitResult, error) {
	if err := credstore.ValidateKey(key); err != nil {
		return nil, err
	}

	existing, getErr := m.registry.Get(key)
	if getErr == nil && existing.State == StateConnected {
		return &InitResult{
			Key:              key,
			AlreadyConnected: true,
			Identity:         existing.ConnectedIdentity,
		}, nil
	}

	// Admission runs while any existing handle is still registered: a key
	// re-attempting its own pairing bypasses the ceiling, and a rejection
	// must never destroy the session it rejects.
	if err := m.admission.TryAdmit(key); err != nil {
		return nil, err
	}

	if getErr == nil {
		m.log.Info("destroying existing session before re-init", "key", key, "state", existing.State)
		m.teardown.Destroy(ctx, key, EventTeardown)
	}

	workDir := filepath.Join(m.workRoot, workDirPrefix+key)
	// A crashed previous run may have left a profile behind.
	if err := os.RemoveAll(workDir); err != nil {
		m.log.Warn("failed to clear stale work dir", "dir", workDir, "error", err)
	}

	snap, err := m.registry.Create(key, workDir)
	if err != nil {
		// Lost a create race for the same key; uniqueness stays strict.
		return nil, err
	}

	if err := m.creds.Put(ctx, &credstore.Entry{Key: key, CreatedAt: snap.CreatedAt}); err != nil {
		m.log.Warn("failed to record credential entry", "key", key, "error", err)
	}

	client, err := m.factory.Create(ctx, key, workDir)
	if err != nil {
		m.teardown.Destroy(ctx, key, EventCreateFailed)
		return nil, fmt.Errorf("failed to create automation client: %w", err)
	}
	_ = m.registry.SetClient(key, client)

	artifactCh := make(chan string, 1)
	go m.pump(key, client, artifactCh)

	select {
	case code, ok := <-artifactCh:
		if !ok {
			m.teardown.Destroy(ctx, key, EventCreateFailed)
			return nil, fmt.Errorf("automation client for %s exited before issuing a pairing code", key)
		}
		return &InitResult{Key: key, PairingArtifact: code}, nil
	case <-time.After(m.startTimeout):
		m.teardown.Destroy(ctx, key, EventCreateFailed)
		return nil, fmt.Errorf("timed out waiting for pairing code for %s", key)
	case <-ctx.Done():
		m.teardown.Destroy(context.WithoutCancel(ctx), key, EventCreateFailed)
		return nil, ctx.Err()
	}
}

// StatusInfo describes the current state of one key.
type StatusInfo struct {
	Known     bool
	Connected bool
	State     State
	Identity  string
}

// Status reports the registry's view of key. Unknown keys are not an error.
func (m *Manager) Status(key Key) StatusInfo {
	snap, err := m.registry.Get(key)
	if err != nil {
		return StatusInfo{}
	}
	return StatusInfo{
		Known:     true,
		Connected: snap.State == StateConnected,
		State:     snap.State,
		Identity:  snap.ConnectedIdentity,
	}
}

// Send relays an outbound message through key's session.
func (m *Manager) Send(ctx context.Context, key Key, to, content string) (string, error) {
	snap, err := m.registry.Get(key)
	if err != nil {
		return "", err
	}
	if snap.State != StateConnected || snap.Client == nil {
		return "", ErrNotConnected{Key: key, State: snap.State}
	}

	id, err := snap.Client.Send(ctx, formatTarget(to), content)
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}
	return id, nil
}

// Chats lists key's conversations.
func (m *Manager) Chats(ctx context.Context, key Key) ([]automation.Chat, error) {
	snap, err := m.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if snap.State != StateConnected || snap.Client == nil {
		return nil, ErrNotConnected{Key: key, State: snap.State}
	}
	return snap.Client.Chats(ctx)
}

// Messages fetches up to limit messages of one of key's conversations.
func (m *Manager) Messages(ctx context.Context, key Key, chatID string, limit int) ([]automation.Message, error) {
	snap, err := m.registry.Get(key)
	if err != nil {
		return nil, err
	}
	if snap.State != StateConnected || snap.Client == nil {
		return nil, ErrNotConnected{Key: key, State: snap.State}
	}
	if limit <= 0 {
		limit = 100
	}
	return snap.Client.Messages(ctx, chatID, limit)
}

// Disconnect tears the session for key down. Unknown keys succeed: teardown
// is idempotent and order-tolerant.
func (m *Manager) Disconnect(ctx context.Context, key Key) {
	m.teardown.Destroy(ctx, key, EventTeardown)
}

// ActiveSessions returns the number of live handles.
func (m *Manager) ActiveSessions() int {
	return m.registry.Len()
}

// Sessions returns a stable listing of every live handle.
func (m *Manager) Sessions() []Snapshot {
	snaps := m.registry.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Key < snaps[j].Key })
	return snaps
}

// Run executes the reconciliation sweeper until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.sweeper.Run(ctx)
}

// Sweep triggers one reconciliation pass immediately.
func (m *Manager) Sweep(ctx context.Context) {
	m.sweeper.Sweep(ctx)
}

// CleanStart purges credential entries and work dirs left behind by a
// previous process. Called once before the HTTP surface comes up.
func (m *Manager) CleanStart(ctx context.Context) {
	if err := m.creds.PurgeAll(ctx); err != nil {
		m.log.Warn("failed to purge credential store", "error", err)
	}

	entries, err := os.ReadDir(m.workRoot)
	if err != nil {
		m.log.Warn("failed to scan work root", "dir", m.workRoot, "error", err)
		return
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), workDirPrefix) {
			continue
		}
		dir := filepath.Join(m.workRoot, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			m.log.Warn("failed to remove stale work dir", "dir", dir, "error", err)
		} else {
			m.log.Info("removed stale work dir", "dir", dir)
		}
	}
}

// Shutdown disarms all deadlines and tears down every live session so no
// browser processes outlive the service.
func (m *Manager) Shutdown(ctx context.Context) {
	m.timeouts.Stop()

	snaps := m.registry.Snapshots()
	var wg sync.WaitGroup
	for _, snap := range snaps {
		wg.Add(1)
		go func(key Key) {
			defer wg.Done()
			m.teardown.Destroy(ctx, key, EventTeardown)
		}(snap.Key)
	}
	wg.Wait()
}

// onPairingExpired is the timeout scheduler's callback: a session that never
// paired is silently evicted.
func (m *Manager) onPairingExpired(key Key) {
	m.teardown.Destroy(context.Background(), key, EventTimeoutExpired)
}

// formatTarget normalizes a recipient: anything without an explicit network
// suffix is treated as a phone number, stripped to digits and addressed as
// an individual chat.
func formatTarget(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	var digits strings.Builder
	for _, r := range to {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	return digits.String() + "@c.us"
}

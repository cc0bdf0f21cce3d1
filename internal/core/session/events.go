package session

import (
	"context"
	"time"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/credstore"
)

// pump consumes one client's event stream until the stream closes. It is the
// only writer of pairing artifacts and connected identities for its key.
// artifactCh carries the first pairing code back to the Init call; the
// channel is closed when the stream ends so a client that dies before
// pairing unblocks its creator.
func (m *Manager) pump(key Key, client automation.Client, artifactCh chan<- string) {
	defer close(artifactCh)
	ctx := context.Background()

	for ev := range client.Events() {
		switch ev.Type {
		case automation.EventPairingCode:
			m.handlePairingCode(key, ev.Code, artifactCh)
		case automation.EventConnected:
			m.handleConnected(ctx, key, ev.Identity)
		case automation.EventMessage:
			if ev.Message == nil {
				continue
			}
			if err := m.sink.NotifyMessage(ctx, string(key), *ev.Message); err != nil {
				m.log.Warn("message delivery to sink failed", "key", key, "error", err)
			}
		case automation.EventAuthFailure:
			m.log.Warn("authentication failed", "key", key, "reason", ev.Reason)
			m.teardown.Destroy(ctx, key, EventAuthFailed)
		case automation.EventDisconnected:
			m.log.Info("client reported disconnect", "key", key, "reason", ev.Reason)
			_, _ = m.registry.Transition(key, EventDisconnected, nil)
		default:
			m.log.Debug("unknown client event ignored", "key", key, "type", ev.Type)
		}
	}
	m.log.Debug("event stream closed", "key", key)
}

// handlePairingCode records a pairing code. The first code moves the session
// to AwaitingPairing and arms its eviction deadline; subsequent codes only
// replace the artifact, never the deadline.
func (m *Manager) handlePairingCode(key Key, code string, artifactCh chan<- string) {
	_, err := m.registry.Transition(key, EventPairingArtifact, func(s *Snapshot) {
		s.PairingArtifact = code
		s.PairingDeadline = time.Now().Add(m.pairingTimeout)
	})
	if err == nil {
		m.timeouts.Arm(key, m.pairingTimeout)
		select {
		case artifactCh <- code:
		default:
		}
		return
	}

	if rErr := m.registry.RefreshArtifact(key, code); rErr != nil {
		m.log.Debug("stale pairing code discarded", "key", key, "error", rErr)
	}
}

// handleConnected finalizes pairing: the eviction deadline is disarmed, the
// identity is persisted next to the runner's auth state, and the sink is
// told. A connected event that is not valid from the current state (the
// deadline already fired, say) is discarded.
func (m *Manager) handleConnected(ctx context.Context, key Key, identity string) {
	snap, err := m.registry.Transition(key, EventConnected, func(s *Snapshot) {
		s.ConnectedIdentity = identity
	})
	if err != nil {
		return
	}
	m.timeouts.Cancel(key)

	now := time.Now()
	entry, gerr := m.creds.Get(ctx, string(key))
	if gerr != nil {
		entry = &credstore.Entry{Key: string(key), CreatedAt: snap.CreatedAt}
	}
	entry.Identity = identity
	entry.PairedAt = &now
	if err := m.creds.Put(ctx, entry); err != nil {
		m.log.Warn("failed to persist paired identity", "key", key, "error", err)
	}

	m.log.Info("session connected", "key", key, "identity", identity)
	if err := m.sink.NotifyConnected(ctx, string(key), identity); err != nil {
		m.log.Warn("connected notification to sink failed", "key", key, "error", err)
	}
}

package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/wamux/internal/automation"
	"github.com/aki/wamux/internal/core/config"
	"github.com/aki/wamux/internal/credstore"
)

func newTestManager(t *testing.T, mutate func(cfg *config.Config)) (*Manager, *fakeFactory, *fakeSink) {
	t.Helper()

	cfg := config.Default()
	cfg.WorkRoot = t.TempDir()
	cfg.PairingTimeout = time.Minute
	cfg.RunnerStartTimeout = 2 * time.Second
	cfg.TeardownGrace = 0
	if mutate != nil {
		mutate(cfg)
	}

	creds, err := credstore.New(filepath.Join(t.TempDir(), "creds"), nil)
	require.NoError(t, err)

	factory := newFakeFactory()
	sink := &fakeSink{}
	m := NewManager(cfg, factory, creds, WithSink(sink))
	return m, factory, sink
}

// emitPairingCode pre-loads a pairing code so the manager's pump sees it as
// soon as it starts.
func emitPairingCode(code string) func(string, *fakeClient) {
	return func(_ string, c *fakeClient) {
		c.emit(automation.Event{Type: automation.EventPairingCode, Code: code})
	}
}

func TestManagerInitIssuesPairingArtifact(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	res, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyConnected)
	assert.Equal(t, "CODE-1", res.PairingArtifact)

	st := m.Status("agent-1")
	assert.True(t, st.Known)
	assert.False(t, st.Connected)
	assert.Equal(t, StateAwaitingPairing, st.State)
	assert.True(t, m.timeouts.Armed("agent-1"), "pairing deadline must be armed")
}

func TestManagerConnectFlow(t *testing.T) {
	m, factory, sink := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "15550100000",
	})

	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	st := m.Status("agent-1")
	assert.Equal(t, "15550100000", st.Identity)
	assert.False(t, m.timeouts.Armed("agent-1"), "deadline disarmed on connect")
	assert.Equal(t, []string{"15550100000"}, sink.connectedIdentities())
}

func TestManagerInitAlreadyConnected(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "15550100000",
	})
	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	res, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyConnected)
	assert.Equal(t, "15550100000", res.Identity)
	assert.Equal(t, 1, factory.createCount(), "connected session must not be recreated")
}

func TestManagerInitRecreatesUnpairedSession(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	first := factory.client("agent-1")

	res, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyConnected)
	assert.Equal(t, 2, factory.createCount())
	assert.Equal(t, 1, first.destroyCount(), "the old client is destroyed first")
}

func TestManagerInitCapacityExceeded(t *testing.T) {
	m, factory, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.MaxSessions = 1
	})
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "1",
	})
	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	_, err = m.Init(context.Background(), "agent-2")
	var capErr ErrCapacityExceeded
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 1, m.ActiveSessions())
}

func TestManagerInitAtCapacityBypassesForExistingKey(t *testing.T) {
	m, factory, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.MaxSessions = 1
	})
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	_, err = m.Init(context.Background(), "agent-2")
	require.NoError(t, err)

	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "1",
	})
	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	// agent-2 holds a handle mid-pairing, so re-initializing it passes the
	// ceiling even though agent-1 already occupies the only slot.
	res, err := m.Init(context.Background(), "agent-2")
	require.NoError(t, err)
	assert.False(t, res.AlreadyConnected)
	assert.Equal(t, "CODE-1", res.PairingArtifact)
	assert.True(t, m.Status("agent-2").Known)
	assert.Equal(t, 3, factory.createCount())
}

func TestManagerInitCapacityRejectionLeavesNothingBehind(t *testing.T) {
	m, factory, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.MaxSessions = 1
	})
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "1",
	})
	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	_, err = m.Init(context.Background(), "agent-2")
	var capErr ErrCapacityExceeded
	require.ErrorAs(t, err, &capErr)
	assert.False(t, m.Status("agent-2").Known)
	assert.Equal(t, 1, factory.createCount(), "rejected init must not spawn a client")
}

func TestManagerInitRejectsInvalidKey(t *testing.T) {
	m, _, _ := newTestManager(t, nil)

	for _, key := range []string{"", ".", "..", "a/b", `a\b`} {
		_, err := m.Init(context.Background(), key)
		assert.ErrorIs(t, err, credstore.ErrInvalidKey, "key %q", key)
	}
}

func TestManagerInitCreateFailure(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.err = errors.New("spawn failed")

	_, err := m.Init(context.Background(), "agent-1")
	require.Error(t, err)
	assert.Equal(t, 0, m.ActiveSessions(), "failed create leaves nothing behind")
}

func TestManagerInitStartTimeout(t *testing.T) {
	m, factory, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.RunnerStartTimeout = 50 * time.Millisecond
	})
	// No pairing code ever arrives.

	_, err := m.Init(context.Background(), "agent-1")
	require.Error(t, err)
	assert.Equal(t, 0, m.ActiveSessions())
	assert.Equal(t, 1, factory.client("agent-1").destroyCount())
}

func TestManagerPairingTimeoutEvicts(t *testing.T) {
	m, factory, _ := newTestManager(t, func(cfg *config.Config) {
		cfg.PairingTimeout = 50 * time.Millisecond
	})
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, factory.client("agent-1").destroyCount())
}

func TestManagerRefreshedCodeKeepsDeadline(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	before, err := m.registry.Get("agent-1")
	require.NoError(t, err)

	factory.client("agent-1").emit(automation.Event{
		Type: automation.EventPairingCode,
		Code: "CODE-2",
	})
	require.Eventually(t, func() bool {
		snap, err := m.registry.Get("agent-1")
		return err == nil && snap.PairingArtifact == "CODE-2"
	}, 2*time.Second, 10*time.Millisecond)

	after, err := m.registry.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, before.PairingDeadline, after.PairingDeadline)
}

func TestManagerAuthFailureEvicts(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	factory.client("agent-1").emit(automation.Event{
		Type:   automation.EventAuthFailure,
		Reason: "unauthorized",
	})

	require.Eventually(t, func() bool {
		return m.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerMessageForwarding(t *testing.T) {
	m, factory, sink := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	factory.client("agent-1").emit(automation.Event{
		Type: automation.EventMessage,
		Message: &automation.Message{
			ID:   "m1",
			From: "15550100000@c.us",
			Body: "hello",
		},
	})

	require.Eventually(t, func() bool {
		return sink.messageCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerSendRequiresConnected(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Send(context.Background(), "ghost", "15550100000", "hi")
	var notFound ErrSessionNotFound
	require.ErrorAs(t, err, &notFound)

	_, err = m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	_, err = m.Send(context.Background(), "agent-1", "15550100000", "hi")
	var notConn ErrNotConnected
	require.ErrorAs(t, err, &notConn)
	assert.Equal(t, StateAwaitingPairing, notConn.State)
}

func TestManagerSendFormatsTarget(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "1",
	})
	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	id, err := m.Send(context.Background(), "agent-1", "+1 (555) 010-0000", "hi")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)

	sent := factory.client("agent-1").sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "15550100000@c.us", sent[0][0])
	assert.Equal(t, "hi", sent[0][1])
}

func TestManagerDisconnectThenRecreate(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)

	m.Disconnect(context.Background(), "agent-1")
	assert.Equal(t, 0, m.ActiveSessions())

	// Disconnecting an unknown key succeeds silently.
	m.Disconnect(context.Background(), "agent-1")

	res, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "CODE-1", res.PairingArtifact)
	assert.Equal(t, 2, factory.createCount())
}

func TestManagerDisconnectedStateRecorded(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "agent-1")
	require.NoError(t, err)
	factory.client("agent-1").emit(automation.Event{
		Type:     automation.EventConnected,
		Identity: "1",
	})
	require.Eventually(t, func() bool {
		return m.Status("agent-1").Connected
	}, 2*time.Second, 10*time.Millisecond)

	factory.client("agent-1").emit(automation.Event{
		Type:   automation.EventDisconnected,
		Reason: "network",
	})

	require.Eventually(t, func() bool {
		st := m.Status("agent-1")
		return st.Known && st.State == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, m.Status("agent-1").Connected)
}

func TestManagerShutdownDestroysAll(t *testing.T) {
	m, factory, _ := newTestManager(t, nil)
	factory.onCreate = emitPairingCode("CODE-1")

	_, err := m.Init(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Init(context.Background(), "b")
	require.NoError(t, err)

	m.Shutdown(context.Background())

	assert.Equal(t, 0, m.ActiveSessions())
	assert.Equal(t, 1, factory.client("a").destroyCount())
	assert.Equal(t, 1, factory.client("b").destroyCount())
}

func TestFormatTarget(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"15550100000", "15550100000@c.us"},
		{"+1 (555) 010-0000", "15550100000@c.us"},
		{"15550100000@c.us", "15550100000@c.us"},
		{"123456789@g.us", "123456789@g.us"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTarget(tt.in), "input %q", tt.in)
	}
}

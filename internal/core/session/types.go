// Package session implements the lifecycle core of wamux: the authoritative
// session registry and its state machine, admission control, pairing-timeout
// eviction, periodic reconciliation, and idempotent teardown.
package session

import (
	"time"

	"github.com/aki/wamux/internal/automation"
)

// Key is the externally supplied stable identifier for one tenant's session.
type Key = string

// State is the lifecycle state of a session handle.
type State string

const (
	// StateInitializing means the automation client is being created.
	StateInitializing State = "initializing"
	// StateAwaitingPairing means a pairing artifact has been issued and the
	// session is waiting to be authorized out-of-band.
	StateAwaitingPairing State = "awaiting_pairing"
	// StateConnected means the session is paired and relaying messages.
	StateConnected State = "connected"
	// StateDisconnected means the network connection dropped; the handle
	// survives until explicit teardown or the next sweep.
	StateDisconnected State = "disconnected"
	// StateDestroyed is terminal; the handle is gone and the key reusable.
	StateDestroyed State = "destroyed"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// Event is a state machine input.
type Event string

const (
	// EventPairingArtifact fires when the client surfaces a pairing code.
	EventPairingArtifact Event = "pairing-artifact-received"
	// EventConnected fires when the client reports a successful pairing.
	EventConnected Event = "connected"
	// EventDisconnected fires when the client loses its connection.
	EventDisconnected Event = "disconnected"
	// EventTimeoutExpired fires when a session overstays AwaitingPairing.
	EventTimeoutExpired Event = "timeout-expired"
	// EventAuthFailed fires when the messaging network rejects the session.
	EventAuthFailed Event = "auth-failed"
	// EventCreateFailed fires when the automation client cannot be created.
	EventCreateFailed Event = "client-create-failed"
	// EventTeardown is the explicit teardown request (API, sweep).
	EventTeardown Event = "teardown"
)

// validTransitions is the full state machine. Events absent for a state are
// rejected by the registry: stale or duplicate client events must never
// corrupt a handle.
var validTransitions = map[State]map[Event]State{
	StateInitializing: {
		EventPairingArtifact: StateAwaitingPairing,
		EventCreateFailed:    StateDestroyed,
		EventTeardown:        StateDestroyed,
	},
	StateAwaitingPairing: {
		EventConnected:      StateConnected,
		EventTimeoutExpired: StateDestroyed,
		EventAuthFailed:     StateDestroyed,
		EventTeardown:       StateDestroyed,
	},
	StateConnected: {
		EventDisconnected: StateDisconnected,
		EventTeardown:     StateDestroyed,
	},
	StateDisconnected: {
		EventTeardown: StateDestroyed,
	},
	// Terminal: a destroyed handle never transitions again.
	StateDestroyed: {},
}

// nextState returns the state ev leads to from, and whether the transition
// is allowed.
func nextState(from State, ev Event) (State, bool) {
	to, ok := validTransitions[from][ev]
	return to, ok
}

// handle is the registry's record of one session. All fields are guarded by
// the registry mutex; handles never escape the package, only Snapshots do.
type handle struct {
	key               Key
	state             State
	createdAt         time.Time
	pairingDeadline   time.Time
	pairingArtifact   string
	connectedIdentity string
	client            automation.Client
	workDir           string
}

// Snapshot is a point-in-time copy of a handle, safe to use without locks.
type Snapshot struct {
	Key               Key
	State             State
	CreatedAt         time.Time
	PairingDeadline   time.Time
	PairingArtifact   string
	ConnectedIdentity string
	Client            automation.Client
	WorkDir           string
}

func (h *handle) snapshot() Snapshot {
	return Snapshot{
		Key:               h.key,
		State:             h.state,
		CreatedAt:         h.createdAt,
		PairingDeadline:   h.pairingDeadline,
		PairingArtifact:   h.pairingArtifact,
		ConnectedIdentity: h.connectedIdentity,
		Client:            h.client,
		WorkDir:           h.workDir,
	}
}

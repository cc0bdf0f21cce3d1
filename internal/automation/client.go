// Package automation defines the capability interface for the external
// automated-browser client that backs each messaging session, plus the
// production implementation that drives one runner process per session.
//
// The lifecycle core consumes this package only through the Client and
// Factory interfaces; protocol details never leak past it.
package automation

import "context"

// State is the live connection state reported by a runner.
type State string

const (
	// StateInitializing means the browser client is still starting up.
	StateInitializing State = "INITIALIZING"
	// StateAwaitingPairing means a pairing code has been issued and the
	// session is waiting for the user to present it.
	StateAwaitingPairing State = "AWAITING_PAIRING"
	// StateConnected means the session is paired and ready to relay messages.
	StateConnected State = "CONNECTED"
	// StateDisconnected means the network connection dropped.
	StateDisconnected State = "DISCONNECTED"
	// StateErrored means the runner hit an unrecoverable error.
	StateErrored State = "ERRORED"
)

// EventType identifies an asynchronous runner event.
type EventType string

const (
	// EventPairingCode carries a freshly generated pairing code.
	EventPairingCode EventType = "pairing_code"
	// EventConnected signals a successful pairing.
	EventConnected EventType = "connected"
	// EventMessage carries an inbound or outbound message.
	EventMessage EventType = "message"
	// EventAuthFailure signals the messaging network rejected the session.
	EventAuthFailure EventType = "auth_failure"
	// EventDisconnected signals the session lost its connection.
	EventDisconnected EventType = "disconnected"
)

// Message is a single chat message as reported by the runner.
type Message struct {
	ID          string `json:"id"`
	ChatID      string `json:"chat_id"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Body        string `json:"body"`
	Timestamp   int64  `json:"timestamp"`
	FromMe      bool   `json:"from_me"`
	HasMedia    bool   `json:"has_media"`
	MediaType   string `json:"media_type,omitempty"`
	IsGroup     bool   `json:"is_group"`
	Participant string `json:"participant,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
}

// Chat is a conversation summary as reported by the runner.
type Chat struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	IsGroup         bool   `json:"is_group"`
	LastMessageTime int64  `json:"last_message_time"`
	UnreadCount     int    `json:"unread_count"`
}

// Event is one entry on a runner's asynchronous event stream.
type Event struct {
	Type     EventType `json:"event"`
	Code     string    `json:"code,omitempty"`
	Identity string    `json:"identity,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Message  *Message  `json:"message,omitempty"`
}

// Client is one live automated-browser session.
//
// Destroy must be safe to call more than once. Events is closed once the
// runner exits; callers must tolerate the channel closing at any time.
type Client interface {
	// State queries the runner for its live connection state.
	State(ctx context.Context) (State, error)

	// Send relays an outbound message and returns the network message id.
	Send(ctx context.Context, to, content string) (string, error)

	// Chats lists the session's conversations.
	Chats(ctx context.Context) ([]Chat, error)

	// Messages fetches up to limit messages of one conversation.
	Messages(ctx context.Context, chatID string, limit int) ([]Message, error)

	// Events returns the asynchronous event stream.
	Events() <-chan Event

	// Destroy shuts the runner process down and releases its resources.
	Destroy(ctx context.Context) error
}

// Factory creates a Client for a session key with an exclusive work dir.
type Factory interface {
	Create(ctx context.Context, key, workDir string) (Client, error)
}

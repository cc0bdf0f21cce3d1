package session

import (
	"context"
	"sync"

	"github.com/aki/wamux/internal/automation"
)

// fakeClient is an in-memory automation.Client for lifecycle tests.
type fakeClient struct {
	mu       sync.Mutex
	state    automation.State
	stateErr error
	sendID   string
	sendErr  error
	sent     [][2]string
	chats    []automation.Chat
	messages []automation.Message

	events    chan automation.Event
	closeOnce sync.Once
	destroys  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		state:  automation.StateInitializing,
		sendID: "msg-1",
		events: make(chan automation.Event, 16),
	}
}

func (c *fakeClient) State(ctx context.Context) (automation.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.stateErr
}

func (c *fakeClient) setState(s automation.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

func (c *fakeClient) Send(ctx context.Context, to, content string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, [2]string{to, content})
	return c.sendID, nil
}

func (c *fakeClient) Chats(ctx context.Context) ([]automation.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chats, nil
}

func (c *fakeClient) Messages(ctx context.Context, chatID string, limit int) ([]automation.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit < len(c.messages) {
		return c.messages[:limit], nil
	}
	return c.messages, nil
}

func (c *fakeClient) Events() <-chan automation.Event {
	return c.events
}

func (c *fakeClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	c.destroys++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.events) })
	return nil
}

func (c *fakeClient) destroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroys
}

func (c *fakeClient) sentMessages() [][2]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]string(nil), c.sent...)
}

func (c *fakeClient) emit(ev automation.Event) {
	c.events <- ev
}

// fakeFactory hands out fakeClients and remembers them per key. onCreate,
// when set, runs before Create returns, so tests can pre-load events that
// the manager's pump will see immediately.
type fakeFactory struct {
	mu       sync.Mutex
	err      error
	clients  map[string]*fakeClient
	creates  int
	onCreate func(key string, c *fakeClient)
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[string]*fakeClient)}
}

func (f *fakeFactory) Create(ctx context.Context, key, workDir string) (automation.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.err != nil {
		return nil, f.err
	}
	c := newFakeClient()
	f.clients[key] = c
	if f.onCreate != nil {
		f.onCreate(key, c)
	}
	return c, nil
}

func (f *fakeFactory) client(key string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[key]
}

func (f *fakeFactory) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

// fakeSink records notifications.
type fakeSink struct {
	mu        sync.Mutex
	messages  []automation.Message
	connected []string
}

func (s *fakeSink) NotifyMessage(ctx context.Context, key string, msg automation.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *fakeSink) NotifyConnected(ctx context.Context, key, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, identity)
	return nil
}

func (s *fakeSink) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeSink) connectedIdentities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.connected...)
}

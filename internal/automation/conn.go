package automation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/aki/wamux/internal/core/logger"
)

// eventBuffer is the size of the per-session event queue. Events arriving
// while the queue is full are dropped rather than stalling the runner reader.
const eventBuffer = 64

// ErrConnClosed is returned for calls made after the runner connection closed.
var ErrConnClosed = errors.New("runner connection closed")

// request is one RPC sent to the runner over stdin.
type request struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Params any    `json:"params,omitempty"`
}

// response is one RPC reply received from the runner.
type response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// envelope is the union of everything a runner may print on one stdout line:
// either an RPC reply (id set) or an asynchronous event (event set).
type envelope struct {
	ID string `json:"id,omitempty"`
	response
	Event
}

// conn speaks the newline-delimited JSON protocol with one runner process.
// Writes hold writeMu only; mu guards the pending map and close flag. A
// single reader goroutine routes replies to waiting callers and events to
// the event queue, so a write blocked on a wedged runner stdin never stalls
// reply or event dispatch.
type conn struct {
	writeMu sync.Mutex
	enc     *json.Encoder
	writeC  io.Closer

	mu      sync.Mutex
	pending map[string]chan response
	closed  bool

	events chan Event
	done   chan struct{}
	log    logger.Logger
}

func newConn(r io.Reader, w io.WriteCloser, log logger.Logger) *conn {
	c := &conn{
		enc:     json.NewEncoder(w),
		writeC:  w,
		pending: make(map[string]chan response),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		log:     log,
	}
	go c.readLoop(r)
	return c
}

// call performs one RPC. result may be nil when the reply carries no payload.
func (c *conn) call(ctx context.Context, op string, params, result any) error {
	id := uuid.NewString()
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.enc.Encode(request{ID: id, Op: op, Params: params})
	c.writeMu.Unlock()

	if err != nil {
		c.forget(id)
		return fmt.Errorf("failed to write %s request: %w", op, err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-c.done:
		return ErrConnClosed
	case resp := <-ch:
		if !resp.OK {
			return fmt.Errorf("runner %s failed: %s", op, resp.Error)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", op, err)
		}
		return nil
	}
}

func (c *conn) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop consumes runner stdout until EOF, then closes the event stream
// and fails any callers still waiting for replies.
func (c *conn) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.log.Warn("discarding malformed runner output", "error", err)
			continue
		}

		switch {
		case env.ID != "":
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env.response
			}
		case env.Event.Type != "":
			select {
			case c.events <- env.Event:
			default:
				c.log.Warn("event queue full, dropping runner event", "type", env.Event.Type)
			}
		default:
			c.log.Warn("discarding runner output with neither id nor event")
		}
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	close(c.events)
}

// close shuts the write side down; the reader exits once the runner does.
func (c *conn) close() {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()
	if !already {
		_ = c.writeC.Close()
	}
}

package automation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aki/wamux/internal/core/logger"
)

// shutdownWait bounds how long Destroy waits for a runner to exit on its own
// before force-killing the process group.
const shutdownWait = 3 * time.Second

// RunnerFactory creates runner-backed clients. One runner process is spawned
// per session; it owns the session's browser profile (work dir) and writes
// its credentials under the credential root.
type RunnerFactory struct {
	// Command is the runner executable.
	Command string
	// ExtraArgs are appended verbatim after the generated arguments.
	ExtraArgs []string
	// CredentialRoot is passed to the runner as its auth storage root.
	CredentialRoot string
	// Log receives runner diagnostics. Defaults to a no-op logger.
	Log logger.Logger
}

// Create spawns a runner process for key and returns a Client speaking the
// newline-delimited JSON protocol over its stdin/stdout.
func (f *RunnerFactory) Create(ctx context.Context, key, workDir string) (Client, error) {
	log := f.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("session", key)

	path, err := exec.LookPath(f.Command)
	if err != nil {
		return nil, fmt.Errorf("runner command not found: %w", err)
	}

	args := []string{
		"--session", key,
		"--user-data-dir", workDir,
		"--auth-dir", filepath.Join(f.CredentialRoot, key),
	}
	args = append(args, f.ExtraArgs...)

	// Deliberately not CommandContext: the runner outlives the Create call
	// and is stopped explicitly through Destroy.
	cmd := exec.Command(path, args...)
	configureProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open runner stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open runner stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open runner stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runner: %w", err)
	}

	go logStderr(stderr, log)

	rc := &runnerClient{
		key:  key,
		cmd:  cmd,
		conn: newConn(stdout, stdin, log),
		log:  log,
		exit: make(chan error, 1),
	}
	go func() { rc.exit <- cmd.Wait() }()

	log.Info("runner started", "pid", cmd.Process.Pid, "work_dir", workDir)
	return rc, nil
}

// runnerClient is the production Client implementation backed by one
// external runner process.
type runnerClient struct {
	key  string
	cmd  *exec.Cmd
	conn *conn
	log  logger.Logger
	exit chan error
}

func (c *runnerClient) State(ctx context.Context) (State, error) {
	var result struct {
		State State `json:"state"`
	}
	if err := c.conn.call(ctx, "get_state", nil, &result); err != nil {
		return StateErrored, err
	}
	return result.State, nil
}

func (c *runnerClient) Send(ctx context.Context, to, content string) (string, error) {
	params := map[string]string{"to": to, "content": content}
	var result struct {
		MessageID string `json:"message_id"`
	}
	if err := c.conn.call(ctx, "send_message", params, &result); err != nil {
		return "", err
	}
	return result.MessageID, nil
}

func (c *runnerClient) Chats(ctx context.Context) ([]Chat, error) {
	var result struct {
		Chats []Chat `json:"chats"`
	}
	if err := c.conn.call(ctx, "list_chats", nil, &result); err != nil {
		return nil, err
	}
	return result.Chats, nil
}

func (c *runnerClient) Messages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	params := map[string]any{"chat_id": chatID, "limit": limit}
	var result struct {
		Messages []Message `json:"messages"`
	}
	if err := c.conn.call(ctx, "fetch_messages", params, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

func (c *runnerClient) Events() <-chan Event {
	return c.conn.events
}

// Destroy asks the runner to shut down, then escalates to killing the
// process group. Safe to call repeatedly; later calls just re-wait.
func (c *runnerClient) Destroy(ctx context.Context) error {
	// Polite shutdown request first; the runner flushes its browser state.
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	_ = c.conn.call(shutdownCtx, "shutdown", nil, nil)
	cancel()
	c.conn.close()

	select {
	case err := <-c.exit:
		c.exit <- err
		return nil
	case <-time.After(shutdownWait):
	}

	c.log.Warn("runner did not exit, killing process group", "pid", c.cmd.Process.Pid)
	killProcessGroup(c.cmd)

	select {
	case err := <-c.exit:
		c.exit <- err
	case <-time.After(shutdownWait):
		return fmt.Errorf("runner process %d did not die", c.cmd.Process.Pid)
	}
	return nil
}

// logStderr forwards runner stderr lines to the structured log.
func logStderr(r io.Reader, log logger.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		log.Debug("runner", "stderr", scanner.Text())
	}
}

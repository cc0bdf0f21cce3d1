// Package credstore is the keyed persistent credential store for sessions.
// Each key owns one directory under the store root: the runner process keeps
// its auth state there, and wamux keeps a small flock-protected metadata
// record alongside it. Deleting a missing key is a no-op.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/aki/wamux/internal/core/logger"
)

const (
	entryFile   = "entry.yaml"
	lockTimeout = 5 * time.Second
)

// ErrLockTimeout is returned when acquiring the metadata file lock times out.
var ErrLockTimeout = errors.New("timeout acquiring credential lock")

// ErrInvalidKey is returned for keys that cannot be used as directory names.
var ErrInvalidKey = errors.New("invalid session key")

// Entry is the metadata record wamux keeps per credential directory.
type Entry struct {
	Key       string     `yaml:"key"`
	CreatedAt time.Time  `yaml:"created_at"`
	Identity  string     `yaml:"identity,omitempty"`
	PairedAt  *time.Time `yaml:"paired_at,omitempty"`
}

// Store manages per-key credential directories under a single root.
type Store struct {
	root string
	log  logger.Logger
}

// New creates a Store rooted at root, creating the directory if needed.
func New(root string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create credential root: %w", err)
	}
	return &Store{root: root, log: log}, nil
}

// Path returns the credential directory for key. The directory is handed to
// the runner process, which owns its contents.
func (s *Store) Path(key string) string {
	return filepath.Join(s.root, key)
}

// Put writes the metadata record for entry.Key with an exclusive lock.
func (s *Store) Put(ctx context.Context, entry *Entry) error {
	if err := ValidateKey(entry.Key); err != nil {
		return err
	}

	dir := s.Path(entry.Key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}

	path := filepath.Join(dir, entryFile)
	unlock, err := s.lock(ctx, path)
	if err != nil {
		return err
	}
	defer unlock()

	data, err := yaml.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal credential entry: %w", err)
	}

	// Atomic write via temp file + rename.
	tmp := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename credential entry: %w", err)
	}
	return nil
}

// Get reads the metadata record for key. Missing keys return os.ErrNotExist.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	path := filepath.Join(s.Path(key), entryFile)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	unlock, err := s.lock(ctx, path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credential entry: %w", err)
	}
	return &entry, nil
}

// Delete removes the whole credential directory for key. Missing keys are a
// no-op: teardown must be callable for keys that never paired.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	dir := s.Path(key)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove credential dir: %w", err)
	}
	return nil
}

// Keys lists every key with a credential directory.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			keys = append(keys, e.Name())
		}
	}
	return keys, nil
}

// PurgeAll deletes every credential entry. Called on startup so sessions from
// a previous process can never resume with half-released browser state.
func (s *Store) PurgeAll(ctx context.Context) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			s.log.Warn("failed to purge credential entry", "key", key, "error", err)
		} else {
			s.log.Info("purged stale credential entry", "key", key)
		}
	}
	return nil
}

// lock acquires an exclusive flock on path's lock file.
func (s *Store) lock(ctx context.Context, path string) (func(), error) {
	lock := flock.New(path + ".lock")

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire credential lock: %w", err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}
	return func() { _ = lock.Unlock() }, nil
}

// ValidateKey rejects keys that would escape the store root.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." ||
		strings.ContainsAny(key, "/\\") {
		return ErrInvalidKey
	}
	return nil
}

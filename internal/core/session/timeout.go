package session

import (
	"sync"
	"time"

	"github.com/aki/wamux/internal/core/logger"
)

// TimeoutScheduler arms one single-fire pairing deadline per session key.
// A session stuck in AwaitingPairing holds a full browser process, so the
// deadline bounds how long an unpaired session may exist.
//
// Cancel is linearized against firing: the fire callback re-checks, under
// the scheduler mutex, that it is still the armed timer for its key before
// invoking expire. A cancel/fire race therefore has exactly one outcome.
type TimeoutScheduler struct {
	mu     sync.Mutex
	timers map[Key]*time.Timer
	expire func(key Key)
	log    logger.Logger
}

// NewTimeoutScheduler creates a scheduler that calls expire for keys whose
// deadline fires before being cancelled.
func NewTimeoutScheduler(expire func(key Key), log logger.Logger) *TimeoutScheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &TimeoutScheduler{
		timers: make(map[Key]*time.Timer),
		expire: expire,
		log:    log,
	}
}

// Arm schedules the deadline for key. Arming while a timer is already armed
// replaces it; deadlines never stack.
func (s *TimeoutScheduler) Arm(key Key, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[key]; ok {
		prev.Stop()
		s.log.Debug("pairing deadline re-armed", "key", key, "timeout", d)
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.timers[key]
		if !ok || current != t {
			// Lost the race against Cancel or a re-arm.
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()

		s.log.Info("pairing deadline expired", "key", key)
		s.expire(key)
	})
	s.timers[key] = t
}

// Cancel disarms the deadline for key. Idempotent: cancelling a key with no
// armed timer is a no-op.
func (s *TimeoutScheduler) Cancel(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Armed reports whether key currently has a deadline armed.
func (s *TimeoutScheduler) Armed(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Stop disarms every deadline. Used on shutdown.
func (s *TimeoutScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

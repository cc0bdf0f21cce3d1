package session

import "fmt"

// ErrSessionExists is returned when creating a key that already has a live handle
type ErrSessionExists struct {
	Key Key
}

func (e ErrSessionExists) Error() string {
	return fmt.Sprintf("session already exists: %s", e.Key)
}

// ErrSessionNotFound is returned when a session cannot be found
type ErrSessionNotFound struct {
	Key Key
}

func (e ErrSessionNotFound) Error() string {
	return fmt.Sprintf("session not found: %s", e.Key)
}

// ErrNotConnected is returned when an operation needs a Connected session
type ErrNotConnected struct {
	Key   Key
	State State
}

func (e ErrNotConnected) Error() string {
	return fmt.Sprintf("session %s is not connected (state: %s)", e.Key, e.State)
}

// ErrCapacityExceeded is returned when admission control rejects a new session
type ErrCapacityExceeded struct {
	Connected int
	Max       int
}

func (e ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("session capacity reached: %d of %d connected", e.Connected, e.Max)
}

// ErrInvalidTransition is returned when an event is not valid from the
// handle's current state. Callers treat it as a stale event, not a fault.
type ErrInvalidTransition struct {
	Key   Key
	From  State
	Event Event
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("session %s: event %s not valid in state %s", e.Key, e.Event, e.From)
}

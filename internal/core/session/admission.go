package session

// Admission decides whether a new session may be created. The connected
// count is a point-in-time snapshot, not a reservation: two racing creates
// may both pass the ceiling, and the registry's per-key uniqueness check is
// what stays strict. Capacity is advisory, uniqueness is not.
type Admission struct {
	registry *Registry
	max      int
}

// NewAdmission creates an admission controller with the given ceiling.
func NewAdmission(registry *Registry, max int) *Admission {
	return &Admission{registry: registry, max: max}
}

// TryAdmit returns nil when a session for key may be created, or
// ErrCapacityExceeded when the ceiling is reached. A key that already has a
// handle always passes: a session may re-attempt its own pairing regardless
// of capacity.
func (a *Admission) TryAdmit(key Key) error {
	if a.registry.Exists(key) {
		return nil
	}
	if n := a.registry.ConnectedCount(); n >= a.max {
		return ErrCapacityExceeded{Connected: n, Max: a.max}
	}
	return nil
}

// Max returns the configured ceiling.
func (a *Admission) Max() int {
	return a.max
}

package services

import "sync"

// Transition is the presence change implied by a registry mutation
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionOnline: the user's connection count went 0 -> 1
	TransitionOnline
	// TransitionOffline: the user's connection count went 1 -> 0
	TransitionOffline
)

func (t Transition) String() string {
	switch t {
	case TransitionOnline:
		return "online"
	case TransitionOffline:
		return "offline"
	default:
		return "none"
	}
}

// registry maps users to their admitted connections. A user key exists
// only while at least one connection is registered for it.
type registry struct {
	mu     sync.RWMutex
	byUser map[uint]map[string]Connection
	total  int
}

func newRegistry() *registry {
	return &registry{
		byUser: make(map[uint]map[string]Connection),
	}
}

// add registers conn under userID. added is false when the connection was
// already registered, in which case the transition is always TransitionNone.
func (r *registry) add(userID uint, conn Connection) (added bool, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	if conns == nil {
		conns = make(map[string]Connection)
		r.byUser[userID] = conns
	}
	if _, exists := conns[conn.ID()]; exists {
		return false, TransitionNone
	}

	conns[conn.ID()] = conn
	r.total++
	if len(conns) == 1 {
		return true, TransitionOnline
	}
	return true, TransitionNone
}

// remove unregisters conn. Removing an unknown connection is a no-op.
func (r *registry) remove(userID uint, conn Connection) (removed bool, t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := r.byUser[userID]
	if conns == nil {
		return false, TransitionNone
	}
	if _, exists := conns[conn.ID()]; !exists {
		return false, TransitionNone
	}

	delete(conns, conn.ID())
	r.total--
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return true, TransitionOffline
	}
	return true, TransitionNone
}

// connections returns a snapshot of the user's connections
func (r *registry) connections(userID uint) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// snapshot returns every registered connection grouped by user
func (r *registry) snapshot() map[uint][]Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[uint][]Connection, len(r.byUser))
	for userID, conns := range r.byUser {
		list := make([]Connection, 0, len(conns))
		for _, c := range conns {
			list = append(list, c)
		}
		out[userID] = list
	}
	return out
}

func (r *registry) has(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

func (r *registry) counts() (users, conns int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser), r.total
}

const lockStripes = 64

// userLocks serialises connect/disconnect for the same user, including
// the presence write that follows a transition.
type userLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *userLocks) lock(userID uint) func() {
	m := &l.stripes[userID%lockStripes]
	m.Lock()
	return m.Unlock
}

package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SessionState is a user's session lifecycle on this node (§4.3).
type SessionState int

const (
	Idle SessionState = iota
	LoadRequested
	Owned
	NotOwner
	Released
	LostLease
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoadRequested:
		return "load_requested"
	case Owned:
		return "owned"
	case NotOwner:
		return "not_owner"
	case Released:
		return "released"
	case LostLease:
		return "lost_lease"
	default:
		return "unknown"
	}
}

// DefaultLeaseTTL is the minimum lease timeout from the data model: a lease
// is considered lost after at least 30s without a heartbeat.
const DefaultLeaseTTL = 30 * time.Second

// session is one user's per-node ownership state plus the mutex that
// serializes envelope processing for that user. It is never referenced
// from outside the owning Registry.
type session struct {
	run      sync.Mutex // serializes envelope processing for this user
	mu       sync.Mutex // guards state and resident
	state    SessionState
	resident bool // true when a player for this user joined this node
}

// Registry is the explicit per-node map of userId -> session state,
// replacing the cyclic session/profile reference the naive design would
// produce (design note, §9): the registry owns the sessions outright, and
// release only sets the session's state to Released. Entries are never
// removed from the map, and no release callback is involved.
// Grounded on the reference fleet's workflow registry (global id -> struct
// map guarded by one RWMutex) and its access-control role cache (checked
// before falling back to the backing store).
type Registry struct {
	nodeID string
	store  LedgerStore
	log    *logrus.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	maxAcquireAttempts int
	leaseTTL           time.Duration
}

// NewRegistry constructs a session Registry for one node. nodeID must be
// stable for the process lifetime; it is the value written into the lease.
func NewRegistry(nodeID string, store LedgerStore, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		nodeID:             nodeID,
		store:              store,
		log:                log,
		sessions:           make(map[string]*session),
		maxAcquireAttempts: 1,
		leaseTTL:           DefaultLeaseTTL,
	}
}

func (reg *Registry) entry(userID string) *session {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.sessions[userID]
	if !ok {
		s = &session{state: Idle}
		reg.sessions[userID] = s
	}
	return s
}

// WithSession serializes fn against any other caller for the same userID on
// this node (the per-user queue/mutex from §4.3/§5), then returns fn's
// result unchanged.
func (reg *Registry) WithSession(userID string, fn func() error) error {
	s := reg.entry(userID)
	s.run.Lock()
	defer s.run.Unlock()
	return fn()
}

// AcquireOpportunistic attempts a one-shot lease claim for a user with no
// resident player on this node (§4.3). Returns false with a nil error if
// another node already holds the lease.
func (reg *Registry) AcquireOpportunistic(ctx context.Context, userID string) (bool, error) {
	s := reg.entry(userID)
	s.state = LoadRequested
	ok, err := reg.store.AcquireLease(ctx, userID, reg.nodeID, reg.leaseTTL)
	if err != nil {
		s.state = Idle
		return false, err
	}
	if !ok {
		s.state = NotOwner
		reg.log.WithField("user_id", userID).Debug("session: lease held by another node")
		return false, nil
	}
	s.state = Owned
	return true, nil
}

// ReleaseOpportunistic drops a lease acquired via AcquireOpportunistic once
// the triggering envelope has been fully processed.
func (reg *Registry) ReleaseOpportunistic(ctx context.Context, userID string) {
	s := reg.entry(userID)
	if err := reg.store.ReleaseLease(ctx, userID, reg.nodeID); err != nil {
		reg.log.WithError(err).WithField("user_id", userID).Warn("session: release lease failed, will expire via TTL")
	}
	s.state = Released
}

// MarkResident claims (or reaffirms) the lease for a player joining this
// node and holds it across subsequent sessions until MarkAbsent is called.
func (reg *Registry) MarkResident(ctx context.Context, userID string) error {
	s := reg.entry(userID)
	ok, err := reg.store.AcquireLease(ctx, userID, reg.nodeID, reg.leaseTTL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.resident = true
	if ok {
		s.state = Owned
	} else {
		s.state = NotOwner
	}
	s.mu.Unlock()
	return nil
}

// MarkAbsent releases the lease when a resident player leaves this node.
func (reg *Registry) MarkAbsent(ctx context.Context, userID string) {
	s := reg.entry(userID)
	s.mu.Lock()
	s.resident = false
	s.mu.Unlock()
	reg.ReleaseOpportunistic(ctx, userID)
}

// IsOwned reports whether this node currently believes it holds the lease
// for userID, without making a network call.
func (reg *Registry) IsOwned(userID string) bool {
	s := reg.entry(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Owned
}

// IsResident reports whether a player for userID is currently joined on
// this node.
func (reg *Registry) IsResident(userID string) bool {
	s := reg.entry(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resident
}

// Heartbeat renews the lease for every resident session. Call on a fixed
// cadence well under leaseTTL; a failed renewal demotes the session to
// LostLease (treated as Released) so the next envelope re-acquires.
func (reg *Registry) Heartbeat(ctx context.Context) {
	reg.mu.RLock()
	users := make([]string, 0, len(reg.sessions))
	for userID, s := range reg.sessions {
		s.mu.Lock()
		if s.resident {
			users = append(users, userID)
		}
		s.mu.Unlock()
	}
	reg.mu.RUnlock()

	for _, userID := range users {
		ok, err := reg.store.RenewLease(ctx, userID, reg.nodeID, reg.leaseTTL)
		if err != nil || !ok {
			s := reg.entry(userID)
			s.mu.Lock()
			s.state = LostLease
			s.mu.Unlock()
			reg.log.WithField("user_id", userID).Warn("session: lost lease on heartbeat")
		}
	}
}

// Shutdown releases every lease this node currently holds. Call during
// graceful shutdown so other nodes can take over without waiting out the
// full lease TTL.
func (reg *Registry) Shutdown(ctx context.Context) {
	reg.mu.RLock()
	users := make([]string, 0, len(reg.sessions))
	for userID := range reg.sessions {
		users = append(users, userID)
	}
	reg.mu.RUnlock()
	for _, userID := range users {
		reg.ReleaseOpportunistic(ctx, userID)
	}
}

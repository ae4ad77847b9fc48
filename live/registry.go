package live

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePresenter   Role = "presenter"
	RoleParticipant Role = "participant"
)

func (r Role) valid() bool {
	return r == RolePresenter || r == RoleParticipant
}

// Conn is one client connection. The session is referenced by id only.
type Conn struct {
	mu sync.Mutex

	id          string
	role        Role
	sessionID   string
	displayName string
	lastResult  *SubmitResult
	createdAt   time.Time

	outbox *Outbox
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Role() Role {
	return c.role
}

func (c *Conn) Outbox() *Outbox {
	return c.outbox
}

func (c *Conn) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sessionID
}

func (c *Conn) DisplayName() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.displayName
}

func (c *Conn) setLastResult(r SubmitResult) {
	c.mu.Lock()
	c.lastResult = &r
	c.mu.Unlock()
}

func (c *Conn) LastResult() *SubmitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastResult == nil {
		return nil
	}
	r := *c.lastResult
	return &r
}

// SessionLookup lets the registry check a session id without owning
// sessions.
type SessionLookup interface {
	Exists(id string) bool
}

// Registry tracks live connections and which session each is bound to.
// Per-connection changes hold that connection's lock for their whole
// duration; the registry lock is only held long enough to update the maps.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*Conn
	members   map[string][]*Conn // session id -> bound connections, join order
	sessions  SessionLookup
	queueSize int
}

func NewRegistry(sessions SessionLookup, queueSize int) *Registry {
	return &Registry{
		conns:     make(map[string]*Conn),
		members:   make(map[string][]*Conn),
		sessions:  sessions,
		queueSize: queueSize,
	}
}

// Register creates a connection record. A non-empty sessionID binds the
// connection immediately without an existence check; presenters use this
// when attaching to the session they created.
func (r *Registry) Register(role Role, sessionID string) (*Conn, error) {
	if !role.valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	c := &Conn{
		id:        uuid.NewString(),
		role:      role,
		sessionID: sessionID,
		createdAt: time.Now(),
		outbox:    NewOutbox(r.queueSize),
	}

	r.mu.Lock()
	r.conns[c.id] = c
	if sessionID != "" {
		r.members[sessionID] = append(r.members[sessionID], c)
	}
	r.mu.Unlock()

	return c, nil
}

func (r *Registry) Get(connID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[connID]
	return c, ok
}

// Bind attaches a connection to a session, moving it out of any session it
// was previously bound to.
func (r *Registry) Bind(connID, sessionID, displayName string) error {
	c, ok := r.Get(connID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnNotFound, connID)
	}
	if r.sessions != nil && !r.sessions.Exists(sessionID) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.sessionID
	c.sessionID = sessionID
	if c.role == RoleParticipant {
		c.displayName = displayName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old == sessionID && slices.Contains(r.members[sessionID], c) {
		return nil
	}
	if old != "" {
		r.removeMemberLocked(old, c)
	}
	r.members[sessionID] = append(r.members[sessionID], c)

	return nil
}

// Unbind detaches a connection from its session and returns the session id
// it was bound to.
func (r *Registry) Unbind(connID string) (string, error) {
	c, ok := r.Get(connID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrConnNotFound, connID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.sessionID
	c.sessionID = ""

	if old != "" {
		r.mu.Lock()
		r.removeMemberLocked(old, c)
		r.mu.Unlock()
	}

	return old, nil
}

// Unregister forgets a connection and closes its outbox.
func (r *Registry) Unregister(connID string) (*Conn, bool) {
	c, ok := r.Get(connID)
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	sessionID := c.sessionID

	r.mu.Lock()
	_, present := r.conns[connID]
	delete(r.conns, connID)
	if sessionID != "" {
		r.removeMemberLocked(sessionID, c)
	}
	r.mu.Unlock()
	c.mu.Unlock()

	c.outbox.Close()

	return c, present
}

// UnbindSession detaches every connection bound to sessionID and returns
// them. Their outboxes stay open so a final notice can still be queued.
func (r *Registry) UnbindSession(sessionID string) []*Conn {
	r.mu.Lock()
	conns := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		if c.sessionID == sessionID {
			c.sessionID = ""
		}
		c.mu.Unlock()
	}

	return conns
}

func (r *Registry) removeMemberLocked(sessionID string, c *Conn) {
	members := r.members[sessionID]
	if i := slices.Index(members, c); i >= 0 {
		members = slices.Delete(members, i, i+1)
	}
	if len(members) == 0 {
		delete(r.members, sessionID)
		return
	}
	r.members[sessionID] = members
}

// Members returns a snapshot of every connection bound to sessionID.
func (r *Registry) Members(sessionID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.members[sessionID])
}

// Participants returns the participant display names bound to sessionID,
// in join order.
func (r *Registry) Participants(sessionID string) []string {
	names := []string{}
	for _, c := range r.Members(sessionID) {
		if c.role != RoleParticipant {
			continue
		}
		names = append(names, c.DisplayName())
	}
	return names
}

// Count returns the number of registered connections with the given role.
func (r *Registry) Count(role Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.conns {
		if c.role == role {
			n++
		}
	}
	return n
}

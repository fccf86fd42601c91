package presence

import (
	"sync"
	"time"

	"adminchat/pkg/types"
)

// Participant is a connection's live presence record while joined to the
// room. It exists only for the lifetime of the connection; a re-join after
// disconnect creates a fresh record.
type Participant struct {
	ConnectionID      string
	Identity          types.Identity
	JoinedAt          time.Time
	IsTyping          bool
	IsSharingLocation bool
	LastLocation      *types.GeoPoint
	IsInVoiceChat     bool
	LastMapViewport   *types.MapViewport
	Route             []types.RoutePoint
}

// snapshot returns a copy safe to hand outside the registry lock.
func (p *Participant) snapshot() *Participant {
	cp := *p
	if p.LastLocation != nil {
		loc := *p.LastLocation
		cp.LastLocation = &loc
	}
	if p.LastMapViewport != nil {
		vp := *p.LastMapViewport
		cp.LastMapViewport = &vp
	}
	cp.Route = append([]types.RoutePoint(nil), p.Route...)
	return &cp
}

// Registry is the in-memory directory of live participants, keyed by
// connection ID with a secondary user-ID index. The registry is the sole
// owner of Participant mutation; the hub drives it from a single goroutine
// but the mutex keeps it safe for callers like health endpoints.
type Registry struct {
	mu          sync.RWMutex
	byConn      map[string]*Participant
	connByUser  map[string]string
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[string]*Participant),
		connByUser: make(map[string]string),
	}
}

// Add registers a participant for a connection. A stale entry for the same
// connection is replaced.
func (r *Registry) Add(connectionID string, identity types.Identity) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Participant{
		ConnectionID: connectionID,
		Identity:     identity,
		JoinedAt:     time.Now(),
	}
	r.byConn[connectionID] = p
	r.connByUser[identity.ID] = connectionID
	return p.snapshot()
}

// Remove deletes the participant for a connection, returning its final
// state and whether an entry existed. Safe to call twice; the second call
// reports existed=false, which is how leave stays idempotent.
func (r *Registry) Remove(connectionID string) (*Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return nil, false
	}
	delete(r.byConn, connectionID)
	if r.connByUser[p.Identity.ID] == connectionID {
		delete(r.connByUser, p.Identity.ID)
	}
	return p.snapshot(), true
}

// Get returns the participant for a connection.
func (r *Registry) Get(connectionID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return nil, false
	}
	return p.snapshot(), true
}

// GetByUser returns the participant for a user ID.
func (r *Registry) GetByUser(userID string) (*Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, exists := r.connByUser[userID]
	if !exists {
		return nil, false
	}
	p, exists := r.byConn[connID]
	if !exists {
		return nil, false
	}
	return p.snapshot(), true
}

// List returns a snapshot of every joined participant.
func (r *Registry) List() []*Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	participants := make([]*Participant, 0, len(r.byConn))
	for _, p := range r.byConn {
		participants = append(participants, p.snapshot())
	}
	return participants
}

// Count returns the number of joined participants.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// SetTyping updates the typing flag.
func (r *Registry) SetTyping(connectionID string, isTyping bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return false
	}
	p.IsTyping = isTyping
	return true
}

// SetSharing marks the participant as sharing their live location.
func (r *Registry) SetSharing(connectionID string, loc types.GeoPoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return false
	}
	p.IsSharingLocation = true
	p.LastLocation = &loc
	return true
}

// ClearSharing ends a live location share.
func (r *Registry) ClearSharing(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return false
	}
	p.IsSharingLocation = false
	p.LastLocation = nil
	return true
}

// SetVoice updates voice-chat membership.
func (r *Registry) SetVoice(connectionID string, inVoice bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return false
	}
	p.IsInVoiceChat = inVoice
	return true
}

// SetViewport overwrites the last reported map viewport.
func (r *Registry) SetViewport(connectionID string, vp types.MapViewport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return false
	}
	p.LastMapViewport = &vp
	return true
}

// SetRoute fully replaces the participant's sketched route. An empty slice
// means the route was cleared; it is stored (and later relayed) as such,
// never dropped as a no-op.
func (r *Registry) SetRoute(connectionID string, points []types.RoutePoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byConn[connectionID]
	if !exists {
		return false
	}
	p.Route = append([]types.RoutePoint(nil), points...)
	return true
}

package sessions

import (
	"sync"
	"time"

	"github.com/vantagecrm/wabridge/wire"
)

// Registry is the single source of truth for which tenants have a live
// session. All mutation happens under one lock, and every check-then-act
// (does a session exist, is this generation still current) completes inside
// that lock, so two concurrent starts can never race into two handles for
// the same tenant.
//
// Generations guard against resurrection by stale work: every install of a
// new session bumps the tenant's generation, as does every operator
// teardown. Scheduled restarts and connection event loops carry the
// generation they were created under and become no-ops once it is stale.
type Registry struct {
	lock     sync.Mutex
	sessions map[string]*Session
	gens     map[string]uint64
	timers   map[string]*time.Timer
	draining bool
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		gens:     make(map[string]uint64),
		timers:   make(map[string]*time.Timer),
	}
}

// Snapshot returns a copy of the tenant's session state.
func (r *Registry) Snapshot(tenantID string) (Snapshot, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok {
		return Snapshot{TenantID: tenantID, Generation: r.gens[tenantID]}, false
	}
	return s.snapshot(r.gens[tenantID]), true
}

// Draining reports whether Drain has been called.
func (r *Registry) Draining() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.draining
}

// Begin installs a fresh Starting session for the tenant and returns its
// generation plus the guard governing the upcoming dial. ok is false when
// a live session already exists (start is idempotent) or the registry is
// draining. The Starting guard is committed here, before any blocking
// work, so a second Begin cannot slip in between check and install.
func (r *Registry) Begin(tenantID string) (uint64, *dialGuard, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.draining {
		return 0, nil, false
	}
	if _, exists := r.sessions[tenantID]; exists {
		return 0, nil, false
	}
	gen := r.install(tenantID, 0, "")
	return gen, r.sessions[tenantID].dial, true
}

// Supersede replaces the tenant's session with a fresh Starting one,
// carrying the reconnect-attempt counter forward. It returns the old
// session (for teardown by the caller, outside the lock), the new
// generation, and the new dial guard. ok is false when gen is no longer
// current, meaning a reset, disconnect, or drain intervened and this
// restart must not happen.
func (r *Registry) Supersede(tenantID string, gen uint64, attempts int) (*Session, uint64, *dialGuard, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.draining || r.gens[tenantID] != gen {
		return nil, 0, nil, false
	}
	old, exists := r.sessions[tenantID]
	if !exists {
		return nil, 0, nil, false
	}
	reason := old.LastCloseReason
	newGen := r.install(tenantID, attempts, reason)
	r.sessions[tenantID].StartedAt = old.StartedAt
	return old, newGen, r.sessions[tenantID].dial, true
}

// install assumes the lock is held.
func (r *Registry) install(tenantID string, attempts int, lastClose string) uint64 {
	r.stopTimer(tenantID)
	r.gens[tenantID]++
	now := time.Now()
	r.sessions[tenantID] = &Session{
		TenantID:          tenantID,
		State:             StateStarting,
		ReconnectAttempts: attempts,
		LastCloseReason:   lastClose,
		StartedAt:         now,
		LastTransition:    now,
		dial:              newDialGuard(),
	}
	return r.gens[tenantID]
}

// Attach hands the freshly dialed handle to the session. ok is false when
// the session was superseded while the dial was in flight; the caller must
// then close the handle itself.
func (r *Registry) Attach(tenantID string, gen uint64, handle wire.Client) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.current(tenantID, gen)
	if !ok {
		return false
	}
	s.handle = handle
	return true
}

// MarkPairing moves the session to AwaitingPairing with the rendered
// pairing image. Only valid from Starting or AwaitingPairing; a rotated
// pairing code arriving after the session connected is discarded.
func (r *Registry) MarkPairing(tenantID string, gen uint64, image []byte) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.current(tenantID, gen)
	if !ok {
		return false
	}
	if s.State != StateStarting && s.State != StateAwaitingPairing {
		return false
	}
	s.State = StateAwaitingPairing
	s.PairingImage = image
	s.LastTransition = time.Now()
	return true
}

// MarkConnected moves the session to Connected: attempts reset, identity
// captured, pairing image cleared.
func (r *Registry) MarkConnected(tenantID string, gen uint64, identityLabel string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.current(tenantID, gen)
	if !ok {
		return false
	}
	s.State = StateConnected
	s.IdentityLabel = identityLabel
	s.ReconnectAttempts = 0
	s.PairingImage = nil
	s.LastCloseReason = ""
	s.LastTransition = time.Now()
	return true
}

// MarkReconnecting records a transient close: increments the attempt
// counter, returns the new count.
func (r *Registry) MarkReconnecting(tenantID string, gen uint64, reason string) (int, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.current(tenantID, gen)
	if !ok {
		return 0, false
	}
	s.State = StateReconnecting
	s.ReconnectAttempts++
	s.LastCloseReason = reason
	s.LastTransition = time.Now()
	return s.ReconnectAttempts, true
}

// MarkRestarting records a cooperative restart request: state back to
// Starting, attempts untouched.
func (r *Registry) MarkRestarting(tenantID string, gen uint64, reason string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.current(tenantID, gen)
	if !ok {
		return false
	}
	s.State = StateStarting
	s.LastCloseReason = reason
	s.LastTransition = time.Now()
	return true
}

// MarkLoggedOut records that the remote party invalidated the pairing:
// state moves to LoggedOut and the pairing image is dropped. The session
// is evicted right after; the state is the last thing a concurrent status
// poll can observe before the wipe.
func (r *Registry) MarkLoggedOut(tenantID string, gen uint64) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.current(tenantID, gen)
	if !ok {
		return false
	}
	s.State = StateLoggedOut
	s.PairingImage = nil
	s.LastCloseReason = wire.CloseLoggedOut.String()
	s.LastTransition = time.Now()
	return true
}

// ConnectedHandle returns the tenant's handle iff the session is Connected.
func (r *Registry) ConnectedHandle(tenantID string) (wire.Client, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.sessions[tenantID]
	if !ok || s.State != StateConnected || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// Remove deletes the tenant's session if gen is still current, bumping the
// generation so any in-flight work for it dies. Used by the supervisor for
// terminal transitions (logged out, attempts exhausted).
func (r *Registry) Remove(tenantID string, gen uint64) (*Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.gens[tenantID] != gen {
		return nil, false
	}
	return r.evict(tenantID)
}

// Take unconditionally deletes the tenant's session, bumping the
// generation and cancelling any pending restart timer. Used by operator
// interventions (reset, disconnect).
func (r *Registry) Take(tenantID string) (*Session, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.evict(tenantID)
}

// evict assumes the lock is held.
func (r *Registry) evict(tenantID string) (*Session, bool) {
	r.stopTimer(tenantID)
	r.gens[tenantID]++
	s, ok := r.sessions[tenantID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, tenantID)
	return s, true
}

// Schedule arms the tenant's restart timer, replacing any previous one.
// The timer is only armed while gen is current; the callback must still
// re-check the generation (via Supersede) at fire time.
func (r *Registry) Schedule(tenantID string, gen uint64, d time.Duration, fn func()) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.draining || r.gens[tenantID] != gen {
		return false
	}
	r.stopTimer(tenantID)
	r.timers[tenantID] = time.AfterFunc(d, fn)
	return true
}

// stopTimer assumes the lock is held.
func (r *Registry) stopTimer(tenantID string) {
	if t, ok := r.timers[tenantID]; ok {
		t.Stop()
		delete(r.timers, tenantID)
	}
}

// Drain stops every pending timer, bumps every generation, and removes all
// sessions, returning them for teardown. The registry accepts no new
// sessions afterwards.
func (r *Registry) Drain() []*Session {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.draining = true
	for tenantID := range r.timers {
		r.stopTimer(tenantID)
	}
	drained := make([]*Session, 0, len(r.sessions))
	for tenantID, s := range r.sessions {
		r.gens[tenantID]++
		drained = append(drained, s)
		delete(r.sessions, tenantID)
	}
	return drained
}

// Tenants returns the ids of all registered sessions.
func (r *Registry) Tenants() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]string, 0, len(r.sessions))
	for tenantID := range r.sessions {
		out = append(out, tenantID)
	}
	return out
}

// current assumes the lock is held.
func (r *Registry) current(tenantID string, gen uint64) (*Session, bool) {
	if r.gens[tenantID] != gen {
		return nil, false
	}
	s, ok := r.sessions[tenantID]
	return s, ok
}

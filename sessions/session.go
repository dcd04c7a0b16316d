// Package sessions implements the per-tenant connection supervisor: the
// session registry, the reconnect policy, the credential store, and the
// state machine that drives a tenant's connection through pairing,
// connect, disconnect classification, and scheduled restarts.
package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/vantagecrm/wabridge/wire"
)

// State is the lifecycle state of a tenant's session.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateAwaitingPairing
	StateConnected
	StateReconnecting
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAwaitingPairing:
		return "awaiting_pairing"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateLoggedOut:
		return "logged_out"
	default:
		return "not_started"
	}
}

// Session is one tenant's connection. Across a transient disconnect the
// session object is replaced, not mutated in place: the old handle is torn
// down and discarded so no stale listeners survive into the next attempt.
type Session struct {
	TenantID          string
	State             State
	PairingImage      []byte // PNG, present only while AwaitingPairing
	IdentityLabel     string
	ReconnectAttempts int
	LastCloseReason   string
	StartedAt         time.Time
	LastTransition    time.Time

	handle wire.Client // exclusively owned; nil until the dial completes
	dial   *dialGuard  // tracks the in-flight dial for this generation
}

// dialGuard makes an in-flight dial interruptible and waitable. The dial
// runs under ctx; finish is called once the dial phase has let go of the
// credential directory, whether it attached a handle or not. Teardown
// paths interrupt the guard before wiping the directory, so a cancelled
// dial can never flush a credential bundle into a directory a later
// generation owns.
type dialGuard struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newDialGuard() *dialGuard {
	ctx, cancel := context.WithCancel(context.Background())
	return &dialGuard{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// finish marks the dial phase complete. Idempotent.
func (g *dialGuard) finish() {
	g.once.Do(func() { close(g.done) })
}

// interrupt cancels the dial and blocks until it has finished.
func (g *dialGuard) interrupt() {
	g.cancel()
	<-g.done
}

// Snapshot is a copy of a session's observable state, safe to hold outside
// the registry lock.
type Snapshot struct {
	TenantID          string
	State             State
	IdentityLabel     string
	PairingImage      []byte
	ReconnectAttempts int
	LastCloseReason   string
	Generation        uint64
	HasHandle         bool
	StartedAt         time.Time
	LastTransition    time.Time
}

// Connected reports whether the snapshot shows a live, authenticated
// connection.
func (s Snapshot) Connected() bool {
	return s.State == StateConnected
}

func (s *Session) snapshot(gen uint64) Snapshot {
	return Snapshot{
		TenantID:          s.TenantID,
		State:             s.State,
		IdentityLabel:     s.IdentityLabel,
		PairingImage:      append([]byte(nil), s.PairingImage...),
		ReconnectAttempts: s.ReconnectAttempts,
		LastCloseReason:   s.LastCloseReason,
		Generation:        gen,
		HasHandle:         s.handle != nil,
		StartedAt:         s.StartedAt,
		LastTransition:    s.LastTransition,
	}
}

// interruptDial cancels any in-flight dial for this session and waits for
// it to release the credential directory. Must run before the directory is
// wiped or handed to a replacement generation. Instant once the dial phase
// has already finished.
func (s *Session) interruptDial() {
	if s == nil || s.dial == nil {
		return
	}
	s.dial.interrupt()
}

// logout asks the remote network to invalidate the pairing. Best effort;
// the teardown that follows does not depend on it succeeding.
func (s *Session) logout(ctx context.Context) {
	if s == nil || s.handle == nil {
		return
	}
	_ = s.handle.Logout(ctx)
}

// teardown fully detaches the session's handle: transport closed and
// listeners removed. Must complete before credentials are wiped or a
// replacement handle is created, so an old connection can never race a
// fresh one for the credential directory.
func (s *Session) teardown() {
	if s == nil || s.handle == nil {
		return
	}
	s.handle.Disconnect()
	s.handle.Close()
	s.handle = nil
}

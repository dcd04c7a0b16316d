package sessions

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/vantagecrm/wabridge/internal/errors"
	"github.com/vantagecrm/wabridge/wire"
)

// Status values reported to the backend on lifecycle changes.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"

	ReasonLoggedOut   = "logged_out"
	ReasonMaxAttempts = "max_attempts_exceeded"
)

// StatusNotifier receives session lifecycle notifications. Best effort;
// implementations must not block the supervisor for long.
type StatusNotifier interface {
	NotifyStatus(ctx context.Context, tenantID, status, reason string)
}

// InboundSink receives inbound message batches for relay to the backend.
type InboundSink interface {
	ForwardIncoming(ctx context.Context, tenantID string, batch []wire.Message)
}

// Manager supervises one connection per tenant: it dials, consumes the
// connection's event stream, classifies closes, and schedules restarts
// according to the reconnect policy. All session state lives in the
// Registry; the Manager holds no per-tenant state of its own.
type Manager struct {
	registry *Registry
	creds    *CredentialStore
	dialer   wire.Dialer
	policy   Policy
	notifier StatusNotifier
	inbound  InboundSink
}

func NewManager(registry *Registry, creds *CredentialStore, dialer wire.Dialer, policy Policy, notifier StatusNotifier, inbound InboundSink) *Manager {
	return &Manager{
		registry: registry,
		creds:    creds,
		dialer:   dialer,
		policy:   policy,
		notifier: notifier,
		inbound:  inbound,
	}
}

// Start brings up a session for the tenant. Idempotent: a tenant that
// already has a live session is left untouched and Start returns nil. The
// session guard is committed before any blocking work happens, so
// concurrent starts collapse to one connection.
func (m *Manager) Start(tenantID string) error {
	if tenantID == "" {
		return errors.ErrTenantRequired
	}
	gen, guard, ok := m.registry.Begin(tenantID)
	if !ok {
		if m.registry.Draining() {
			return errors.ErrDraining
		}
		log.Debug().Str("tenant", tenantID).Msg("start ignored, session already exists")
		return nil
	}
	go m.connect(tenantID, gen, 0, guard)
	return nil
}

// Reset tears the tenant's session down, wipes the credential bundle, and
// starts over from scratch. The next connection will require pairing.
func (m *Manager) Reset(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return errors.ErrTenantRequired
	}
	if s, ok := m.registry.Take(tenantID); ok {
		s.interruptDial()
		s.teardown()
	}
	if err := m.creds.Wipe(tenantID); err != nil {
		return err
	}
	log.Info().Str("tenant", tenantID).Msg("session reset")
	return m.Start(tenantID)
}

// Disconnect permanently stops the tenant's session: best-effort protocol
// logout, teardown, credential wipe, and no restart. Idempotent.
func (m *Manager) Disconnect(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return errors.ErrTenantRequired
	}
	if s, ok := m.registry.Take(tenantID); ok {
		s.interruptDial()
		s.logout(ctx)
		s.teardown()
	}
	if err := m.creds.Wipe(tenantID); err != nil {
		return err
	}
	log.Info().Str("tenant", tenantID).Msg("session disconnected")
	return nil
}

// Send delivers a text message through the tenant's connection. The
// session must be Connected; otherwise ErrNotConnected is returned without
// touching the network. Returns the provider receipt and elapsed time.
func (m *Manager) Send(ctx context.Context, tenantID, to, text string) (wire.SendReceipt, time.Duration, error) {
	if tenantID == "" {
		return wire.SendReceipt{}, 0, errors.ErrTenantRequired
	}
	handle, ok := m.registry.ConnectedHandle(tenantID)
	if !ok {
		return wire.SendReceipt{}, 0, errors.ErrNotConnected
	}
	started := time.Now()
	receipt, err := handle.SendText(ctx, to, text)
	elapsed := time.Since(started)
	if err != nil {
		return wire.SendReceipt{}, elapsed, errors.Wrapf(err, "send text for %s", tenantID)
	}
	return receipt, elapsed, nil
}

// SendTyping publishes a typing indicator. Requires a Connected session;
// failures of the indicator itself are ignored.
func (m *Manager) SendTyping(ctx context.Context, tenantID, to string, composing bool) error {
	if tenantID == "" {
		return errors.ErrTenantRequired
	}
	handle, ok := m.registry.ConnectedHandle(tenantID)
	if !ok {
		return errors.ErrNotConnected
	}
	if err := handle.SendComposing(to, composing); err != nil {
		log.Debug().Err(err).Str("tenant", tenantID).Msg("typing indicator failed")
	}
	return nil
}

// Snapshot returns the tenant's current session state.
func (m *Manager) Snapshot(tenantID string) (Snapshot, bool) {
	return m.registry.Snapshot(tenantID)
}

// HasCredentials reports whether the tenant has a credential directory.
func (m *Manager) HasCredentials(tenantID string) bool {
	return m.creds.Exists(tenantID)
}

// HasPairingFile reports whether a pairing image is pending on disk.
func (m *Manager) HasPairingFile(tenantID string) bool {
	return m.creds.HasPairingFile(tenantID)
}

// DiagnosticsReport is the full observable picture of one tenant, for the
// diagnostics endpoint.
type DiagnosticsReport struct {
	TenantID     string `json:"tenantId"`
	SessionState string `json:"sessionState"`
	Connected    bool   `json:"connected"`
	// SessionRegistered reports a live registry entry; the status
	// endpoint's hasSession reports the durable credential bundle, which
	// HasCredentials mirrors here.
	SessionRegistered bool      `json:"sessionRegistered"`
	HasHandle         bool      `json:"hasHandle"`
	HasPairingCode    bool      `json:"hasPairingCode"`
	HasCredentials    bool      `json:"hasCredentials"`
	IdentityLabel     string    `json:"identityLabel"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastCloseReason   string    `json:"lastCloseReason"`
	Generation        uint64    `json:"generation"`
	StartedAt         time.Time `json:"startedAt"`
	LastTransition    time.Time `json:"lastTransition"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	DroppedWebhooks   int64     `json:"droppedWebhooks"`
}

// Diagnostics assembles the report from registry and credential state.
// Always succeeds; a tenant without a session still gets a report showing
// what is on disk.
func (m *Manager) Diagnostics(tenantID string) DiagnosticsReport {
	snap, registered := m.registry.Snapshot(tenantID)
	report := DiagnosticsReport{
		TenantID:          tenantID,
		SessionState:      snap.State.String(),
		Connected:         snap.Connected(),
		SessionRegistered: registered,
		HasHandle:         snap.HasHandle,
		HasPairingCode:    len(snap.PairingImage) > 0,
		HasCredentials:    m.creds.Exists(tenantID),
		IdentityLabel:     snap.IdentityLabel,
		ReconnectAttempts: snap.ReconnectAttempts,
		LastCloseReason:   snap.LastCloseReason,
		Generation:        snap.Generation,
		StartedAt:         snap.StartedAt,
		LastTransition:    snap.LastTransition,
	}
	if registered {
		report.UptimeSeconds = time.Since(snap.StartedAt).Seconds()
	}
	if counter, ok := m.inbound.(interface{ Dropped() int64 }); ok {
		report.DroppedWebhooks = counter.Dropped()
	}
	return report
}

// Resume starts a session for every tenant that already has a credential
// directory. Called once at process start.
func (m *Manager) Resume() error {
	tenants, err := m.creds.Tenants()
	if err != nil {
		return err
	}
	for _, tenantID := range tenants {
		if err := m.Start(tenantID); err != nil {
			log.Error().Err(err).Str("tenant", tenantID).Msg("resume failed")
		}
	}
	if len(tenants) > 0 {
		log.Info().Int("tenants", len(tenants)).Msg("resumed stored sessions")
	}
	return nil
}

// Drain stops all sessions for shutdown: pending restarts are cancelled,
// handles are torn down. Credentials are kept so the sessions resume on
// the next boot.
func (m *Manager) Drain(ctx context.Context) {
	drained := m.registry.Drain()
	for _, s := range drained {
		s.interruptDial()
		s.teardown()
	}
	if len(drained) > 0 {
		log.Info().Int("sessions", len(drained)).Msg("sessions drained")
	}
}

// connect runs one connection attempt for the given generation. It owns
// the session until the connection closes or the generation goes stale.
func (m *Manager) connect(tenantID string, gen uint64, attempts int, guard *dialGuard) {
	logger := log.With().Str("tenant", tenantID).Uint64("generation", gen).Logger()

	handle, err := m.dialAndAttach(tenantID, gen, guard)
	if err != nil {
		logger.Error().Err(err).Msg("dial failed")
		m.closed(tenantID, gen, wire.CloseTransient, err.Error())
		return
	}
	if handle == nil {
		// Superseded while dialing. The replacement owns the directory now.
		logger.Debug().Msg("connection attempt superseded")
		return
	}

	if err := handle.Connect(); err != nil {
		logger.Error().Err(err).Msg("connect failed")
		m.closed(tenantID, gen, wire.CloseTransient, err.Error())
		return
	}
	logger.Debug().Int("attempts", attempts).Msg("connection started")

	m.consume(tenantID, gen, handle)
}

// dialAndAttach runs the dial phase under the session's dial guard. The
// guard is finished on every exit, after any discarded handle has been
// closed, so a teardown waiting to wipe the credential directory knows no
// dial still has its hands on it. A (nil, nil) return means the
// generation went stale mid-dial.
func (m *Manager) dialAndAttach(tenantID string, gen uint64, guard *dialGuard) (wire.Client, error) {
	defer guard.finish()

	dir, err := m.creds.Ensure(tenantID)
	if err != nil {
		return nil, err
	}
	handle, err := m.dialer.Dial(guard.ctx, dir)
	if err != nil {
		return nil, err
	}
	if !m.registry.Attach(tenantID, gen, handle) {
		handle.Close()
		return nil, nil
	}
	return handle, nil
}

// consume drives the session state machine off the connection's event
// stream. One goroutine per live connection; exits when the stream closes.
func (m *Manager) consume(tenantID string, gen uint64, handle wire.Client) {
	for evt := range handle.Events() {
		switch e := evt.(type) {
		case wire.PairingCode:
			m.pairing(tenantID, gen, e.Code)
		case wire.Opened:
			m.opened(tenantID, gen, e.Identity)
		case wire.Messages:
			m.inbound.ForwardIncoming(context.Background(), tenantID, e.Batch)
		case wire.Closed:
			m.closed(tenantID, gen, e.Reason, e.Detail)
			return
		}
	}
}

func (m *Manager) pairing(tenantID string, gen uint64, code string) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("pairing code render failed")
		return
	}
	if !m.registry.MarkPairing(tenantID, gen, png) {
		return
	}
	if err := m.creds.WritePairingFile(tenantID, png); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("pairing file write failed")
	}
	log.Info().Str("tenant", tenantID).Msg("awaiting pairing")
}

func (m *Manager) opened(tenantID string, gen uint64, identity wire.Identity) {
	label := identity.Label
	if label == "" {
		label = identity.ID
	}
	if !m.registry.MarkConnected(tenantID, gen, label) {
		return
	}
	if err := m.creds.ClearPairingFile(tenantID); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).Msg("pairing file cleanup failed")
	}
	log.Info().Str("tenant", tenantID).Str("identity", label).Msg("session connected")
	m.notifier.NotifyStatus(context.Background(), tenantID, StatusConnected, "")
}

// closed classifies the end of a connection and decides what happens next:
// wipe and re-pair on logout, quick restart when the network asked for
// one, exponential backoff for everything else, give up past the attempt
// budget. A stale generation makes every branch a no-op.
func (m *Manager) closed(tenantID string, gen uint64, reason wire.CloseReason, detail string) {
	logger := log.With().Str("tenant", tenantID).Str("reason", reason.String()).Logger()

	switch reason {
	case wire.CloseLoggedOut:
		// Surface the terminal state, then evict.
		if !m.registry.MarkLoggedOut(tenantID, gen) {
			return
		}
		s, ok := m.registry.Remove(tenantID, gen)
		if !ok {
			return
		}
		s.teardown()
		if err := m.creds.Wipe(tenantID); err != nil {
			logger.Error().Err(err).Msg("credential wipe failed")
		}
		logger.Warn().Str("detail", detail).Msg("logged out, credentials wiped")
		m.notifier.NotifyStatus(context.Background(), tenantID, StatusDisconnected, ReasonLoggedOut)
		// Fresh start so the tenant can pair again right away.
		if err := m.Start(tenantID); err != nil {
			logger.Error().Err(err).Msg("restart after logout failed")
		}

	case wire.CloseRestartRequired:
		if !m.registry.MarkRestarting(tenantID, gen, detail) {
			return
		}
		snap, _ := m.registry.Snapshot(tenantID)
		logger.Info().Msg("restart requested by network")
		m.schedule(tenantID, gen, m.policy.RestartDelay, snap.ReconnectAttempts)

	default:
		attempts, ok := m.registry.MarkReconnecting(tenantID, gen, detail)
		if !ok {
			return
		}
		if m.policy.Exhausted(attempts) {
			s, ok := m.registry.Remove(tenantID, gen)
			if !ok {
				return
			}
			s.teardown()
			logger.Error().Int("attempts", attempts).Msg("reconnect attempts exhausted")
			m.notifier.NotifyStatus(context.Background(), tenantID, StatusDisconnected, ReasonMaxAttempts)
			return
		}
		delay := m.policy.Delay(attempts)
		logger.Info().Int("attempts", attempts).Dur("delay", delay).Str("detail", detail).Msg("reconnecting")
		m.schedule(tenantID, gen, delay, attempts)
	}
}

// schedule arms the restart timer. At fire time the session is superseded
// under the registry lock; if a reset, disconnect, or drain got there
// first the timer finds its generation stale and does nothing.
func (m *Manager) schedule(tenantID string, gen uint64, delay time.Duration, attempts int) {
	armed := m.registry.Schedule(tenantID, gen, delay, func() {
		old, newGen, guard, ok := m.registry.Supersede(tenantID, gen, attempts)
		if !ok {
			return
		}
		old.interruptDial()
		old.teardown()
		m.connect(tenantID, newGen, attempts, guard)
	})
	if !armed {
		log.Debug().Str("tenant", tenantID).Uint64("generation", gen).Msg("restart not scheduled, generation stale")
	}
}

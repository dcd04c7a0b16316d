// Package wire defines the capability interface over the underlying
// messaging-protocol client. The supervisor in the sessions package is
// written entirely against these types; the production implementation lives
// in wire/wameow and a scripted fake in wire/wiretest.
package wire

import (
	"context"
	"time"
)

// Identity describes the account a connection is paired to.
type Identity struct {
	ID    string `json:"id"`    // account address on the network
	Label string `json:"label"` // display name, if the network provides one
}

// SendReceipt is the provider's acknowledgement of an outbound message.
type SendReceipt struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is one inbound protocol message, normalized for relay.
type Message struct {
	ID        string    `json:"id"`
	Chat      string    `json:"chat"`
	Sender    string    `json:"sender"`
	PushName  string    `json:"pushName,omitempty"`
	Text      string    `json:"text"`
	FromSelf  bool      `json:"fromSelf"`
	Timestamp time.Time `json:"timestamp"`
}

// CloseReason classifies why a connection ended. LoggedOut is the only
// reason that means the remote party invalidated our credentials; every
// other close is assumed recoverable with the same credential bundle.
type CloseReason int

const (
	CloseTransient CloseReason = iota
	CloseRestartRequired
	CloseLoggedOut
)

func (r CloseReason) String() string {
	switch r {
	case CloseRestartRequired:
		return "restart_required"
	case CloseLoggedOut:
		return "logged_out"
	default:
		return "transient"
	}
}

// Event is a connection lifecycle or traffic event pushed by a Client.
type Event interface {
	event()
}

// PairingCode is emitted while the connection is unauthenticated and the
// network is offering a pairing code to scan.
type PairingCode struct {
	Code string
}

// Opened is emitted once the connection is authenticated and live.
type Opened struct {
	Identity Identity
}

// Messages carries a batch of inbound messages.
type Messages struct {
	Batch []Message
}

// Closed is the final event on a connection; the event channel is closed
// immediately after it is delivered.
type Closed struct {
	Reason CloseReason
	Detail string
}

func (PairingCode) event() {}
func (Opened) event()      {}
func (Messages) event()    {}
func (Closed) event()      {}

// Client is one live (or connecting) protocol connection. A Client is
// exclusively owned by a single session; Close must fully detach it
// (listeners removed, transport closed) before the owner discards it.
type Client interface {
	// Connect initiates the handshake. Events, including the eventual
	// Closed, arrive on Events.
	Connect() error

	// Disconnect tears the transport down without touching credentials.
	Disconnect()

	// Logout invalidates the pairing with the remote network. Best effort.
	Logout(ctx context.Context) error

	SendText(ctx context.Context, to, text string) (SendReceipt, error)

	// SendComposing publishes a typing indicator. Fire and forget.
	SendComposing(to string, composing bool) error

	// Events returns the connection's event stream. The channel is closed
	// after a Closed event, or when the Client itself is closed.
	Events() <-chan Event

	// Close releases all resources held by the handle. Safe to call more
	// than once and after the connection already closed.
	Close()
}

// Dialer opens a Client backed by the credential bundle stored under
// storageDir, creating the bundle if the directory is empty.
type Dialer interface {
	Dial(ctx context.Context, storageDir string) (Client, error)
}

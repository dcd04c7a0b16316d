// Package wiretest provides scripted fakes for the wire interfaces, used by
// the sessions and server tests to drive connection events without a real
// network.
package wiretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/vantagecrm/wabridge/wire"
)

var _ wire.Dialer = (*FakeDialer)(nil)

// FakeDialer hands out a fresh FakeClient on every Dial and remembers each
// one so tests can emit events on the client a reconnect attempt produced.
type FakeDialer struct {
	lock    sync.Mutex
	clients []*FakeClient

	// DialErr, when set, makes every Dial fail.
	DialErr error
	// ConnectErr, when set, is copied onto each new client.
	ConnectErr error
	// Hook, when set, runs inside Dial before a client is produced, with
	// the dial's context and storage directory. Returning an error fails
	// the dial. Lets tests park a dial mid-flight or fail it selectively.
	Hook func(ctx context.Context, storageDir string) error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

func (d *FakeDialer) Dial(ctx context.Context, storageDir string) (wire.Client, error) {
	d.lock.Lock()
	hook := d.Hook
	d.lock.Unlock()
	if hook != nil {
		if err := hook(ctx, storageDir); err != nil {
			return nil, err
		}
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := NewFakeClient(storageDir)
	c.ConnectErr = d.ConnectErr
	d.clients = append(d.clients, c)
	return c, nil
}

// DialCount returns how many times Dial has been called.
func (d *FakeDialer) DialCount() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.clients)
}

// Client returns the i-th client handed out, zero based.
func (d *FakeDialer) Client(i int) *FakeClient {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.clients[i]
}

// Latest returns the most recently dialed client, or nil.
func (d *FakeDialer) Latest() *FakeClient {
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}

var _ wire.Client = (*FakeClient)(nil)

type SentText struct {
	To   string
	Text string
}

type FakeClient struct {
	StorageDir string
	ConnectErr error
	SendErr    error

	lock       sync.Mutex
	events     chan wire.Event
	done       bool
	closed     bool
	connected  bool
	loggedOut  bool
	sent       []SentText
	composing  []string
	receiptSeq int
}

func NewFakeClient(storageDir string) *FakeClient {
	return &FakeClient{
		StorageDir: storageDir,
		events:     make(chan wire.Event, 16),
	}
}

func (c *FakeClient) Connect() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.connected = true
	return nil
}

func (c *FakeClient) Disconnect() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = false
}

func (c *FakeClient) Logout(context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.loggedOut = true
	return nil
}

func (c *FakeClient) SendText(_ context.Context, to, text string) (wire.SendReceipt, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.SendErr != nil {
		return wire.SendReceipt{}, c.SendErr
	}
	c.sent = append(c.sent, SentText{To: to, Text: text})
	c.receiptSeq++
	return wire.SendReceipt{MessageID: fmt.Sprintf("fake-%d", c.receiptSeq)}, nil
}

func (c *FakeClient) SendComposing(to string, composing bool) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if composing {
		c.composing = append(c.composing, to)
	}
	return nil
}

func (c *FakeClient) Events() <-chan wire.Event {
	return c.events
}

func (c *FakeClient) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	c.connected = false
	if !c.done {
		c.done = true
		close(c.events)
	}
}

// EmitPairing pushes a pairing-code event.
func (c *FakeClient) EmitPairing(code string) {
	c.emit(wire.PairingCode{Code: code})
}

// EmitOpen pushes a connection-open event.
func (c *FakeClient) EmitOpen(id wire.Identity) {
	c.emit(wire.Opened{Identity: id})
}

// EmitMessages pushes a batch of inbound messages.
func (c *FakeClient) EmitMessages(batch ...wire.Message) {
	c.emit(wire.Messages{Batch: batch})
}

// EmitClose pushes the final Closed event and closes the stream, mirroring
// how a real connection ends.
func (c *FakeClient) EmitClose(reason wire.CloseReason) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.connected = false
	c.events <- wire.Closed{Reason: reason}
	close(c.events)
}

func (c *FakeClient) emit(ev wire.Event) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.done {
		return
	}
	c.events <- ev
}

// Sent returns a copy of every text sent through this client.
func (c *FakeClient) Sent() []SentText {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]SentText(nil), c.sent...)
}

// Connected reports whether the client believes it is connected.
func (c *FakeClient) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connected
}

// Closed reports whether Close was called.
func (c *FakeClient) Closed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.closed
}

// LoggedOut reports whether Logout was called.
func (c *FakeClient) LoggedOut() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.loggedOut
}

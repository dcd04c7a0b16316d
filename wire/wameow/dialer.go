// Package wameow adapts go.mau.fi/whatsmeow to the wire interfaces. Each
// tenant gets its own sqlite-backed credential store inside its credential
// directory, so wiping the directory is a full re-pair.
package wameow

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/vantagecrm/wabridge/wire"
)

const storeFileName = "session.db"

var _ wire.Dialer = (*Dialer)(nil)

// Dialer opens whatsmeow clients backed by a per-directory sqlite store.
type Dialer struct {
	// ConnectTimeout bounds opening and migrating the credential store.
	ConnectTimeout time.Duration
}

func (d *Dialer) Dial(ctx context.Context, storageDir string) (wire.Client, error) {
	if d.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.ConnectTimeout)
		defer cancel()
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(storageDir, storeFileName))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", waLog.Noop)
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate credential store: %w", err)
	}

	// Returns a fresh, unpaired device when the store is empty, which is
	// what triggers the pairing-code flow on Connect.
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	cli := whatsmeow.NewClient(device, waLog.Noop)
	// The supervisor owns reconnection; the library must not race it.
	cli.EnableAutoReconnect = false

	c := &Client{
		cli:          cli,
		db:           db,
		events:       make(chan wire.Event, 64),
		rotate:       make(chan struct{}),
		firstCodeTTL: qrFirstCodeTTL,
		codeTTL:      qrCodeTTL,
	}
	c.handlerID = cli.AddEventHandler(c.handleEvent)
	return c, nil
}

var _ wire.Client = (*Client)(nil)

// Pairing codes expire server-side; the network grants the first code a
// longer window than the rotated ones.
const (
	qrFirstCodeTTL = 60 * time.Second
	qrCodeTTL      = 20 * time.Second
)

// Client wraps one whatsmeow connection and its private store handle.
type Client struct {
	cli       *whatsmeow.Client
	db        *sql.DB
	handlerID uint32

	firstCodeTTL time.Duration
	codeTTL      time.Duration

	lock    sync.Mutex
	events  chan wire.Event
	rotate  chan struct{}
	rotated bool
	done    bool
	closed  bool
}

func (c *Client) Connect() error {
	return c.cli.Connect()
}

func (c *Client) Disconnect() {
	c.cli.Disconnect()
}

func (c *Client) Logout(ctx context.Context) error {
	return c.cli.Logout(ctx)
}

func (c *Client) SendText(ctx context.Context, to, text string) (wire.SendReceipt, error) {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return wire.SendReceipt{}, fmt.Errorf("parse recipient %q: %w", to, err)
	}
	resp, err := c.cli.SendMessage(ctx, jid, textMessage(text))
	if err != nil {
		return wire.SendReceipt{}, fmt.Errorf("send message: %w", err)
	}
	return wire.SendReceipt{MessageID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

func (c *Client) SendComposing(to string, composing bool) error {
	jid, err := waTypes.ParseJID(to)
	if err != nil {
		return fmt.Errorf("parse recipient %q: %w", to, err)
	}
	state := waTypes.ChatPresenceComposing
	if !composing {
		state = waTypes.ChatPresencePaused
	}
	return c.cli.SendChatPresence(context.Background(), jid, state, waTypes.ChatPresenceMediaText)
}

func (c *Client) Events() <-chan wire.Event {
	return c.events
}

func (c *Client) Close() {
	c.lock.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.lock.Unlock()
	if alreadyClosed {
		return
	}
	c.cli.RemoveEventHandler(c.handlerID)
	c.cli.Disconnect()
	_ = c.db.Close()
	c.finish(wire.CloseTransient, "handle closed")
}

func (c *Client) identity() wire.Identity {
	id := wire.Identity{}
	if c.cli.Store == nil {
		return id
	}
	if jid := c.cli.Store.GetJID(); !jid.IsEmpty() {
		id.ID = jid.String()
	}
	id.Label = c.cli.Store.PushName
	return id
}

// emit delivers a non-final event without ever blocking whatsmeow's
// dispatcher goroutine; if the consumer has fallen 64 events behind, the
// event is dropped.
func (c *Client) emit(ev wire.Event) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.done {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

// stopRotation halts pairing-code rotation; called once the connection is
// authenticated or the stream ends.
func (c *Client) stopRotation() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stopRotationLocked()
}

func (c *Client) stopRotationLocked() {
	if c.rotate != nil && !c.rotated {
		c.rotated = true
		close(c.rotate)
	}
}

// finish delivers the final Closed event and shuts the stream. Only the
// first close reason wins.
func (c *Client) finish(reason wire.CloseReason, detail string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.stopRotationLocked()
	select {
	case c.events <- wire.Closed{Reason: reason, Detail: detail}:
	default:
	}
	close(c.events)
}

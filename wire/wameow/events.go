package wameow

import (
	"fmt"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/vantagecrm/wabridge/wire"
)

// handleEvent translates whatsmeow's push events into wire events. Close
// classification: LoggedOut is the only credential-invalidating reason;
// StreamReplaced is the network cooperatively asking this connection to
// reconnect; everything else is treated as transient.
func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		if len(e.Codes) > 0 {
			c.emit(wire.PairingCode{Code: e.Codes[0]})
			if len(e.Codes) > 1 {
				go c.rotatePairingCodes(e.Codes[1:])
			}
		}
	case *events.Connected:
		c.stopRotation()
		c.emit(wire.Opened{Identity: c.identity()})
	case *events.Message:
		c.emit(wire.Messages{Batch: []wire.Message{translateMessage(e)}})
	case *events.LoggedOut:
		c.finish(wire.CloseLoggedOut, fmt.Sprintf("logged out: %v", e.Reason))
	case *events.StreamReplaced:
		c.finish(wire.CloseRestartRequired, "stream replaced")
	case *events.StreamError:
		c.finish(wire.CloseTransient, "stream error "+e.Code)
	case *events.ConnectFailure:
		c.finish(wire.CloseTransient, fmt.Sprintf("connect failure: %v", e.Reason))
	case *events.TemporaryBan:
		c.finish(wire.CloseTransient, fmt.Sprintf("temporary ban: %v", e.Code))
	case *events.Disconnected:
		c.finish(wire.CloseTransient, "connection closed")
	}
}

// rotatePairingCodes emits the remaining codes from a QR event as their
// predecessors expire, so the exposed pairing image stays scannable
// instead of going stale after the first code's window. Stops as soon as
// the connection authenticates or closes.
func (c *Client) rotatePairingCodes(codes []string) {
	delay := c.firstCodeTTL
	for _, code := range codes {
		select {
		case <-time.After(delay):
		case <-c.rotate:
			return
		}
		c.emit(wire.PairingCode{Code: code})
		delay = c.codeTTL
	}
}

func translateMessage(e *events.Message) wire.Message {
	return wire.Message{
		ID:        string(e.Info.ID),
		Chat:      e.Info.Chat.String(),
		Sender:    e.Info.Sender.String(),
		PushName:  e.Info.PushName,
		Text:      textContent(e.Message),
		FromSelf:  e.Info.IsFromMe,
		Timestamp: e.Info.Timestamp,
	}
}

func textContent(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	return msg.GetExtendedTextMessage().GetText()
}

func textMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

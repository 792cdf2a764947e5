package session

import (
	"time"

	"collab-sync/pkg/protocol"
)

// Client represents one connected participant in a document session. The
// identity fields come from the session layer's caller (the core trusts
// what it is given); Send is drained by the connection's write pump.
type Client struct {
	SessionID string // per-connection id, distinct from UserID
	UserID    string
	Name      string
	Color     string
	Send      chan []byte

	// Presence state, guarded by the owning session's mutex.
	cursor       *protocol.Cursor
	selection    *protocol.Selection
	lastActiveAt time.Time
}

func (c *Client) presence() protocol.Presence {
	return protocol.Presence{
		UserID:       c.UserID,
		Name:         c.Name,
		Color:        c.Color,
		Cursor:       c.cursor,
		Selection:    c.selection,
		LastActiveAt: c.lastActiveAt,
	}
}

// deliver enqueues data for the client, dropping the message if the client
// is too slow to keep up.
func (c *Client) deliver(data []byte) {
	select {
	case c.Send <- data:
	default:
		// drop on slow client
	}
}

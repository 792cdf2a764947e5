// Package protocol defines the wire contract for a document's shared
// session: joining, submitting operations, acknowledgements, presence and
// cursor traffic, and explicit saves. All messages are JSON with a "type"
// discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"collab-sync/pkg/ot"
	"collab-sync/pkg/sequencer"
)

// Message types. Client-to-server: join, operation, cursor, save, leave,
// ping. Server-to-client: snapshot, operation, ack, error, presence,
// user_left, cursor, saved, pong.
const (
	TypeJoin      = "join"
	TypeSnapshot  = "snapshot"
	TypeOperation = "operation"
	TypeAck       = "ack"
	TypeError     = "error"
	TypeCursor    = "cursor"
	TypePresence  = "presence"
	TypeUserLeft  = "user_left"
	TypeSave      = "save"
	TypeSaved     = "saved"
	TypeLeave     = "leave"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Error codes carried by Error messages.
const (
	CodeStaleBeyondHistory = "stale_beyond_history"
	CodeFutureVersion      = "future_version"
	CodeApplyFailure       = "apply_failure"
	CodePersistenceFailure = "persistence_failure"
	CodeBadMessage         = "bad_message"
)

// Cursor is a caret position in line/column coordinates.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a range between two absolute offsets; Anchor is where the
// selection started, Head where it currently ends.
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Presence describes one connected participant as broadcast to peers.
// Presence is never persisted.
type Presence struct {
	UserID       string     `json:"userId"`
	Name         string     `json:"name"`
	Color        string     `json:"color"`
	Cursor       *Cursor    `json:"cursor,omitempty"`
	Selection    *Selection `json:"selection,omitempty"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
}

// Join is the first message a client sends after connecting.
type Join struct {
	Type       string `json:"type"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Name       string `json:"name"`
	Color      string `json:"color"`
}

// Snapshot carries the authoritative document state and roster back to a
// joiner, and is never broadcast.
type Snapshot struct {
	Type       string     `json:"type"`
	DocumentID string     `json:"documentId"`
	Content    string     `json:"content"`
	Version    int        `json:"version"`
	Peers      []Presence `json:"peers"`
}

// Operation wraps a DocumentOperation, both for client submission and for
// the canonical broadcast to peers.
type Operation struct {
	Type      string               `json:"type"`
	Operation ot.DocumentOperation `json:"operation"`
}

// Ack confirms acceptance of a locally submitted operation to its author.
type Ack struct {
	Type    string `json:"type"`
	OpID    string `json:"opId"`
	Version int    `json:"version"`
}

// Error is unicast to the client whose request failed.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	OpID    string `json:"opId,omitempty"`
	Message string `json:"message"`
}

// CursorUpdate carries a participant's cursor and selection. Broadcast to
// other participants only, best-effort, unordered relative to operations.
type CursorUpdate struct {
	Type      string     `json:"type"`
	UserID    string     `json:"userId,omitempty"`
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// PresenceUpdate announces a new or updated participant to peers.
type PresenceUpdate struct {
	Type     string   `json:"type"`
	Presence Presence `json:"presence"`
}

// UserLeft announces a departed participant to peers.
type UserLeft struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Save is an explicit, out-of-band persistence request. The caller is
// expected to already hold the latest version; it bypasses the transform
// path.
type Save struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Version int    `json:"version"`
}

// Saved reports the outcome of an explicit save to its caller only.
type Saved struct {
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Version int    `json:"version"`
	Message string `json:"message,omitempty"`
}

type envelope struct {
	Type string `json:"type"`
}

// MessageType extracts the type discriminator from a raw message.
func MessageType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", errors.New("message has no type")
	}
	return env.Type, nil
}

// ErrorCode maps a sequencer rejection to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, sequencer.ErrStaleBeyondHistory):
		return CodeStaleBeyondHistory
	case errors.Is(err, sequencer.ErrFutureVersion):
		return CodeFutureVersion
	case errors.Is(err, sequencer.ErrApplyFailure):
		return CodeApplyFailure
	default:
		return CodeApplyFailure
	}
}

// Marshal encodes m, dropping the error; the message structs here cannot
// fail to marshal.
func Marshal(m interface{}) []byte {
	data, _ := json.Marshal(m)
	return data
}

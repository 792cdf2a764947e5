package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-sync/pkg/db"
	"collab-sync/pkg/ot"
	"collab-sync/pkg/protocol"
)

type mockStore struct {
	mu       sync.Mutex
	docs     map[string]*db.Document
	saves    []savedState
	saveErr  error
	saveGate chan struct{} // when set, SaveState blocks until it is closed
}

type savedState struct {
	id      string
	content string
	version int
}

func newMockStore() *mockStore {
	return &mockStore{docs: make(map[string]*db.Document)}
}

func (m *mockStore) GetDocument(id string) (*db.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, db.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (m *mockStore) SaveState(id string, content string, version int) error {
	m.mu.Lock()
	gate, err := m.saveGate, m.saveErr
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.saves = append(m.saves, savedState{id, content, version})
	m.mu.Unlock()
	return nil
}

func (m *mockStore) savedStates() []savedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]savedState(nil), m.saves...)
}

func newTestClient(userID string) *Client {
	return &Client{
		SessionID: "conn-" + userID,
		UserID:    userID,
		Name:      userID,
		Color:     "#123456",
		Send:      make(chan []byte, 32),
	}
}

// recv decodes the next message from the client's send queue, requiring it
// to have the given type.
func recv(t *testing.T, c *Client, wantType string) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &msg))
		require.Equal(t, wantType, msg["type"], "unexpected message: %s", data)
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no %s message received", wantType)
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message: %s", data)
	default:
	}
}

func TestJoinDeliversSnapshotAndRoster(t *testing.T) {
	store := newMockStore()
	store.docs["doc-1"] = &db.Document{ID: "doc-1", Content: "hello", Version: 3}
	m := NewManager(store, zerolog.Nop())

	c1 := newTestClient("u1")
	_, err := m.Join("doc-1", c1)
	require.NoError(t, err)

	snap := recv(t, c1, protocol.TypeSnapshot)
	assert.Equal(t, "hello", snap["content"])
	assert.Equal(t, float64(3), snap["version"])
	assert.Len(t, snap["peers"], 1)
}

func TestJoinUnknownDocumentStartsEmpty(t *testing.T) {
	m := NewManager(newMockStore(), zerolog.Nop())

	c1 := newTestClient("u1")
	_, err := m.Join("doc-x", c1)
	require.NoError(t, err)

	snap := recv(t, c1, protocol.TypeSnapshot)
	assert.Equal(t, "", snap["content"])
	assert.Equal(t, float64(0), snap["version"])
}

func TestJoinAnnouncesPresenceToPeers(t *testing.T) {
	m := NewManager(newMockStore(), zerolog.Nop())

	c1 := newTestClient("u1")
	s, err := m.Join("doc-1", c1)
	require.NoError(t, err)
	recv(t, c1, protocol.TypeSnapshot)

	c2 := newTestClient("u2")
	_, err = m.Join("doc-1", c2)
	require.NoError(t, err)

	joined := recv(t, c1, protocol.TypePresence)
	presence := joined["presence"].(map[string]interface{})
	assert.Equal(t, "u2", presence["userId"])

	snap := recv(t, c2, protocol.TypeSnapshot)
	assert.Len(t, snap["peers"], 2)
	assert.Len(t, s.Roster(), 2)
}

func TestSubmitAcksAuthorAndBroadcastsCanonical(t *testing.T) {
	store := newMockStore()
	store.docs["doc-1"] = &db.Document{ID: "doc-1", Content: "abc", Version: 3}
	m := NewManager(store, zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)
	c2 := newTestClient("u2")
	m.Join("doc-1", c2)
	recv(t, c1, protocol.TypePresence)
	recv(t, c2, protocol.TypeSnapshot)

	s.Submit(c1, ot.DocumentOperation{
		ID:          "op-1",
		BaseVersion: 3,
		Ops:         []ot.TextOperation{{Kind: ot.Insert, Position: 1, Text: "X"}},
	})

	ack := recv(t, c1, protocol.TypeAck)
	assert.Equal(t, "op-1", ack["opId"])
	assert.Equal(t, float64(4), ack["version"])
	assertSilent(t, c1)

	bcast := recv(t, c2, protocol.TypeOperation)
	op := bcast["operation"].(map[string]interface{})
	assert.Equal(t, "op-1", op["id"])
	assert.Equal(t, "u1", op["authorId"])
	assert.Equal(t, float64(4), op["version"])

	content, version := s.Snapshot()
	assert.Equal(t, "aXbc", content)
	assert.Equal(t, 4, version)
}

func TestSubmitRejectionOnlyReachesAuthor(t *testing.T) {
	m := NewManager(newMockStore(), zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)
	c2 := newTestClient("u2")
	m.Join("doc-1", c2)
	recv(t, c1, protocol.TypePresence)
	recv(t, c2, protocol.TypeSnapshot)

	s.Submit(c1, ot.DocumentOperation{
		ID:          "op-1",
		BaseVersion: 99,
		Ops:         []ot.TextOperation{{Kind: ot.Insert, Position: 0, Text: "X"}},
	})

	errMsg := recv(t, c1, protocol.TypeError)
	assert.Equal(t, protocol.CodeFutureVersion, errMsg["code"])
	assert.Equal(t, "op-1", errMsg["opId"])
	assertSilent(t, c2)

	content, version := s.Snapshot()
	assert.Equal(t, "", content)
	assert.Equal(t, 0, version)
}

func TestCursorUpdateNotEchoed(t *testing.T) {
	m := NewManager(newMockStore(), zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)
	c2 := newTestClient("u2")
	m.Join("doc-1", c2)
	recv(t, c1, protocol.TypePresence)
	recv(t, c2, protocol.TypeSnapshot)

	s.UpdateCursor(c1, protocol.CursorUpdate{
		Cursor:    &protocol.Cursor{Line: 2, Column: 7},
		Selection: &protocol.Selection{Anchor: 10, Head: 14},
	})

	upd := recv(t, c2, protocol.TypeCursor)
	assert.Equal(t, "u1", upd["userId"])
	cursor := upd["cursor"].(map[string]interface{})
	assert.Equal(t, float64(2), cursor["line"])
	assertSilent(t, c1)

	// The roster reflects the new cursor for late joiners.
	roster := s.Roster()
	require.Len(t, roster, 2)
	for _, p := range roster {
		if p.UserID == "u1" {
			require.NotNil(t, p.Cursor)
			assert.Equal(t, 7, p.Cursor.Column)
		}
	}
}

func TestLastLeaverFlushesAndRetires(t *testing.T) {
	store := newMockStore()
	store.docs["doc-1"] = &db.Document{ID: "doc-1", Content: "abc", Version: 0}
	m := NewManager(store, zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)

	s.Submit(c1, ot.DocumentOperation{
		ID:          "op-1",
		BaseVersion: 0,
		Ops:         []ot.TextOperation{{Kind: ot.Insert, Position: 3, Text: "!"}},
	})
	recv(t, c1, protocol.TypeAck)

	m.Leave(s, c1)

	require.Eventually(t, func() bool {
		saves := store.savedStates()
		return len(saves) == 1 && saves[0] == savedState{"doc-1", "abc!", 1}
	}, time.Second, 10*time.Millisecond)

	// The session is retired only once the flush has landed.
	require.Eventually(t, func() bool {
		return m.Peek("doc-1") == nil
	}, time.Second, 10*time.Millisecond)

	// A later join gets a fresh session hydrated from the store.
	store.mu.Lock()
	store.docs["doc-1"].Content, store.docs["doc-1"].Version = "abc!", 1
	store.mu.Unlock()

	c2 := newTestClient("u2")
	_, err := m.Join("doc-1", c2)
	require.NoError(t, err)
	snap := recv(t, c2, protocol.TypeSnapshot)
	assert.Equal(t, "abc!", snap["content"])
	assert.Equal(t, float64(1), snap["version"])
}

// A join that arrives while the last leaver's flush is still in flight must
// attach to the live session rather than hydrate a stale row from the
// store, otherwise acknowledged edits would vanish for the rejoiner and the
// late flush would overwrite them.
func TestRejoinDuringFlushSeesAcknowledgedEdits(t *testing.T) {
	store := newMockStore()
	store.docs["doc-1"] = &db.Document{ID: "doc-1", Content: "abc", Version: 0}
	gate := make(chan struct{})
	store.saveGate = gate
	m := NewManager(store, zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)

	s.Submit(c1, ot.DocumentOperation{
		ID:          "op-1",
		BaseVersion: 0,
		Ops:         []ot.TextOperation{{Kind: ot.Insert, Position: 3, Text: "!"}},
	})
	recv(t, c1, protocol.TypeAck)

	m.Leave(s, c1)

	// The flush is stalled on the gate; rejoin immediately.
	c2 := newTestClient("u2")
	_, err := m.Join("doc-1", c2)
	require.NoError(t, err)

	snap := recv(t, c2, protocol.TypeSnapshot)
	assert.Equal(t, "abc!", snap["content"])
	assert.Equal(t, float64(1), snap["version"])

	close(gate)
	require.Eventually(t, func() bool {
		saves := store.savedStates()
		return len(saves) == 1 && saves[0] == savedState{"doc-1", "abc!", 1}
	}, time.Second, 10*time.Millisecond)

	// c2 is still attached, so the session must survive the flush.
	assert.NotNil(t, m.Peek("doc-1"))
}

func TestLeaveAnnouncedToPeers(t *testing.T) {
	m := NewManager(newMockStore(), zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)
	c2 := newTestClient("u2")
	m.Join("doc-1", c2)
	recv(t, c1, protocol.TypePresence)
	recv(t, c2, protocol.TypeSnapshot)

	m.Leave(s, c2)

	left := recv(t, c1, protocol.TypeUserLeft)
	assert.Equal(t, "u2", left["userId"])
	assert.NotNil(t, m.Peek("doc-1"), "session stays alive while peers remain")
}

func TestExplicitSaveReportsOutcome(t *testing.T) {
	store := newMockStore()
	store.docs["doc-1"] = &db.Document{ID: "doc-1", Content: "abc", Version: 2}
	m := NewManager(store, zerolog.Nop())

	c1 := newTestClient("u1")
	s, _ := m.Join("doc-1", c1)
	recv(t, c1, protocol.TypeSnapshot)

	s.Save(c1, "abc", 2)
	saved := recv(t, c1, protocol.TypeSaved)
	assert.Equal(t, true, saved["ok"])

	store.mu.Lock()
	store.saveErr = errors.New("disk full")
	store.mu.Unlock()

	s.Save(c1, "abc", 2)
	saved = recv(t, c1, protocol.TypeSaved)
	assert.Equal(t, false, saved["ok"])
	assert.Contains(t, saved["message"], "disk full")
}

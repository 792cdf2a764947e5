// Package session owns the shared editing sessions: one Session per open
// document, holding the document's sequencer, the roster of connected
// participants, and the broadcast fan-out. Sessions are created when the
// first participant joins and flushed to the store and destroyed when the
// last one leaves.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"collab-sync/pkg/ot"
	"collab-sync/pkg/protocol"
	"collab-sync/pkg/sequencer"
)

// Session is one document's live editing session.
//
// Two locks split the work: mu guards the roster and presence state, opMu
// serializes Receive together with its broadcast so every participant sees
// canonical operations in version order. Different documents' sessions are
// fully independent.
type Session struct {
	DocumentID string

	seq     *sequencer.Sequencer
	manager *Manager
	log     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client // keyed by SessionID

	opMu    sync.Mutex
	flushMu sync.Mutex
}

func newSession(docID, content string, version int, m *Manager) *Session {
	log := m.log.With().Str("document", docID).Logger()
	return &Session{
		DocumentID: docID,
		seq:        sequencer.New(docID, content, version, log),
		manager:    m,
		log:        log,
		clients:    make(map[string]*Client),
	}
}

// addClient is called by the manager with its lock held, so joins cannot
// race with the last-leaver teardown.
func (s *Session) addClient(c *Client) {
	s.mu.Lock()
	c.lastActiveAt = time.Now()
	s.clients[c.SessionID] = c
	s.mu.Unlock()
}

// removeClient detaches c and reports whether the session is now empty.
func (s *Session) removeClient(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.SessionID]; !ok {
		return false
	}
	delete(s.clients, c.SessionID)
	close(c.Send)
	return len(s.clients) == 0
}

// welcome sends the authoritative snapshot and full roster to a joiner and
// announces the new presence to everyone else.
func (s *Session) welcome(c *Client) {
	content, version := s.seq.Snapshot()
	snap := protocol.Snapshot{
		Type:       protocol.TypeSnapshot,
		DocumentID: s.DocumentID,
		Content:    content,
		Version:    version,
		Peers:      s.Roster(),
	}
	c.deliver(protocol.Marshal(snap))

	s.broadcastOthers(c, protocol.Marshal(protocol.PresenceUpdate{
		Type:     protocol.TypePresence,
		Presence: c.presence(),
	}))

	s.log.Info().Str("user", c.UserID).Int("version", version).Msg("participant joined")
}

// Submit runs one client operation through the sequencer. On acceptance the
// author gets an ack and every other participant gets the canonical
// operation; on rejection only the author hears about it and document state
// is untouched. The lock is held across the fan-out so broadcasts leave in
// version order.
func (s *Session) Submit(c *Client, op ot.DocumentOperation) {
	op.DocumentID = s.DocumentID
	op.AuthorID = c.UserID

	s.opMu.Lock()
	defer s.opMu.Unlock()

	res, err := s.seq.Receive(op)
	if err != nil {
		s.log.Warn().Err(err).Str("op", op.ID).Str("user", c.UserID).Msg("operation rejected")
		c.deliver(protocol.Marshal(protocol.Error{
			Type:    protocol.TypeError,
			Code:    protocol.ErrorCode(err),
			OpID:    op.ID,
			Message: err.Error(),
		}))
		return
	}

	c.deliver(protocol.Marshal(protocol.Ack{
		Type:    protocol.TypeAck,
		OpID:    op.ID,
		Version: res.Version,
	}))
	s.broadcastOthers(c, protocol.Marshal(protocol.Operation{
		Type:      protocol.TypeOperation,
		Operation: res.Canonical,
	}))
}

// UpdateCursor records the participant's cursor and selection and fans the
// update out to the other participants. Never echoed back to the author and
// carries no ordering guarantee relative to operations.
func (s *Session) UpdateCursor(c *Client, upd protocol.CursorUpdate) {
	s.mu.Lock()
	c.cursor = upd.Cursor
	c.selection = upd.Selection
	c.lastActiveAt = time.Now()
	s.mu.Unlock()

	upd.Type = protocol.TypeCursor
	upd.UserID = c.UserID
	s.broadcastOthers(c, protocol.Marshal(upd))
}

// Save handles an explicit persistence request. It bypasses the transform
// path entirely; the caller is expected to already hold the latest version.
// Unlike background flushes, failures are reported to the caller.
func (s *Session) Save(c *Client, content string, version int) {
	if err := s.manager.store.SaveState(s.DocumentID, content, version); err != nil {
		s.log.Error().Err(err).Int("version", version).Msg("explicit save failed")
		c.deliver(protocol.Marshal(protocol.Saved{
			Type:    protocol.TypeSaved,
			OK:      false,
			Version: version,
			Message: err.Error(),
		}))
		return
	}
	c.deliver(protocol.Marshal(protocol.Saved{
		Type:    protocol.TypeSaved,
		OK:      true,
		Version: version,
	}))
}

// Snapshot returns the current authoritative content and version.
func (s *Session) Snapshot() (string, int) {
	return s.seq.Snapshot()
}

// Roster returns the presence of every connected participant.
func (s *Session) Roster() []protocol.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peers := make([]protocol.Presence, 0, len(s.clients))
	for _, c := range s.clients {
		peers = append(peers, c.presence())
	}
	return peers
}

func (s *Session) broadcastOthers(sender *Client, data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.SessionID == sender.SessionID {
			continue
		}
		c.deliver(data)
	}
}

// empty reports whether no participants remain.
func (s *Session) empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients) == 0
}

// flush persists the authoritative state with best-effort retries. Runs in
// the background; a lost flush is logged, never surfaced to clients.
// Flushes for one session serialize, and the snapshot is taken under the
// flush lock, so the store always receives the newest state last.
func (s *Session) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	content, version := s.seq.Snapshot()
	var err error
	for attempt := 1; attempt <= flushAttempts; attempt++ {
		if err = s.manager.store.SaveState(s.DocumentID, content, version); err == nil {
			s.log.Info().Int("version", version).Msg("document flushed")
			return
		}
		time.Sleep(time.Duration(attempt) * flushBackoff)
	}
	s.log.Error().Err(err).Int("version", version).Msg("document flush failed")
}

const (
	flushAttempts = 3
	flushBackoff  = 250 * time.Millisecond
)

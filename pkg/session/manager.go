package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"collab-sync/pkg/db"
	"collab-sync/pkg/protocol"
)

// Store is the slice of persistence the session lifecycle needs: hydration
// on first join and state flushes on teardown and explicit save.
type Store interface {
	GetDocument(id string) (*db.Document, error)
	SaveState(id string, content string, version int) error
}

// Manager owns one Session per active document id. Session creation and the
// last-leaver teardown both happen under the manager's lock, so a join can
// never attach to a session that is being torn down.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	store    Store
	log      zerolog.Logger
}

// NewManager creates a new session manager
func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// Join attaches a client to the document's session, creating and hydrating
// it from the store if this is the first participant. The joiner receives
// the snapshot and roster; existing participants are told about the new
// presence.
func (m *Manager) Join(docID string, c *Client) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[docID]
	if !ok {
		content, version := "", 0
		doc, err := m.store.GetDocument(docID)
		switch {
		case err == nil:
			content, version = doc.Content, doc.Version
		case errors.Is(err, db.ErrDocumentNotFound):
			// First time anyone opened this id; start empty.
		default:
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to hydrate document %s: %w", docID, err)
		}
		s = newSession(docID, content, version, m)
		m.sessions[docID] = s
	}
	s.addClient(c)
	m.mu.Unlock()

	s.welcome(c)
	return s, nil
}

// Leave detaches a client. Remaining participants are told; if the client
// was the last one, the session's state is flushed to the store and the
// session retired in the background.
func (m *Manager) Leave(s *Session, c *Client) {
	m.mu.Lock()
	last := s.removeClient(c)
	m.mu.Unlock()

	s.broadcastOthers(c, protocol.Marshal(protocol.UserLeft{
		Type:   protocol.TypeUserLeft,
		UserID: c.UserID,
	}))
	s.log.Info().Str("user", c.UserID).Msg("participant left")

	if last {
		go m.retire(s)
	}
}

// retire flushes the session's state and only then removes it from the
// registry, unless a participant reattached while the flush was in flight.
// The session stays in the map until the flush lands so that a rejoin
// during the flush attaches to the live state instead of hydrating a stale
// row from the store.
func (m *Manager) retire(s *Session) {
	s.flush()
	m.mu.Lock()
	if m.sessions[s.DocumentID] == s && s.empty() {
		delete(m.sessions, s.DocumentID)
	}
	m.mu.Unlock()
}

// Peek returns the live session for a document, or nil if nobody has it
// open. Unlike Join it never creates one.
func (m *Manager) Peek(docID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[docID]
}

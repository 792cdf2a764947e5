// Package handlers contains the HTTP and WebSocket handlers: the real-time
// collaboration endpoint plus the thin REST surface for the document
// catalog.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"collab-sync/pkg/db"
	"collab-sync/pkg/protocol"
	"collab-sync/pkg/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

// Handlers contains all HTTP and WebSocket handlers
type Handlers struct {
	manager *session.Manager
	store   db.IDocumentStore
	log     zerolog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(manager *session.Manager, store db.IDocumentStore, log zerolog.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		store:   store,
		log:     log.With().Str("component", "handlers").Logger(),
	}
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

// HandleWebSocket upgrades the connection and runs the per-connection
// pumps. The client's first message must be a join; everything before that
// is dropped.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	vars := mux.Vars(r)
	docID := vars["documentId"]

	client := &session.Client{
		SessionID: xid.New().String(),
		Send:      make(chan []byte, 256),
	}

	go h.writePump(client, conn)
	go h.readPump(client, conn, docID)
}

// readPump handles reading messages from the WebSocket
func (h *Handlers) readPump(c *session.Client, conn *websocket.Conn, docID string) {
	var s *session.Session
	defer func() {
		if s != nil {
			h.manager.Leave(s, c)
			conn.Close()
			return
		}
		// never joined: closing Send lets the write pump drain anything
		// still queued (such as an error frame) before it closes the
		// connection
		close(c.Send)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("conn", c.SessionID).Msg("websocket closed unexpectedly")
			}
			return
		}

		msgType, err := protocol.MessageType(data)
		if err != nil {
			h.log.Warn().Err(err).Str("conn", c.SessionID).Msg("unparseable message")
			continue
		}

		if s == nil {
			if msgType != protocol.TypeJoin {
				c.Send <- protocol.Marshal(protocol.Error{
					Type:    protocol.TypeError,
					Code:    protocol.CodeBadMessage,
					Message: "join required before " + msgType,
				})
				continue
			}
			var join protocol.Join
			if err := json.Unmarshal(data, &join); err != nil {
				h.log.Warn().Err(err).Msg("malformed join")
				continue
			}
			c.UserID = join.UserID
			if c.UserID == "" {
				c.UserID = c.SessionID
			}
			c.Name = join.Name
			if c.Name == "" {
				c.Name = "Anonymous"
			}
			c.Color = join.Color

			s, err = h.manager.Join(docID, c)
			if err != nil {
				h.log.Error().Err(err).Str("document", docID).Msg("join failed")
				c.Send <- protocol.Marshal(protocol.Error{
					Type:    protocol.TypeError,
					Code:    protocol.CodePersistenceFailure,
					Message: "failed to open document",
				})
				return
			}
			continue
		}

		switch msgType {
		case protocol.TypeOperation:
			var msg protocol.Operation
			if err := json.Unmarshal(data, &msg); err != nil {
				h.log.Warn().Err(err).Str("conn", c.SessionID).Msg("malformed operation")
				continue
			}
			s.Submit(c, msg.Operation)

		case protocol.TypeCursor:
			var msg protocol.CursorUpdate
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.UpdateCursor(c, msg)

		case protocol.TypeSave:
			var msg protocol.Save
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			s.Save(c, msg.Content, msg.Version)

		case protocol.TypeLeave:
			return

		case protocol.TypePing:
			// application-level ping
			c.Send <- []byte(`{"type":"pong"}`)

		default:
			h.log.Debug().Str("type", msgType).Str("conn", c.SessionID).Msg("unknown message type")
		}
	}
}

// writePump handles writing messages to the WebSocket
func (h *Handlers) writePump(c *session.Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// session detached us; say goodbye
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CreateDocument creates a new document
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		Content  string `json:"content"`
		Language string `json:"language"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	doc, err := h.store.CreateDocument(req.Title, req.Content, req.Language)
	if err != nil {
		h.log.Error().Err(err).Msg("create document failed")
		http.Error(w, "Failed to create document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// ListDocuments returns a list of documents
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.ListDocuments()
	if err != nil {
		h.log.Error().Err(err).Msg("list documents failed")
		http.Error(w, "Failed to list documents", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(docs)
}

// GetDocument retrieves a document by ID. If the document is open in a live
// session the authoritative in-memory state wins over the stored row; this
// is the snapshot endpoint clients use to resynchronize after a stale
// rejection.
func (h *Handlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	doc, err := h.store.GetDocument(id)
	if err != nil {
		http.Error(w, "Document not found", http.StatusNotFound)
		return
	}

	if s := h.manager.Peek(id); s != nil {
		doc.Content, doc.Version = s.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// UpdateDocument applies a partial metadata update to a document. Absent
// fields are left untouched; the version column is never moved here.
func (h *Handlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	var req db.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	doc, err := h.store.UpdateDocument(id, &req)
	if err != nil {
		if errors.Is(err, db.ErrDocumentNotFound) {
			http.Error(w, "Document not found", http.StatusNotFound)
			return
		}
		h.log.Error().Err(err).Str("document", id).Msg("update document failed")
		http.Error(w, "Failed to update document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// DeleteDocument deletes a document
func (h *Handlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if err := h.store.DeleteDocument(id); err != nil {
		http.Error(w, "Failed to delete document", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetDocumentPeers returns the presence roster for a document. Documents
// nobody has open report an empty roster; peeking never spins up a session.
func (h *Handlers) GetDocumentPeers(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	peers := []protocol.Presence{}
	if s := h.manager.Peek(id); s != nil {
		peers = s.Roster()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document_id": id,
		"peers":       peers,
	})
}

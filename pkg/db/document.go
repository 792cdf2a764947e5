package db

import (
	"errors"
	"time"
)

// ErrDocumentNotFound is returned when a document id does not exist.
var ErrDocumentNotFound = errors.New("document not found")

// Document represents a stored document. Version is the synchronization
// version assigned by the document's sequencer, not a row counter; it is
// written verbatim on every flush.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// IDocumentStore is the persistence interface consumed by the rest of the
// system: CRUD for the document catalog plus SaveState, which the sequencer
// lifecycle uses to flush authoritative state on teardown and explicit save.
type IDocumentStore interface {
	CreateDocument(title, content, language string) (*Document, error)
	GetDocument(id string) (*Document, error)
	// UpdateDocument applies partial metadata updates. Pointer fields in
	// DocumentUpdate distinguish "not provided" (nil) from "set to empty".
	UpdateDocument(id string, updates *DocumentUpdate) (*Document, error)
	DeleteDocument(id string) error
	ListDocuments() ([]*Document, error)
	// SaveState persists the authoritative content and version as-is.
	SaveState(id string, content string, version int) error
}

// DocumentUpdate represents partial updates to a document's metadata.
type DocumentUpdate struct {
	Title    *string `json:"title,omitempty"`
	Content  *string `json:"content,omitempty"`
	Language *string `json:"language,omitempty"`
}

// Package sequencer holds the authoritative state of one open document: its
// content, a monotonically increasing version, and a bounded log of recently
// accepted operations. Every content change for a document funnels through
// its sequencer, which assigns the total order that makes concurrent edits
// converge.
package sequencer

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"collab-sync/pkg/ot"
)

// HistoryLimit bounds the reconciliation window. Operations based on a
// version older than the oldest retained entry cannot be reconciled and are
// rejected with ErrStaleBeyondHistory.
const HistoryLimit = 100

// Result is the outcome of an accepted operation: the canonical (possibly
// transformed) operation stamped with the new version, plus the document
// state after applying it.
type Result struct {
	Canonical ot.DocumentOperation
	Content   string
	Version   int
}

// Sequencer serializes all edits to a single document. The mutex makes the
// per-document mutual-exclusion contract explicit: no two operations are
// ever applied against the same base concurrently.
type Sequencer struct {
	mu      sync.Mutex
	docID   string
	content string
	version int
	history []ot.DocumentOperation // ascending by version, len <= HistoryLimit
	log     zerolog.Logger
}

// New creates a sequencer hydrated with the document's persisted content and
// version. For a brand-new document both are zero values.
func New(docID, content string, version int, log zerolog.Logger) *Sequencer {
	return &Sequencer{
		docID:   docID,
		content: content,
		version: version,
		log:     log.With().Str("document", docID).Logger(),
	}
}

// Snapshot returns the current content and version.
func (s *Sequencer) Snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.content, s.version
}

// Receive reconciles and applies one client operation.
//
// An operation based on the current version applies directly. An operation
// based on an older version is first transformed against every retained
// operation it missed, oldest first, skipping entries from the same author
// (the client already accounts for its own edits). Operations claiming a
// future version, or predating the retained history, are rejected without
// touching document state.
func (s *Sequencer) Receive(op ot.DocumentOperation) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case op.BaseVersion > s.version:
		return nil, fmt.Errorf("%w: base %d, document at %d", ErrFutureVersion, op.BaseVersion, s.version)
	case op.BaseVersion < s.version:
		if op.BaseVersion < s.oldestReconcilable() {
			return nil, fmt.Errorf("%w: base %d, oldest retained %d", ErrStaleBeyondHistory, op.BaseVersion, s.oldestReconcilable())
		}
	}

	ops := op.Ops
	for _, past := range s.history {
		if past.Version <= op.BaseVersion || past.AuthorID == op.AuthorID {
			continue
		}
		ops = ot.TransformBatch(ops, past.Ops)
	}

	content, err := ot.ApplyAll(s.content, ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrApplyFailure, err)
	}

	s.content = content
	s.version++

	canonical := op
	canonical.Ops = ops
	canonical.Version = s.version
	s.history = append(s.history, canonical)
	if len(s.history) > HistoryLimit {
		s.history = s.history[len(s.history)-HistoryLimit:]
	}

	s.log.Debug().
		Str("op", op.ID).
		Str("author", op.AuthorID).
		Int("base", op.BaseVersion).
		Int("version", s.version).
		Msg("operation accepted")

	return &Result{Canonical: canonical, Content: s.content, Version: s.version}, nil
}

// oldestReconcilable returns the lowest base version that can still be
// reconciled. An operation based on version b missed every accepted
// operation stamped b+1 and later, so all of those must still be retained.
func (s *Sequencer) oldestReconcilable() int {
	if len(s.history) == 0 {
		return s.version
	}
	return s.history[0].Version - 1
}

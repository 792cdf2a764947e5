// Package client implements the editor-side half of the synchronization
// protocol: it tracks the last version acknowledged by the server, queues
// operations composed while disconnected, merges remote operations into the
// local buffer without disturbing the caret, and suppresses re-capture of
// remotely applied edits.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"collab-sync/pkg/ot"
)

// SubmitFunc sends a composed operation to the server. It is supplied by
// the transport; the reconciler does not know how delivery happens.
type SubmitFunc func(op ot.DocumentOperation) error

// Reconciler maintains one client's view of a shared document.
type Reconciler struct {
	mu sync.Mutex

	documentID string
	userID     string
	submit     SubmitFunc
	log        zerolog.Logger

	content string
	version int // last version believed authoritative
	caret   int

	queue          []ot.DocumentOperation // composed while disconnected, FIFO
	connected      bool
	applyingRemote bool
	onApply        func(content string, caret int)
}

// New creates a reconciler for one document. Call LoadSnapshot before
// editing.
func New(documentID, userID string, submit SubmitFunc, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		documentID: documentID,
		userID:     userID,
		submit:     submit,
		log:        log.With().Str("document", documentID).Logger(),
	}
}

// OnApply registers the host editor's buffer-update hook. It runs after
// each remote operation has been merged, while local change capture is
// suppressed, so a change event the editor fires while syncing its buffer
// is not re-submitted as a local edit.
func (r *Reconciler) OnApply(fn func(content string, caret int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onApply = fn
}

// LoadSnapshot resets the local buffer to the authoritative snapshot, e.g.
// after joining or after a stale-history rejection forced a resync.
func (r *Reconciler) LoadSnapshot(content string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content = content
	r.version = version
	if r.caret > len(content) {
		r.caret = len(content)
	}
}

// Edit records a local buffer change. The batch is applied to the local
// buffer immediately and submitted with the current believed version as its
// base; while disconnected it is queued instead. Calls made while a remote
// operation is being applied are ignored, so editor change-capture hooks do
// not re-submit remote edits as local ones.
func (r *Reconciler) Edit(ops ...ot.TextOperation) (string, error) {
	r.mu.Lock()
	if r.applyingRemote {
		r.mu.Unlock()
		return "", nil
	}

	content, err := ot.ApplyAll(r.content, ops)
	if err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("local edit failed: %w", err)
	}
	r.content = content
	for _, op := range ops {
		r.caret = adjustCaret(r.caret, op)
	}

	op := ot.DocumentOperation{
		ID:          uuid.New().String(),
		DocumentID:  r.documentID,
		AuthorID:    r.userID,
		BaseVersion: r.version,
		Ops:         ops,
		Timestamp:   time.Now().UnixMilli(),
	}

	if !r.connected {
		r.queue = append(r.queue, op)
		r.mu.Unlock()
		return op.ID, nil
	}
	r.mu.Unlock()

	if err := r.submit(op); err != nil {
		r.mu.Lock()
		r.connected = false
		r.queue = append(r.queue, op)
		r.mu.Unlock()
		return op.ID, fmt.Errorf("submit failed, operation queued: %w", err)
	}
	return op.ID, nil
}

// Connect flushes the outbound queue in FIFO order and resumes live
// submission. If a flush fails the remaining operations stay queued and the
// reconciler goes back to disconnected.
func (r *Reconciler) Connect() error {
	r.mu.Lock()
	pending := r.queue
	r.queue = nil
	r.connected = true
	r.mu.Unlock()

	for i, op := range pending {
		if err := r.submit(op); err != nil {
			r.mu.Lock()
			r.connected = false
			r.queue = append(pending[i:], r.queue...)
			r.mu.Unlock()
			return fmt.Errorf("flush failed at %d of %d: %w", i, len(pending), err)
		}
	}
	return nil
}

// Disconnect switches to offline mode; subsequent edits are queued.
func (r *Reconciler) Disconnect() {
	r.mu.Lock()
	r.connected = false
	r.mu.Unlock()
}

// ApplyRemote merges a canonical operation from another participant into
// the local buffer, preserving the caret's logical position. Operations at
// or below the believed version are replays and are skipped by version
// check rather than reapplied.
func (r *Reconciler) ApplyRemote(op ot.DocumentOperation) error {
	r.mu.Lock()

	if op.Version != 0 && op.Version <= r.version {
		r.log.Debug().Str("op", op.ID).Int("version", op.Version).Msg("replay skipped")
		r.mu.Unlock()
		return nil
	}

	// The batch's positions are each relative to the buffer as the previous
	// element left it, so applying in order accumulates the running offset.
	content := r.content
	caret := r.caret
	for _, t := range op.Ops {
		var err error
		if content, err = ot.Apply(content, t); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("remote operation %s: %w", op.ID, err)
		}
		caret = adjustCaretRemote(caret, t)
	}

	r.content = content
	r.caret = caret
	if op.Version > 0 {
		r.version = op.Version
	}

	// The hook runs outside the lock but with capture suppression still
	// raised, so an Edit fired from inside it is dropped instead of
	// deadlocking or echoing the remote change back to the server.
	hook := r.onApply
	r.applyingRemote = true
	r.mu.Unlock()

	if hook != nil {
		hook(content, caret)
	}

	r.mu.Lock()
	r.applyingRemote = false
	r.mu.Unlock()
	return nil
}

// Ack adopts the version the server assigned to a locally submitted
// operation.
func (r *Reconciler) Ack(opID string, version int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if version > r.version {
		r.version = version
	}
	r.log.Debug().Str("op", opID).Int("version", version).Msg("acknowledged")
}

// Content returns the local buffer.
func (r *Reconciler) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

// Version returns the last believed authoritative version.
func (r *Reconciler) Version() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Caret returns the local caret offset.
func (r *Reconciler) Caret() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caret
}

// SetCaret moves the local caret, clamped to the buffer.
func (r *Reconciler) SetCaret(pos int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > len(r.content) {
		pos = len(r.content)
	}
	r.caret = pos
}

// Pending returns the number of queued operations awaiting a reconnect.
func (r *Reconciler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// adjustCaret moves the caret for a locally authored edit: typing at the
// caret advances it.
func adjustCaret(caret int, op ot.TextOperation) int {
	switch op.Kind {
	case ot.Insert:
		if op.Position <= caret {
			return caret + len(op.Text)
		}
	case ot.Delete:
		caret -= removedBefore(caret, op)
	}
	return caret
}

// adjustCaretRemote moves the caret for a peer's edit: an insert exactly at
// the caret stays to its right, so the local caret does not jump.
func adjustCaretRemote(caret int, op ot.TextOperation) int {
	switch op.Kind {
	case ot.Insert:
		if op.Position < caret {
			return caret + len(op.Text)
		}
	case ot.Delete:
		caret -= removedBefore(caret, op)
	}
	return caret
}

// removedBefore returns how many deleted characters lie before the caret.
func removedBefore(caret int, op ot.TextOperation) int {
	if op.Position >= caret {
		return 0
	}
	end := op.Position + op.Length
	if end > caret {
		end = caret
	}
	return end - op.Position
}

package sequencer

import "errors"

// Rejections returned by Receive. All of them leave document state
// untouched and concern only the submitting client.
var (
	// ErrStaleBeyondHistory means the operation's base version predates the
	// oldest retained history entry; the client must resynchronize from the
	// authoritative snapshot and resubmit.
	ErrStaleBeyondHistory = errors.New("base version predates retained history")

	// ErrFutureVersion means the client claimed a version the document has
	// not reached yet, which indicates a protocol or state bug.
	ErrFutureVersion = errors.New("base version is ahead of document version")

	// ErrApplyFailure means the operation is malformed and could not be
	// applied even after clamping.
	ErrApplyFailure = errors.New("operation could not be applied")
)

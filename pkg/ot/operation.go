package ot

import (
	"errors"
	"fmt"
)

// Operation kinds.
const (
	Insert = "insert"
	Delete = "delete"
)

var ErrInvalidOperation = errors.New("invalid operation")

// TextOperation is one atomic edit against a text buffer. Position is a
// 0-based character offset into the pre-operation buffer; out-of-range
// positions are clamped, never rejected.
type TextOperation struct {
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
}

// DocumentOperation is an authored batch of text operations submitted
// together. Ops apply left-to-right, each against the result of the
// previous. BaseVersion is the document version the author believed they
// were editing; Version is stamped by the sequencer on acceptance.
type DocumentOperation struct {
	ID          string          `json:"id"`
	DocumentID  string          `json:"documentId"`
	AuthorID    string          `json:"authorId"`
	BaseVersion int             `json:"baseVersion"`
	Version     int             `json:"version,omitempty"`
	Ops         []TextOperation `json:"ops"`
	Timestamp   int64           `json:"timestamp"`
}

func clamp(pos, max int) int {
	if pos < 0 {
		return 0
	}
	if pos > max {
		return max
	}
	return pos
}

// Apply applies a single operation to content. Positions are clamped to
// [0, len(content)] and over-long deletes are truncated to the end of the
// buffer. Only a malformed operation (unknown kind, negative length) is an
// error.
func Apply(content string, op TextOperation) (string, error) {
	switch op.Kind {
	case Insert:
		pos := clamp(op.Position, len(content))
		return content[:pos] + op.Text + content[pos:], nil
	case Delete:
		if op.Length < 0 {
			return "", fmt.Errorf("%w: negative delete length %d", ErrInvalidOperation, op.Length)
		}
		pos := clamp(op.Position, len(content))
		end := pos + op.Length
		if end > len(content) {
			end = len(content)
		}
		return content[:pos] + content[end:], nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
}

// ApplyAll applies a batch in order, each op against the evolving buffer.
func ApplyAll(content string, ops []TextOperation) (string, error) {
	var err error
	for _, op := range ops {
		if content, err = Apply(content, op); err != nil {
			return "", err
		}
	}
	return content, nil
}

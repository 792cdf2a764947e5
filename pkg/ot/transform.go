package ot

// Transform rewrites a (issued against the pre-b state) so that applying b
// then the result yields a's intended effect. Only a is rewritten; the
// caller is expected to hold b fixed, which is what the sequencer does when
// it folds an incoming operation over already-accepted history.
//
// Insert-insert ties at the same position keep a in place, so the op that
// reached the sequencer first wins the slot.
func Transform(a, b TextOperation) TextOperation {
	switch {
	case a.Kind == Insert && b.Kind == Insert:
		if a.Position <= b.Position {
			return a
		}
		a.Position += len(b.Text)
		return a

	case a.Kind == Insert && b.Kind == Delete:
		switch {
		case a.Position <= b.Position:
			return a
		case a.Position >= b.Position+b.Length:
			a.Position -= b.Length
			return a
		default:
			// Insert point fell inside the deleted range; pull it to the
			// deletion point.
			a.Position = b.Position
			return a
		}

	case a.Kind == Delete && b.Kind == Insert:
		switch {
		case a.Position >= b.Position:
			a.Position += len(b.Text)
			return a
		case a.Position+a.Length <= b.Position:
			return a
		default:
			// Inserted text landed inside the deleted range and must be
			// consumed too.
			a.Length += len(b.Text)
			return a
		}

	case a.Kind == Delete && b.Kind == Delete:
		aEnd, bEnd := a.Position+a.Length, b.Position+b.Length
		switch {
		case aEnd <= b.Position:
			return a
		case a.Position >= bEnd:
			a.Position -= b.Length
			return a
		default:
			overlap := minInt(aEnd, bEnd) - maxInt(a.Position, b.Position)
			a.Length -= overlap
			a.Position = minInt(a.Position, b.Position)
			if a.Length <= 0 {
				// Fully consumed by b; degenerate to a no-op.
				a.Length = 0
			}
			return a
		}
	}
	return a
}

// TransformBatch transforms every element of as against every element of bs,
// in bs order, accumulating. Used to reconcile a whole client batch against
// every missed operation, oldest first.
func TransformBatch(as, bs []TextOperation) []TextOperation {
	out := make([]TextOperation, len(as))
	copy(out, as)
	for _, b := range bs {
		for i := range out {
			out[i] = Transform(out[i], b)
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

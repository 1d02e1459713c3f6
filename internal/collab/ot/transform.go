// Package ot rewrites incoming edit operations against the operations
// applied after their base version, so they land correctly on current
// content. Everything here is pure computation: no locks, no I/O, and the
// same inputs always produce the same transformed operation.
package ot

import (
	"fmt"

	"coedit/internal/collab/model"
)

// Transform walks every applied operation with a sequence number greater
// than the incoming operation's base version, in sequence order, and
// adjusts the incoming offsets. Overlap with a prior delete clips the
// incoming range to the surviving text and flags the conflict; an incoming
// ranged edit that is swallowed whole is marked superseded for the
// resolver to reject.
func Transform(op model.Operation, history []model.Operation) model.Operation {
	for _, h := range history {
		if h.Seq <= op.BaseVersion {
			continue
		}
		if h.Status == model.OpRejected {
			continue
		}
		if h.Path != op.Path {
			continue
		}
		switch h.Kind {
		case model.OpInsert:
			op = shiftForInsert(op, h.Start, runeLen(h.Text))
		case model.OpDelete:
			op = shiftForDelete(op, h.Start, h.End)
		case model.OpReplace:
			op = shiftForDelete(op, h.Start, h.End)
			op = shiftForInsert(op, h.Start, runeLen(h.Replacement))
		case model.OpFormat:
			// Formatting never moves text.
		}
	}
	return op
}

// shiftForInsert accounts for a prior insert of length n at position p.
// Ties go to the prior operation: an insert at the same position lands
// after it, which keeps concurrent inserts in first-writer order.
func shiftForInsert(op model.Operation, p, n int) model.Operation {
	if n == 0 {
		return op
	}
	switch {
	case p <= op.Start:
		op.Start += n
		op.End += n
	case p < op.End:
		// The prior insert landed inside the incoming range. The range
		// still has to cover every character it originally targeted, so
		// it grows around the insertion.
		op.End += n
		op.HasConflict = true
	}
	return op
}

// shiftForDelete accounts for a prior delete of the range [s, e).
func shiftForDelete(op model.Operation, s, e int) model.Operation {
	if e <= s {
		return op
	}
	overlaps := s < op.End && op.Start < e
	if op.Start == op.End {
		// Pure insert: only its position moves.
		inside := s < op.Start && op.Start < e
		op.Start = mapIndex(op.Start, s, e)
		op.End = op.Start
		if inside {
			op.HasConflict = true
		}
		return op
	}
	op.Start = mapIndex(op.Start, s, e)
	op.End = mapIndex(op.End, s, e)
	if overlaps {
		op.HasConflict = true
		if op.Start == op.End {
			// Nothing the edit targeted survived the delete.
			op.RejectedKind = model.RejectSupersededByDelete
		}
	}
	if op.Kind == model.OpDelete || op.Kind == model.OpReplace {
		op.Length = op.End - op.Start
	}
	return op
}

// mapIndex maps a rune index through a prior delete of [s, e): indexes
// before the cut keep their value, indexes past it shift left, and indexes
// inside collapse onto the cut point.
func mapIndex(i, s, e int) int {
	switch {
	case i <= s:
		return i
	case i >= e:
		return i - (e - s)
	default:
		return s
	}
}

// Apply applies a transformed operation to a content buffer and returns
// the new buffer. Offsets are rune offsets; an out-of-range operation is
// an error, never a silent clamp.
func Apply(content string, op model.Operation) (string, error) {
	runes := []rune(content)
	if op.Start < 0 || op.End < op.Start || op.End > len(runes) {
		return content, fmt.Errorf("operation range [%d,%d) outside content of length %d",
			op.Start, op.End, len(runes))
	}
	switch op.Kind {
	case model.OpInsert:
		out := make([]rune, 0, len(runes)+runeLen(op.Text))
		out = append(out, runes[:op.Start]...)
		out = append(out, []rune(op.Text)...)
		out = append(out, runes[op.Start:]...)
		return string(out), nil
	case model.OpDelete:
		out := append(append([]rune{}, runes[:op.Start]...), runes[op.End:]...)
		return string(out), nil
	case model.OpReplace:
		out := make([]rune, 0, len(runes))
		out = append(out, runes[:op.Start]...)
		out = append(out, []rune(op.Replacement)...)
		out = append(out, runes[op.End:]...)
		return string(out), nil
	case model.OpFormat:
		return content, nil
	default:
		return content, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func runeLen(s string) int { return len([]rune(s)) }

package ot

import "coedit/internal/collab/model"

// Resolution notes recorded on conflicted operations for the audit trail.
const (
	noteSupersededByDelete = "target range removed by a concurrent delete"
	noteClippedRange       = "range clipped to text surviving a concurrent delete"
	noteInsertRelocated    = "insert position collapsed onto a concurrent delete"
	noteReplaceCollision   = "overlapping replace operations; latest sequence retained"
)

// Resolve applies the conflict policy to a transformed operation. The
// common non-overlapping case passes through untouched. Edits swallowed by
// a concurrent delete are rejected so the author can re-derive against the
// new state; everything else is resolved automatically. A replace-over-
// replace collision keeps the later sequence and comes back in the
// transitional conflicted state; once the session applies it, the status
// moves on to applied with the conflict flag and note retained.
// Resolution never blocks.
func Resolve(op model.Operation) (model.Operation, string) {
	if op.RejectedKind == model.RejectSupersededByDelete {
		op.Status = model.OpRejected
		op.Resolution = noteSupersededByDelete
		return op, op.Resolution
	}
	if !op.HasConflict {
		return op, ""
	}
	switch op.Kind {
	case model.OpInsert:
		// Inserts are never discarded; the transformer already relocated
		// this one to the nearest surviving position.
		op.Resolution = noteInsertRelocated
	case model.OpReplace:
		op.Status = model.OpConflicted
		op.Resolution = noteReplaceCollision
	default:
		op.Resolution = noteClippedRange
	}
	return op, op.Resolution
}

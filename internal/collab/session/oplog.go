package session

import "coedit/internal/collab/model"

// OpLog is the append-only, per-session operation log and the single point
// where sequence numbers are handed out. It is owned by the coordinator
// goroutine and therefore needs no locking. Sequence numbers continue the
// content's stored version line: a session opened over content at version
// N hands out N+1, N+2, ..., strictly in acceptance order and gap-free.
// Rejected operations never reach Append and so never consume a number.
type OpLog struct {
	base     int64
	ops      []model.Operation
	byClient map[string]int64
}

// NewOpLog starts a log whose first accepted operation gets base+1, so
// sequence numbers and content versions stay on one number line.
func NewOpLog(base int64) *OpLog {
	return &OpLog{base: base, byClient: make(map[string]int64)}
}

// Base returns the version the session opened at. Operations based on
// anything older predate the in-memory history and cannot be transformed.
func (l *OpLog) Base() int64 { return l.base }

// Append accepts an operation into history and returns its assigned
// sequence number. Once appended an operation is immutable; corrections
// happen through new operations.
func (l *OpLog) Append(op model.Operation) int64 {
	op.Seq = l.base + int64(len(l.ops)) + 1
	l.ops = append(l.ops, op)
	l.byClient[clientKey(op.UserID, op.ClientOpID)] = op.Seq
	return op.Seq
}

// Since returns all operations with a sequence number greater than
// fromSeq, in order. The slice aliases the log; callers must not mutate it.
func (l *OpLog) Since(fromSeq int64) []model.Operation {
	if fromSeq < l.base {
		fromSeq = l.base
	}
	idx := fromSeq - l.base
	if idx >= int64(len(l.ops)) {
		return nil
	}
	return l.ops[idx:]
}

// Len returns the highest assigned sequence number, which is also the
// current content version.
func (l *OpLog) Len() int64 { return l.base + int64(len(l.ops)) }

// Lookup finds a previously accepted operation by its author and
// client-assigned id, used to make resubmission idempotent.
func (l *OpLog) Lookup(userID, clientOpID string) (model.Operation, bool) {
	seq, ok := l.byClient[clientKey(userID, clientOpID)]
	if !ok {
		return model.Operation{}, false
	}
	return l.ops[seq-l.base-1], true
}

func clientKey(userID, clientOpID string) string { return userID + "\x00" + clientOpID }

package crdt

import (
	"sort"

	"collabfs/internal/model"
)

// opEntry pairs an append-only log entry with the id that minted it, so
// duplicate delivery (the same id arriving twice) can be recognized and
// ignored — append-only, never retracted, per the op-log invariant.
type opEntry struct {
	id ID
	op model.Operation
}

// OpLog is the document's append-only operation log. Unlike ORMap, entries
// are never removed or overwritten; ordering for iteration is by the
// session-assigned fencing Token (with the minting ID as a tiebreak for the
// pathological case of two entries sharing a token across hub restarts,
// since a Session's token counter starts again from zero).
type OpLog struct {
	entries map[ID]opEntry
}

func NewOpLog() *OpLog {
	return &OpLog{entries: make(map[ID]opEntry)}
}

// Append records op under id. Returns false if id was already recorded.
func (l *OpLog) Append(id ID, op model.Operation) bool {
	if _, exists := l.entries[id]; exists {
		return false
	}
	l.entries[id] = opEntry{id: id, op: op}
	return true
}

// Entries returns every recorded operation ordered by (Token, ID).
func (l *OpLog) Entries() []model.Operation {
	all := make([]opEntry, 0, len(l.entries))
	for _, e := range l.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].op.Token != all[j].op.Token {
			return all[i].op.Token < all[j].op.Token
		}
		return all[i].id.Less(all[j].id)
	})
	ops := make([]model.Operation, len(all))
	for i, e := range all {
		ops[i] = e.op
	}
	return ops
}

// Len returns the number of entries.
func (l *OpLog) Len() int {
	return len(l.entries)
}

package crdt

import (
	"sort"
	"strings"
)

// element is a single character node in a Text. visible=false means
// tombstoned: still present for causal ordering, no longer rendered.
type element struct {
	id      ID
	value   rune
	visible bool
}

// Text is a sequence CRDT for one file's content: a simplified RGA
// (Replicated Growable Array), lifted directly from the example
// character-CRDT in aggregat4-go-crdtnotes and generalized to take its
// identifiers from the document's shared ID space instead of minting its
// own per-text clock. Concurrent inserts at the same position converge
// deterministically because children of a parent are kept in descending
// (Counter, Replica) order, newest first, so a new character renders right
// after its parent; concurrent insert/delete never lose a character because
// deletes only ever tombstone, never splice.
type Text struct {
	elems    map[ID]*element
	children map[ID][]ID
	waitIns  map[ID][]insertChange // inserts buffered on a missing parent
	waitDel  map[ID][]ID           // deletes buffered on a missing target
	head     ID

	visibleCount int
	cachedText   string
	dirty        bool
}

type insertChange struct {
	id     ID
	parent ID
	value  rune
}

// NewText creates an empty text CRDT. head is a sentinel id that never
// renders; every Text uses the same fixed head id, so an insert at index 0
// that names it as its parent on the wire resolves to the receiving
// replica's own sentinel.
func NewText() *Text {
	t := &Text{
		elems:    make(map[ID]*element),
		children: make(map[ID][]ID),
		waitIns:  make(map[ID][]insertChange),
		waitDel:  make(map[ID][]ID),
		head:     ID{Replica: "\x00head", Counter: 0},
	}
	t.elems[t.head] = &element{id: t.head, visible: false}
	return t
}

// Text renders the visible characters in document order.
func (t *Text) Text() string {
	if !t.dirty {
		return t.cachedText
	}
	var b strings.Builder
	t.walk(t.head, &b)
	t.cachedText = b.String()
	t.dirty = false
	return t.cachedText
}

// Len returns the number of visible characters.
func (t *Text) Len() int {
	return t.visibleCount
}

func (t *Text) walk(parent ID, b *strings.Builder) {
	for _, id := range t.children[parent] {
		e := t.elems[id]
		if e.visible {
			b.WriteRune(e.value)
		}
		t.walk(id, b)
	}
}

// ParentForIndex maps a visible insertion index (0..Len()) to the id that a
// new character inserted at that index should be linked after.
func (t *Text) ParentForIndex(index int) ID {
	if index <= 0 {
		return t.head
	}
	if id, ok := t.idByIndex(index - 1); ok {
		return id
	}
	return t.lastVisibleOrHead()
}

// TargetForIndex maps a visible index to the id of the character currently
// at that position, for delete.
func (t *Text) TargetForIndex(index int) (ID, bool) {
	return t.idByIndex(index)
}

// ApplyInsert integrates a (possibly remote) insertion. If the parent is not
// yet known, the insert is buffered until it arrives. Applying the same id
// twice is a no-op.
func (t *Text) ApplyInsert(id, parent ID, value rune) {
	if _, exists := t.elems[id]; exists {
		return
	}
	if _, ok := t.elems[parent]; !ok {
		t.waitIns[parent] = append(t.waitIns[parent], insertChange{id: id, parent: parent, value: value})
		return
	}
	e := &element{id: id, value: value, visible: true}
	t.elems[id] = e
	t.children[parent] = insertSorted(t.children[parent], id)
	t.visibleCount++
	t.dirty = true

	if dels := t.waitDel[id]; len(dels) > 0 {
		delete(t.waitDel, id)
		for _, target := range dels {
			t.ApplyDelete(target)
		}
	}
	if queued := t.waitIns[id]; len(queued) > 0 {
		delete(t.waitIns, id)
		for _, ic := range queued {
			t.ApplyInsert(ic.id, ic.parent, ic.value)
		}
	}
}

// ApplyDelete tombstones the element with the given target id. If the
// target is unknown yet, the delete is buffered. Deleting an already
// tombstoned (or not-yet-visible) element is a no-op, which is what makes
// repeated delivery of the same delete idempotent.
func (t *Text) ApplyDelete(target ID) {
	if e, ok := t.elems[target]; ok {
		if e.visible {
			e.visible = false
			t.visibleCount--
			t.dirty = true
		}
		return
	}
	t.waitDel[target] = append(t.waitDel[target], target)
}

func (t *Text) lastVisibleOrHead() ID {
	var last ID
	seen := false
	var dfs func(parent ID)
	dfs = func(parent ID) {
		for _, id := range t.children[parent] {
			if t.elems[id].visible {
				last = id
				seen = true
			}
			dfs(id)
		}
	}
	dfs(t.head)
	if seen {
		return last
	}
	return t.head
}

func (t *Text) idByIndex(index int) (ID, bool) {
	count := -1
	var found ID
	var dfs func(parent ID) bool
	dfs = func(parent ID) bool {
		for _, id := range t.children[parent] {
			e := t.elems[id]
			if e.visible {
				count++
				if count == index {
					found = id
					return true
				}
			}
			if dfs(id) {
				return true
			}
		}
		return false
	}
	if dfs(t.head) {
		return found, true
	}
	return ID{}, false
}

// insertSorted inserts x into ids keeping descending (Counter, Replica)
// order via binary search + splice.
func insertSorted(ids []ID, x ID) []ID {
	pos := sort.Search(len(ids), func(i int) bool {
		return ids[i].Less(x)
	})
	ids = append(ids, ID{})
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = x
	return ids
}

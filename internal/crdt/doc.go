package crdt

import (
	"fmt"
	"sync"

	"collabfs/internal/model"
)

// UpdateListener is notified once per Transaction with the batch of Changes
// it produced and the origin string the caller supplied. Origin discipline
// (the loop-prevention rule) is the listener's responsibility, not
// this package's: Document just reports where a batch came from.
type UpdateListener func(changes []Change, origin string)

// Document is one collaborative file tree: a shared ID space, one Text per
// file content object, and three ORMap/OpLog containers indexed by path or
// user id. It is the in-memory core that Session wraps with participant
// bookkeeping and fencing tokens.
//
// The state vector this package tracks is deliberately a best-effort
// "highest counter integrated per replica", not a strictly contiguous
// per-replica sequence number: this system explicitly tolerates a simplified
// from-scratch CRDT here, and a contiguous vector would need a buffering
// scheme this system has no other use for. See DESIGN.md.
type Document struct {
	mu sync.Mutex

	replicaID   string
	nextCounter uint64

	clock map[string]uint64 // replica -> highest counter integrated
	seen  map[ID]bool       // change ids already applied, for idempotence

	history []Change // every integrated change, in application order

	texts    map[ID]*Text // text-object id -> its content CRDT
	contents *ORMap[ID]   // path -> text-object id
	tree     *ORMap[model.FileMeta]
	activity *ORMap[model.Activity]
	oplog    *OpLog

	listeners []UpdateListener
}

// NewDocument creates an empty Document minting ids under replicaID. For a
// hub session replicaID is the session id; for a client replica it is the
// client's user id.
func NewDocument(replicaID string) *Document {
	return &Document{
		replicaID: replicaID,
		clock:     make(map[string]uint64),
		seen:      make(map[ID]bool),
		texts:     make(map[ID]*Text),
		contents:  NewORMap[ID](),
		tree:      NewORMap[model.FileMeta](),
		activity:  NewORMap[model.Activity](),
		oplog:     NewOpLog(),
	}
}

// OnUpdate registers a listener invoked after every Transaction.
func (d *Document) OnUpdate(l UpdateListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

// Txn is the mutation surface handed to a Transaction's function. Every
// method mints a fresh ID under the document's own replica and applies the
// change locally before recording it, so the transaction's own listener
// notification already reflects the new state.
type Txn struct {
	doc     *Document
	changes []Change
}

func (d *Document) mint() ID {
	d.nextCounter++
	id := ID{Replica: d.replicaID, Counter: d.nextCounter}
	return id
}

func (t *Txn) record(c Change) {
	t.doc.integrate(c)
	t.changes = append(t.changes, c)
}

// TextFor returns the Text object currently bound to path in fileContents,
// creating and binding a fresh one if path has no content object yet.
func (t *Txn) TextFor(path string) *Text {
	if ref, ok := t.doc.contents.Get(path); ok {
		if txt, ok := t.doc.texts[ref]; ok {
			return txt
		}
	}
	ref := t.doc.mint()
	txt := NewText()
	t.doc.texts[ref] = txt
	t.record(Change{ID: t.doc.mint(), Kind: chContentsPut, Key: path, TextRef: ref})
	return txt
}

// InsertText inserts value into path's text object at the given visible
// index. Used internally by WriteFile; exposed for fine-grained concurrent
// character-level edits (the insert/delete primitives).
func (t *Txn) InsertText(path string, index int, value rune) {
	txt := t.TextFor(path)
	parent := txt.ParentForIndex(index)
	ref, _ := t.doc.contents.Get(path)
	id := t.doc.mint()
	t.record(Change{ID: id, Kind: chTextInsert, TextID: ref, Parent: parent, Value: value})
}

// DeleteText tombstones the character at the given visible index of path's
// text object, if any.
func (t *Txn) DeleteText(path string, index int) {
	ref, ok := t.doc.contents.Get(path)
	if !ok {
		return
	}
	txt := t.doc.texts[ref]
	target, ok := txt.TargetForIndex(index)
	if !ok {
		return
	}
	id := t.doc.mint()
	t.record(Change{ID: id, Kind: chTextDelete, TextID: ref, Target: target})
}

// WriteFile replaces (mode=overwrite) or extends (mode=append) path's
// content with data, creating the file and its fileTree entry if it does
// not exist yet. The caller (Session) is responsible for fencing-token
// bookkeeping; WriteFile just applies the resulting character-level inserts
// and the metadata update as one batch.
func (t *Txn) WriteFile(path string, data string, mode model.WriteMode, by string, timestampMs int64, token int64) {
	txt := t.TextFor(path)

	if mode == model.WriteOverwrite {
		for txt.Len() > 0 {
			t.DeleteText(path, 0)
		}
		for i, r := range []rune(data) {
			t.InsertText(path, i, r)
		}
	} else {
		start := txt.Len()
		for i, r := range []rune(data) {
			t.InsertText(path, start+i, r)
		}
	}

	meta := model.FileMeta{
		Kind:           model.FileKindFile,
		LastModifiedMs: timestampMs,
		LastModifiedBy: by,
		Token:          token,
		SizeBytes:      int64(len(txt.Text())),
	}
	id := t.doc.mint()
	t.record(Change{ID: id, Kind: chTreePut, Key: path, Meta: meta})
}

// MoveFile re-keys fileContents and fileTree from oldPath to newPath without
// touching the underlying text object, so the moved file is the same object
// at the byte level, not a copy, satisfying the "identical content at the
// moment of the operation" invariant trivially.
func (t *Txn) MoveFile(oldPath, newPath string, by string, timestampMs int64, token int64) {
	ref, ok := t.doc.contents.Get(oldPath)
	if !ok {
		return
	}
	meta, _ := t.doc.tree.Get(oldPath)
	meta.LastModifiedMs = timestampMs
	meta.LastModifiedBy = by
	meta.Token = token

	t.record(Change{ID: t.doc.mint(), Kind: chContentsPut, Key: newPath, TextRef: ref})
	t.record(Change{ID: t.doc.mint(), Kind: chTreePut, Key: newPath, Meta: meta})
	t.record(Change{ID: t.doc.mint(), Kind: chContentsDelete, Key: oldPath})
	t.record(Change{ID: t.doc.mint(), Kind: chTreeDelete, Key: oldPath})
}

// DeleteFile tombstones path's fileTree and fileContents entries. The
// underlying Text object is left in the document so any update still in
// flight that references its id integrates harmlessly; it is simply no
// longer reachable from any live path.
func (t *Txn) DeleteFile(path string) {
	t.record(Change{ID: t.doc.mint(), Kind: chContentsDelete, Key: path})
	t.record(Change{ID: t.doc.mint(), Kind: chTreeDelete, Key: path})
}

// AppendOp records one entry in the append-only operation log.
func (t *Txn) AppendOp(op model.Operation) {
	t.record(Change{ID: t.doc.mint(), Kind: chOpLogAppend, Op: op})
}

// UpdateActivity replaces a participant's presence record.
func (t *Txn) UpdateActivity(userID string, activity model.Activity) {
	t.record(Change{ID: t.doc.mint(), Kind: chActivityPut, Key: userID, Activity: activity})
}

// RemoveActivity tombstones a participant's presence record, used when they
// leave the session.
func (t *Txn) RemoveActivity(userID string) {
	t.record(Change{ID: t.doc.mint(), Kind: chActivityDelete, Key: userID})
}

// Transaction runs fn against a fresh Txn, then notifies every registered
// listener once with the whole batch fn produced — "a
// transaction batches into a single update notification" contract. A
// transaction that produces no changes notifies no one.
func (d *Document) Transaction(origin string, fn func(*Txn)) []Change {
	d.mu.Lock()
	txn := &Txn{doc: d}
	fn(txn)
	changes := txn.changes
	listeners := append([]UpdateListener(nil), d.listeners...)
	d.mu.Unlock()

	if len(changes) == 0 {
		return nil
	}
	for _, l := range listeners {
		l(changes, origin)
	}
	return changes
}

// integrate applies a single Change to the in-memory containers. Callers
// must hold d.mu. Applying an id already in d.seen is a no-op, which is what
// makes ApplyUpdate safe to call with overlapping or replayed batches.
func (d *Document) integrate(c Change) {
	if d.seen[c.ID] {
		return
	}
	d.seen[c.ID] = true
	if c.ID.Counter > d.clock[c.ID.Replica] {
		d.clock[c.ID.Replica] = c.ID.Counter
	}
	// Ids minted after this one must outrank it under ID.Less.
	if c.ID.Counter > d.nextCounter {
		d.nextCounter = c.ID.Counter
	}

	switch c.Kind {
	case chTextInsert:
		txt := d.textByRef(c.TextID)
		txt.ApplyInsert(c.ID, c.Parent, c.Value)
	case chTextDelete:
		txt := d.textByRef(c.TextID)
		txt.ApplyDelete(c.Target)
	case chContentsPut:
		if _, exists := d.texts[c.TextRef]; !exists {
			d.texts[c.TextRef] = NewText()
		}
		d.contents.Put(c.Key, c.ID, c.TextRef)
	case chContentsDelete:
		d.contents.Delete(c.Key, c.ID)
	case chTreePut:
		d.tree.Put(c.Key, c.ID, c.Meta)
	case chTreeDelete:
		d.tree.Delete(c.Key, c.ID)
	case chActivityPut:
		d.activity.Put(c.Key, c.ID, c.Activity)
	case chActivityDelete:
		d.activity.Delete(c.Key, c.ID)
	case chOpLogAppend:
		d.oplog.Append(c.ID, c.Op)
	}

	d.history = append(d.history, c)
}

func (d *Document) textByRef(ref ID) *Text {
	txt, ok := d.texts[ref]
	if !ok {
		txt = NewText()
		d.texts[ref] = txt
	}
	return txt
}

// ApplyUpdate integrates a remote batch of Changes decoded from a sync
// frame, then notifies listeners exactly as Transaction does. origin
// identifies where the batch came from, so callers enforce the
// hub-does-not-echo-hub-origin-updates rule described above.
func (d *Document) ApplyUpdate(changes []Change, origin string) {
	d.mu.Lock()
	fresh := make([]Change, 0, len(changes))
	for _, c := range changes {
		if d.seen[c.ID] {
			continue
		}
		d.integrate(c)
		fresh = append(fresh, c)
	}
	listeners := append([]UpdateListener(nil), d.listeners...)
	d.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	for _, l := range listeners {
		l(fresh, origin)
	}
}

// StateVector reports the highest counter integrated per replica, used to
// answer a sync-step-0 request with exactly the changes the requester is
// missing.
func (d *Document) StateVector() map[string]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := make(map[string]uint64, len(d.clock))
	for replica, counter := range d.clock {
		v[replica] = counter
	}
	return v
}

// Diff returns every integrated Change whose id is not already reflected in
// remote, in application order. It is the sync-step-1 payload computed
// against a peer's state vector.
func (d *Document) Diff(remote map[string]uint64) []Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	var missing []Change
	for _, c := range d.history {
		if c.ID.Counter > remote[c.ID.Replica] {
			missing = append(missing, c)
		}
	}
	return missing
}

// History returns every integrated change, for snapshotting.
func (d *Document) History() []Change {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Change(nil), d.history...)
}

// HasFile reports whether path currently has a live fileTree entry.
func (d *Document) HasFile(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tree.Has(path)
}

// ReadFile returns path's current text content.
func (d *Document) ReadFile(path string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ref, ok := d.contents.Get(path)
	if !ok {
		return "", fmt.Errorf("crdt: read %q: %w", path, model.ErrFileMissing)
	}
	txt, ok := d.texts[ref]
	if !ok {
		return "", fmt.Errorf("crdt: read %q: %w", path, model.ErrFileMissing)
	}
	return txt.Text(), nil
}

// FileMeta returns path's current metadata.
func (d *Document) FileMeta(path string) (model.FileMeta, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tree.Get(path)
}

// ListFiles returns every live path in sorted order.
func (d *Document) ListFiles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tree.Keys()
}

// Activities returns every live participant's current presence record.
func (d *Document) Activities() []model.Activity {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.Activity, 0, d.activity.Len())
	for _, key := range d.activity.Keys() {
		a, _ := d.activity.Get(key)
		out = append(out, a)
	}
	return out
}

// Operations returns the full op log ordered by (Token, ID).
func (d *Document) Operations() []model.Operation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oplog.Entries()
}

// Stats summarizes the document for the "joined" frame's data.stats field.
func (d *Document) Stats(participants int) model.SessionStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return model.SessionStats{
		Participants: participants,
		Files:        d.tree.Len(),
		OpLogLength:  d.oplog.Len(),
	}
}

package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"collabfs/internal/crdt"
	"collabfs/internal/model"
)

func TestBoltStorePutGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer store.Close()

	doc := crdt.NewDocument("r1")
	doc.Transaction("local", func(txn *crdt.Txn) {
		txn.WriteFile("/a.txt", "hello", model.WriteOverwrite, "alice", 1, 1)
	})
	data := crdt.EncodeChanges(doc.History())

	ctx := context.Background()
	if err := store.Put(ctx, "sess-1", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	if string(got) != string(data) {
		t.Fatal("round-tripped bytes differ from what was written")
	}
}

func TestBoltStoreGetAbsentReportsNotOk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	store, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	defer store.Close()

	_, ok, err := store.Get(context.Background(), "never-written")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a session with no snapshot")
	}
}

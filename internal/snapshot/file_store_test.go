package snapshot

import (
	"context"
	"testing"

	"collabfs/internal/crdt"
	"collabfs/internal/model"
)

func TestFileStorePutGetRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	doc := crdt.NewDocument("r1")
	doc.Transaction("local", func(txn *crdt.Txn) {
		txn.WriteFile("/a.txt", "hello", model.WriteOverwrite, "alice", 1, 1)
	})
	data := crdt.EncodeChanges(doc.History())

	if err := store.Put(ctx, "sess-1", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v, %v", got, ok, err)
	}
	changes, err := crdt.DecodeChanges(got)
	if err != nil {
		t.Fatalf("DecodeChanges: %v", err)
	}
	if len(changes) != len(doc.History()) {
		t.Fatalf("roundtrip lost changes: got %d, want %d", len(changes), len(doc.History()))
	}
}

func TestFileStoreGetAbsentReportsNotOk(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
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

func TestFileStoreCorruptBytesReportNotOk(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "torn", []byte{0xFF, 0xFF, 0xFF}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, ok, err := store.Get(ctx, "torn")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an undecodable snapshot")
	}
}
